package exporters

import (
	"context"

	"github.com/biotracer/agent/internal/events"
)

// Exporter ships a batch of drained events to a backend. A batch is exported at most once;
// a failed batch is not retried.
type Exporter interface {
	Name() string
	Export(ctx context.Context, runName string, batch []events.Event) error
	Close() error
}
