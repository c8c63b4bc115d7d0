package exporters

import (
	"context"

	"github.com/biotracer/agent/internal/client/models"
	"github.com/biotracer/agent/internal/events"
)

// EventSender posts event batches to the collector service.
type EventSender interface {
	SendEvents(batch *models.EventBatch) error
}

// ServiceExporter forwards events to the collector service.
type ServiceExporter struct {
	sender EventSender
}

func NewServiceExporter(sender EventSender) *ServiceExporter {
	return &ServiceExporter{sender: sender}
}

func (se *ServiceExporter) Name() string {
	return "service"
}

func (se *ServiceExporter) Export(ctx context.Context, runName string, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}
	return se.sender.SendEvents(&models.EventBatch{RunName: runName, Events: batch})
}

func (se *ServiceExporter) Close() error {
	return nil
}
