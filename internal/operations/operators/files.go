package operators

import (
	"context"

	"github.com/biotracer/agent/internal/files"
)

// PollFiles runs one scan and diff cycle over the workflow directory.
type PollFiles struct {
	Watcher *files.Watcher
	Root    string
}

func (pf *PollFiles) Name() string {
	return "poll-files-operator"
}

func (pf *PollFiles) Operate(ctx context.Context) error {
	return pf.Watcher.PollFiles(ctx, pf.Root)
}

func (pf *PollFiles) StopOnFailure() bool {
	return false
}
