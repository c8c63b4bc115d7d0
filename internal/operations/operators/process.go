package operators

import (
	"context"

	agentErrors "github.com/biotracer/agent/internal/errors"
	"github.com/biotracer/agent/internal/process"
	"github.com/biotracer/agent/internal/tracker"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TakeSnapshot refreshes the cycle's process snapshot.
type TakeSnapshot struct {
	Source process.Source
	Cycle  *Cycle
}

func (ts *TakeSnapshot) Name() string {
	return "take-snapshot-operator"
}

func (ts *TakeSnapshot) Operate(ctx context.Context) error {
	snapshot, err := ts.Source.Snapshot(ctx)
	if err != nil {
		return agentErrors.WrappedErrTakeSnapshot(err)
	}
	if snapshot == nil {
		return agentErrors.WrappedErrTakeSnapshot(errors.New("empty snapshot"))
	}
	ts.Cycle.Snapshot = snapshot
	return nil
}

func (ts *TakeSnapshot) StopOnFailure() bool {
	return true
}

// TrackProcesses starts tracking new matches, directly and through the process tree.
type TrackProcesses struct {
	Tracker *tracker.Tracker
	Files   tracker.FileLookup
	Cycle   *Cycle
}

func (tp *TrackProcesses) Name() string {
	return "track-processes-operator"
}

func (tp *TrackProcesses) Operate(ctx context.Context) error {
	return tp.Tracker.PollProcesses(tp.Cycle.Snapshot, tp.Files)
}

func (tp *TrackProcesses) StopOnFailure() bool {
	return true
}

// ShortLivedProcesses records exec notifications that no poll observed as a tracked process.
type ShortLivedProcesses struct {
	Logger  *zap.Logger
	Tracker *tracker.Tracker
	Cycle   *Cycle
}

func (sl *ShortLivedProcesses) Name() string {
	return "short-lived-processes-operator"
}

func (sl *ShortLivedProcesses) Operate(ctx context.Context) error {
	for _, exec := range sl.Cycle.drainExecs() {
		if sl.Tracker.Tracks(exec.Pid) {
			continue
		}
		// Merge targets are tracked through their group representative, never on their own.
		if _, found := sl.Tracker.Catalog().Match(exec.Name, "", ""); !found {
			continue
		}
		if properties, alive := sl.Cycle.Snapshot.Get(exec.Pid); alive && properties.Name == exec.Name {
			// Still running: the tree passes decide whether and how it is tracked.
			continue
		}

		sl.Logger.Debug("Recording short lived process", zap.Int32("Pid", int32(exec.Pid)), zap.String("Name", exec.Name))
		sl.Tracker.FillShortLivedProcess(sl.Tracker.GatherShortLivedProcess(sl.Cycle.Snapshot, exec.Name))
	}
	return nil
}

func (sl *ShortLivedProcesses) StopOnFailure() bool {
	return false
}

// ProcessMetrics emits due metrics, ends the poll for new processes and retires finished ones.
type ProcessMetrics struct {
	Tracker *tracker.Tracker
	Cycle   *Cycle
}

func (pm *ProcessMetrics) Name() string {
	return "process-metrics-operator"
}

func (pm *ProcessMetrics) Operate(ctx context.Context) error {
	if err := pm.Tracker.PollProcessMetrics(pm.Cycle.Snapshot); err != nil {
		return errors.WithMessage(err, "poll process metrics")
	}
	pm.Tracker.ResetJustStarted()
	return nil
}

func (pm *ProcessMetrics) StopOnFailure() bool {
	return false
}

type RemoveCompleted struct {
	Tracker *tracker.Tracker
	Cycle   *Cycle
}

func (rc *RemoveCompleted) Name() string {
	return "remove-completed-operator"
}

func (rc *RemoveCompleted) Operate(ctx context.Context) error {
	return rc.Tracker.RemoveCompletedProcesses(rc.Cycle.Snapshot)
}

func (rc *RemoveCompleted) StopOnFailure() bool {
	return false
}
