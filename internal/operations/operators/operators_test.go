package operators

import (
	"context"
	"testing"
	"time"

	"github.com/biotracer/agent/internal/container"
	"github.com/biotracer/agent/internal/events"
	"github.com/biotracer/agent/internal/kernel/communication"
	"github.com/biotracer/agent/internal/process"
	"github.com/biotracer/agent/internal/targets"
	"github.com/biotracer/agent/internal/tracker"
	"github.com/biotracer/agent/internal/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type noContainers struct{}

func (noContainers) Resolve(pid types.Pid) *container.Info {
	return &container.Info{Env: map[string]string{}}
}

type staticSource struct {
	snapshot *process.Snapshot
	err      error
}

func (s *staticSource) Snapshot(ctx context.Context) (*process.Snapshot, error) {
	return s.snapshot, s.err
}

func newTracker(t *testing.T, recorder *events.Recorder, names ...string) *tracker.Tracker {
	list := make([]targets.Target, 0, len(names))
	for _, name := range names {
		list = append(list, targets.Target{Name: targets.Exact(name)})
	}
	catalog, err := targets.NewCatalog(list)
	require.NoError(t, err)

	config := &tracker.Config{MetricsInterval: time.Second, WarmupPolls: 2}
	return tracker.NewTracker(zap.NewNop(), config, catalog, recorder, noContainers{})
}

func TestTakeSnapshot(t *testing.T) {
	cycle := &Cycle{}
	snapshot := process.NewSnapshot(now)

	operator := &TakeSnapshot{Source: &staticSource{snapshot: snapshot}, Cycle: cycle}
	require.NoError(t, operator.Operate(context.Background()))
	assert.Same(t, snapshot, cycle.Snapshot)
	assert.True(t, operator.StopOnFailure())

	failing := &TakeSnapshot{Source: &staticSource{err: errors.New("denied")}, Cycle: cycle}
	assert.Error(t, failing.Operate(context.Background()))

	empty := &TakeSnapshot{Source: &staticSource{}, Cycle: cycle}
	assert.Error(t, empty.Operate(context.Background()))
}

func TestShortLivedProcesses(t *testing.T) {
	recorder := events.NewRecorder()
	processTracker := newTracker(t, recorder, "gzip", "bwa")

	running := &process.Properties{Pid: 30, ParentPid: 1, Name: "bwa", Args: []string{"bwa"}, CreateTime: now}
	cycle := &Cycle{Snapshot: process.NewSnapshot(now, running)}
	cycle.QueueExec(communication.Exec{Pid: 20, Name: "gzip"})
	cycle.QueueExec(communication.Exec{Pid: 21, Name: "ls"})
	cycle.QueueExec(communication.Exec{Pid: 30, Name: "bwa"})

	operator := &ShortLivedProcesses{Logger: zap.NewNop(), Tracker: processTracker, Cycle: cycle}
	require.NoError(t, operator.Operate(context.Background()))

	assert.Equal(t, 1, recorder.Count(events.TypeToolExecution))
	assert.Contains(t, recorder.Events()[0].Message, "Short lived process: gzip")
	assert.Empty(t, cycle.drainExecs())

	require.NoError(t, operator.Operate(context.Background()))
	assert.Equal(t, 1, recorder.Count(events.TypeToolExecution))
}

func TestShortLivedProcessesSkipMergeTargets(t *testing.T) {
	merged := targets.Target{Name: targets.Exact("samtools"), MergeWithParents: true}
	catalog, err := targets.NewCatalog([]targets.Target{merged})
	require.NoError(t, err)

	recorder := events.NewRecorder()
	config := &tracker.Config{MetricsInterval: time.Second, WarmupPolls: 2}
	processTracker := tracker.NewTracker(zap.NewNop(), config, catalog, recorder, noContainers{})

	snapshot := process.NewSnapshot(now,
		&process.Properties{Pid: 1, ParentPid: 0, Name: "nextflow", Args: []string{"nextflow"}, CreateTime: now},
		&process.Properties{Pid: 40, ParentPid: 1, Name: "samtools", Args: []string{"samtools", "sort"}, CreateTime: now},
	)
	require.NoError(t, processTracker.PollProcesses(snapshot, nil))
	require.Equal(t, 1, processTracker.Len())
	executions := recorder.Count(events.TypeToolExecution)

	cycle := &Cycle{Snapshot: snapshot}
	cycle.QueueExec(communication.Exec{Pid: 41, Name: "samtools"})
	operator := &ShortLivedProcesses{Logger: zap.NewNop(), Tracker: processTracker, Cycle: cycle}
	require.NoError(t, operator.Operate(context.Background()))

	assert.Equal(t, 1, processTracker.Len())
	assert.False(t, processTracker.Tracks(40))
	assert.Equal(t, executions, recorder.Count(events.TypeToolExecution))
}

func TestProcessOperatorsFollowTrackerLifecycle(t *testing.T) {
	recorder := events.NewRecorder()
	processTracker := newTracker(t, recorder, "bwa")

	cycle := &Cycle{}
	source := &staticSource{snapshot: process.NewSnapshot(now,
		&process.Properties{Pid: 30, ParentPid: 1, Name: "bwa", Args: []string{"bwa", "mem"}, CreateTime: now})}

	ops := []Operator{
		&TakeSnapshot{Source: source, Cycle: cycle},
		&TrackProcesses{Tracker: processTracker, Cycle: cycle},
		&ProcessMetrics{Tracker: processTracker, Cycle: cycle},
		&RemoveCompleted{Tracker: processTracker, Cycle: cycle},
	}
	run := func() {
		for _, operator := range ops {
			require.NoError(t, operator.Operate(context.Background()), operator.Name())
		}
	}

	run()
	assert.Equal(t, 1, processTracker.Len())
	assert.Equal(t, 1, recorder.Count(events.TypeToolExecution))

	source.snapshot = process.NewSnapshot(now)
	run()
	assert.Equal(t, 0, processTracker.Len())
	assert.Equal(t, 1, recorder.Count(events.TypeFinishedToolExecution))
}
