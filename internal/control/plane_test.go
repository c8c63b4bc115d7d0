package control

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/biotracer/agent/internal/config"
	"github.com/biotracer/agent/internal/control/client"
	"github.com/biotracer/agent/internal/control/messages"
	"github.com/biotracer/agent/internal/events"
	"github.com/biotracer/agent/internal/exporters"
	"github.com/biotracer/agent/internal/kernel/communication"
	"github.com/biotracer/agent/internal/process"
	"github.com/biotracer/agent/internal/targets"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type fakeSource struct {
	ready *atomic.Bool
}

func (f *fakeSource) Snapshot(ctx context.Context) (*process.Snapshot, error) {
	if !f.ready.Load() {
		return process.NewSnapshot(time.Now()), nil
	}
	fastqc := proc(10, "fastqc")
	fastqc.CreateTime = time.Now().Add(-time.Minute)
	return process.NewSnapshot(time.Now(), fastqc), nil
}

type noopUploader struct{}

func (n *noopUploader) Upload(ctx context.Context, name, path string) error {
	return nil
}

type memoryExporter struct {
	lock   sync.Mutex
	byRun  map[string][]events.Event
	closed bool
}

func newMemoryExporter() *memoryExporter {
	return &memoryExporter{byRun: make(map[string][]events.Event)}
}

func (m *memoryExporter) Name() string {
	return "memory"
}

func (m *memoryExporter) Export(ctx context.Context, runName string, batch []events.Event) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.byRun[runName] = append(m.byRun[runName], batch...)
	return nil
}

func (m *memoryExporter) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.closed = true
	return nil
}

func (m *memoryExporter) messages(runName string) []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	collected := make([]string, 0)
	for _, event := range m.byRun[runName] {
		collected = append(collected, event.Message)
	}
	return collected
}

func (m *memoryExporter) hasMessageWithSuffix(runName, suffix string) bool {
	for _, message := range m.messages(runName) {
		if strings.HasSuffix(message, suffix) {
			return true
		}
	}
	return false
}

type failingExporter struct{}

func (f *failingExporter) Name() string {
	return "failing"
}

func (f *failingExporter) Export(ctx context.Context, runName string, batch []events.Event) error {
	return errors.New("service unavailable")
}

func (f *failingExporter) Close() error {
	return nil
}

type fakeExecs struct {
	execs  chan communication.Exec
	closed *atomic.Bool
}

func (f *fakeExecs) ListenForExecs() {}

func (f *fakeExecs) ExecsChan() <-chan communication.Exec {
	return f.execs
}

func (f *fakeExecs) Close() error {
	f.closed.Store(true)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.ProcessPollingInterval = time.Millisecond * 100
	cfg.BatchSubmissionInterval = time.Second
	cfg.FilePollingInterval = time.Second
	cfg.MetricsInterval = time.Second
	cfg.WarmupPolls = 0
	cfg.WorkflowDirectory = filepath.Join(dir, "workflow")
	cfg.CacheDirectory = filepath.Join(dir, "cache")
	cfg.SocketPath = filepath.Join(dir, "d.sock")
	cfg.Targets = []targets.Target{byName("fastqc")}
	return cfg
}

func TestPlaneEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	source := &fakeSource{ready: atomic.NewBool(false)}
	exporter := newMemoryExporter()
	execs := &fakeExecs{execs: make(chan communication.Exec, 1), closed: atomic.NewBool(false)}

	plane, err := NewPlane(context.Background(), zap.NewNop(), cfg, "", &Dependencies{
		Source:     source,
		Uploader:   &noopUploader{},
		Containers: &fakeContainers{},
		Exporters:  []exporters.Exporter{exporter, &failingExporter{}},
		Host:       &fakeHost{},
		Execs:      execs,
	})
	require.NoError(t, err)
	require.NoError(t, plane.Start())
	require.Error(t, plane.Start())

	socketClient := client.NewSocketClient(cfg.SocketPath)
	send := func(request *messages.Request) {
		_, err := socketClient.Send(context.Background(), request)
		require.NoError(t, err)
	}

	send(&messages.Request{Command: messages.CommandStart, RunName: "rnaseq"})
	source.ready.Store(true)

	require.Eventually(t, func() bool {
		response, err := socketClient.Send(context.Background(), &messages.Request{Command: messages.CommandInfo})
		return err == nil && response.Tracked == 1
	}, time.Second*5, time.Millisecond*50)

	execs.execs <- communication.Exec{Pid: 99, Name: "fastqc"}
	send(&messages.Request{Command: messages.CommandLog, Message: "sample batch 1"})

	require.Eventually(t, func() bool {
		return exporter.hasMessageWithSuffix("rnaseq", "Short lived process: fastqc")
	}, time.Second*5, time.Millisecond*100)

	send(&messages.Request{Command: messages.CommandStop})
	plane.WaitUntilCompletion()
	require.NoError(t, plane.Stop())
	require.NoError(t, plane.Stop())

	assert.True(t, exporter.hasMessageWithSuffix("rnaseq", "Run rnaseq started"))
	assert.True(t, exporter.hasMessageWithSuffix("rnaseq", "Tool process: fastqc"))
	assert.Contains(t, exporter.messages("rnaseq"), "sample batch 1")
	assert.True(t, exporter.closed)
	assert.True(t, execs.closed.Load())
}

func TestPlaneStopWithoutStart(t *testing.T) {
	plane, err := NewPlane(context.Background(), zap.NewNop(), testConfig(t), "", &Dependencies{
		Source:     &fakeSource{ready: atomic.NewBool(false)},
		Containers: &fakeContainers{},
	})
	require.NoError(t, err)
	assert.NoError(t, plane.Stop())
	plane.WaitUntilCompletion()
}

func TestNewPlaneRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSubmissionInterval = time.Millisecond

	_, err := NewPlane(context.Background(), zap.NewNop(), cfg, "", &Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch submission interval")
}

func TestGroupByRun(t *testing.T) {
	drained := []events.Event{
		{ID: "1", RunName: "b"},
		{ID: "2"},
		{ID: "3", RunName: "b"},
		{ID: "4", RunName: "a"},
	}

	batches := groupByRun(drained)
	require.Len(t, batches, 3)
	assert.Equal(t, "b", batches[0].runName)
	assert.Len(t, batches[0].events, 2)
	assert.Equal(t, "", batches[1].runName)
	assert.Equal(t, "a", batches[2].runName)
	assert.Equal(t, "4", batches[2].events[0].ID)
}
