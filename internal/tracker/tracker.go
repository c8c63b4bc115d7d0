package tracker

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/biotracer/agent/internal/container"
	"github.com/biotracer/agent/internal/events"
	"github.com/biotracer/agent/internal/files"
	"github.com/biotracer/agent/internal/process"
	"github.com/biotracer/agent/internal/targets"
	"github.com/biotracer/agent/internal/types"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"
)

const previewSize = 10

var ErrNegativeDuration = errors.New("process finished before it was first observed")

// FileLookup resolves command line arguments to watched files.
type FileLookup interface {
	FileByPathSuffix(suffix string) (*files.Info, bool)
}

// ContainerResolver returns the container identity of a pid. It must not fail.
type ContainerResolver interface {
	Resolve(pid types.Pid) *container.Info
}

type Config struct {
	// MetricsInterval is the minimum time between two metric events of one process.
	MetricsInterval time.Duration
	// WarmupPolls is the number of polls a new process is left alone before its first metrics.
	WarmupPolls       int
	DatasetExtensions []string
}

type trackedProcess struct {
	name        string
	createTime  time.Time
	firstSeen   time.Time
	schedule    schedule
	justStarted bool
	// container is resolved once per tracked process; nil until first needed.
	container *container.Info
}

// ShortLivedProcess is a process reported out of band, typically one that started and
// exited between two polls.
type ShortLivedProcess struct {
	Command    string
	Pid        types.Pid
	Timestamp  time.Time
	Properties *events.ProcessProperties

	container *container.Info
}

// Tracker is the lifecycle state machine over matched processes. It is driven by one poll
// loop and is not safe for concurrent use.
type Tracker struct {
	logger     *zap.Logger
	config     *Config
	catalog    *targets.Catalog
	seen       map[types.Pid]*trackedProcess
	tree       process.Tree
	datasets   *DatasetTracker
	containers ContainerResolver
	sink       events.Sink
	clock      func() time.Time
}

func NewTracker(rootLogger *zap.Logger, config *Config, catalog *targets.Catalog, sink events.Sink,
	containers ContainerResolver) *Tracker {
	return &Tracker{
		logger:     rootLogger.Named("process-tracker"),
		config:     config,
		catalog:    catalog,
		seen:       make(map[types.Pid]*trackedProcess),
		tree:       make(process.Tree),
		datasets:   NewDatasetTracker(config.DatasetExtensions),
		containers: containers,
		sink:       sink,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// PollProcesses starts tracking every untracked process that directly matches a target, then
// resolves the merge targets through the process tree.
func (t *Tracker) PollProcesses(snapshot *process.Snapshot, files FileLookup) error {
	if snapshot == nil {
		return errors.New("nil snapshot")
	}

	for _, pid := range snapshot.Pids() {
		if _, tracked := t.seen[pid]; tracked {
			continue
		}

		properties := snapshot.Processes[pid]
		target, found := t.catalog.Match(properties.Name, properties.Cmdline(), properties.Exe)
		if !found {
			continue
		}

		t.logger.Debug("Matched process",
			zap.Int32("Pid", int32(pid)),
			zap.String("Name", properties.Name),
			zap.Strings("Args", properties.Args))
		t.addNewProcess(properties, target, files)
	}

	return t.ParseProcessTree(snapshot, files)
}

type gatherCandidate struct {
	pid    types.Pid
	target *targets.Target
}

// ParseProcessTree rebuilds the process tree and starts tracking one representative ancestor
// per group of processes matched by a merge target.
func (t *Tracker) ParseProcessTree(snapshot *process.Snapshot, files FileLookup) error {
	if snapshot == nil {
		return errors.New("nil snapshot")
	}

	t.tree = process.BuildTree(snapshot)

	candidates := make([]gatherCandidate, 0)
	queued := make(map[gatherCandidate]struct{})

	for _, target := range t.catalog.MergeTargets() {
		target := target
		matching := t.tree.Matching(func(node *process.Node) bool {
			return target.Matches(node.Properties.Name, node.Properties.Cmdline(), node.Properties.Exe)
		})

		for _, pid := range t.tree.RepresentativeAncestors(matching, target.ForceAncestorMatch) {
			candidate := gatherCandidate{pid: pid, target: target}
			if _, found := queued[candidate]; found {
				continue
			}
			queued[candidate] = struct{}{}
			candidates = append(candidates, candidate)
		}
	}

	for _, candidate := range candidates {
		if _, tracked := t.seen[candidate.pid]; tracked {
			continue
		}

		properties, found := snapshot.Get(candidate.pid)
		if !found {
			t.logger.Debug("Representative process not found", zap.Int32("Pid", int32(candidate.pid)))
			continue
		}
		t.addNewProcess(properties, candidate.target, files)
	}

	return nil
}

func (t *Tracker) addNewProcess(properties *process.Properties, target *targets.Target, files FileLookup) {
	now := t.clock()
	funcLogger := t.logger.With(zap.Int32("Pid", int32(properties.Pid)))

	displayName, err := target.ResolveDisplayName(properties.Name, properties.Args)
	if err != nil {
		funcLogger.Debug("Failed to resolve display name, using process name", zap.Error(err))
	}

	tracked := &trackedProcess{
		name:        displayName,
		createTime:  properties.CreateTime,
		firstSeen:   now,
		schedule:    warmingUp(t.config.WarmupPolls),
		justStarted: true,
		container:   t.containers.Resolve(properties.Pid),
	}
	t.seen[properties.Pid] = tracked

	attributes := t.processProperties(properties, displayName, now, tracked.container)
	attributes.InputFiles = inputFiles(properties.Args, files)

	funcLogger.Info("Tool process started", zap.String("ToolName", displayName))
	t.sink.Record(events.TypeToolExecution,
		fmt.Sprintf("[%s] Tool process: %s", now.Format(time.RFC3339), displayName),
		attributes, null.Time{})

	t.recordDatasets(properties.Args, now)
}

func (t *Tracker) recordDatasets(args []string, now time.Time) {
	t.datasets.Add(args)

	t.sink.Record(events.TypeDataSamples,
		fmt.Sprintf("[%s] Samples Processed So Far", now.Format(time.RFC3339)),
		&events.DataSetsProcessed{
			Datasets: t.datasets.Joined(),
			Total:    uint64(t.datasets.Len()),
		}, null.Time{})
}

// inputFiles cross references arguments with watched files. Flags are skipped; for key=value
// arguments both the value and the whole argument are looked up.
func inputFiles(args []string, lookup FileLookup) []events.InputFile {
	found := make([]events.InputFile, 0)
	if lookup == nil {
		return found
	}

	candidates := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if parts := strings.Split(arg, "="); len(parts) > 1 {
			candidates = append(candidates, parts[1])
		}
		candidates = append(candidates, arg)
	}

	added := make(map[string]struct{})
	for _, candidate := range candidates {
		info, ok := lookup.FileByPathSuffix(candidate)
		if !ok {
			continue
		}
		if _, duplicate := added[info.Path]; duplicate {
			continue
		}
		added[info.Path] = struct{}{}

		found = append(found, events.InputFile{
			FileName:               info.Name,
			FileSize:               info.Size,
			FilePath:               info.Path,
			FileDirectory:          info.Directory,
			FileUpdatedAtTimestamp: info.LastUpdate.Format(time.RFC3339),
		})
	}
	return found
}

func (t *Tracker) processProperties(properties *process.Properties, displayName string,
	now time.Time, containerInfo *container.Info) *events.ProcessProperties {
	started := properties.CreateTime
	if started.IsZero() {
		started = now
	}

	return &events.ProcessProperties{
		ToolName:                          displayName,
		ToolPid:                           properties.Pid.String(),
		ToolParentPid:                     properties.ParentPid.String(),
		ToolBinaryPath:                    properties.Exe,
		ToolCmd:                           properties.Cmdline(),
		StartTimestamp:                    started.Format(time.RFC3339),
		ProcessCpuUtilization:             properties.CpuPercent,
		ProcessRunTime:                    types.WholeSeconds(properties.RunTime(now)),
		ProcessDiskUsageReadTotal:         properties.DiskReadTotal,
		ProcessDiskUsageWriteTotal:        properties.DiskWriteTotal,
		ProcessDiskUsageReadLastInterval:  properties.DiskReadLastInterval,
		ProcessDiskUsageWriteLastInterval: properties.DiskWriteLastInterval,
		ProcessMemoryUsage:                properties.MemoryRss,
		ProcessMemoryVirtual:              properties.MemoryVms,
		ProcessStatus:                     properties.Status,
		InputFiles:                        make([]events.InputFile, 0),
		ContainerID:                       containerInfo.ContainerID,
		AwsBatchJobID:                     containerInfo.AwsBatchJobID,
	}
}

func (t *Tracker) containerOf(pid types.Pid, tracked *trackedProcess) *container.Info {
	if tracked.container == nil {
		tracked.container = t.containers.Resolve(pid)
	}
	return tracked.container
}

// sameProcess reports whether properties still describe the tracked process rather than a new
// one that reused its pid.
func sameProcess(tracked *trackedProcess, properties *process.Properties) bool {
	if tracked.createTime.IsZero() || properties.CreateTime.IsZero() {
		return true
	}
	return tracked.createTime.Equal(properties.CreateTime)
}

// PollProcessMetrics advances the metric schedule of every tracked process that is still alive
// and was not started during this poll.
func (t *Tracker) PollProcessMetrics(snapshot *process.Snapshot) error {
	if snapshot == nil {
		return errors.New("nil snapshot")
	}

	for _, pid := range t.trackedPids() {
		tracked := t.seen[pid]
		if tracked.justStarted {
			continue
		}

		properties, found := snapshot.Get(pid)
		if !found || !sameProcess(tracked, properties) {
			continue
		}

		now := t.clock()
		if !tracked.schedule.advance(now, t.config.MetricsInterval) {
			continue
		}

		t.sink.Record(events.TypeToolMetric,
			fmt.Sprintf("[%s] Tool metric event: %s", now.Format(time.RFC3339), tracked.name),
			t.processProperties(properties, tracked.name, now, t.containerOf(pid, tracked)), null.Time{})
	}

	return nil
}

// ResetJustStarted ends the poll for freshly tracked processes so the next metrics pass can
// act on them.
func (t *Tracker) ResetJustStarted() {
	for _, tracked := range t.seen {
		tracked.justStarted = false
	}
}

// RemoveCompletedProcesses stops tracking processes that are gone from the snapshot, or whose
// pid now belongs to another process, and records their completion. A completion whose
// duration cannot be computed is skipped and reported without stopping the pass.
func (t *Tracker) RemoveCompletedProcesses(snapshot *process.Snapshot) error {
	if snapshot == nil {
		return errors.New("nil snapshot")
	}

	var errs error
	for _, pid := range t.trackedPids() {
		tracked := t.seen[pid]
		if properties, found := snapshot.Get(pid); found && sameProcess(tracked, properties) {
			continue
		}

		if err := t.recordCompletion(pid, tracked); err != nil {
			t.logger.Warn("Skipping completion event", zap.Int32("Pid", int32(pid)), zap.Error(err))
			errs = multierror.Append(errs, errors.WithMessagef(err, "complete pid %d", pid))
		}
		delete(t.seen, pid)
	}

	return errs
}

func (t *Tracker) recordCompletion(pid types.Pid, tracked *trackedProcess) error {
	now := t.clock()
	duration := now.Sub(tracked.firstSeen)
	if duration < 0 {
		return ErrNegativeDuration
	}

	t.sink.Record(events.TypeFinishedToolExecution,
		fmt.Sprintf("[%s] %s exited", now.Format(time.RFC3339), tracked.name),
		&events.CompletedProcess{
			ToolName:    tracked.name,
			ToolPid:     pid.String(),
			DurationSec: types.WholeSeconds(duration),
		}, null.Time{})
	return nil
}

// GatherShortLivedProcess describes a process known only by name. The most recent process with
// that name is used if it is still in the snapshot; otherwise the record carries the name alone.
func (t *Tracker) GatherShortLivedProcess(snapshot *process.Snapshot, command string) ShortLivedProcess {
	now := t.clock()

	if snapshot != nil {
		if properties, found := snapshot.LatestByName(command); found {
			containerInfo := t.containers.Resolve(properties.Pid)
			return ShortLivedProcess{
				Command:    command,
				Pid:        properties.Pid,
				Timestamp:  now,
				Properties: t.processProperties(properties, properties.Name, now, containerInfo),
				container:  containerInfo,
			}
		}
	}

	return ShortLivedProcess{
		Command:   command,
		Timestamp: now,
		Properties: &events.ProcessProperties{
			ToolName:       command,
			ToolCmd:        command,
			StartTimestamp: now.Format(time.RFC3339),
			ProcessStatus:  process.StatusUnknown,
			InputFiles:     make([]events.InputFile, 0),
		},
	}
}

// FillShortLivedProcess records a short lived process as started. When it still has a pid it
// is tracked from now on like any other process.
func (t *Tracker) FillShortLivedProcess(shortLived ShortLivedProcess) {
	t.sink.Record(events.TypeToolExecution,
		fmt.Sprintf("[%s] Short lived process: %s", shortLived.Timestamp.Format(time.RFC3339), shortLived.Command),
		shortLived.Properties, null.Time{})

	if shortLived.Pid == 0 {
		return
	}
	if _, tracked := t.seen[shortLived.Pid]; tracked {
		return
	}

	t.seen[shortLived.Pid] = &trackedProcess{
		name:        shortLived.Command,
		firstSeen:   t.clock(),
		schedule:    warmingUp(t.config.WarmupPolls),
		justStarted: true,
		container:   shortLived.container,
	}
}

// ReloadTargets swaps the catalog. An identical catalog changes nothing and returns false; any
// other catalog drops all tracked processes and datasets.
func (t *Tracker) ReloadTargets(catalog *targets.Catalog) bool {
	if t.catalog.Equal(catalog) {
		return false
	}

	t.logger.Info("Target catalog changed, resetting tracked processes",
		zap.Int("Targets", catalog.Len()), zap.Int("Dropped", len(t.seen)))

	t.catalog = catalog
	t.seen = make(map[types.Pid]*trackedProcess)
	t.datasets.Reset()
	return true
}

// Catalog returns the catalog currently in effect.
func (t *Tracker) Catalog() *targets.Catalog {
	return t.catalog
}

// Tracks reports whether pid is currently tracked.
func (t *Tracker) Tracks(pid types.Pid) bool {
	_, tracked := t.seen[pid]
	return tracked
}

func (t *Tracker) Len() int {
	return len(t.seen)
}

// Preview returns up to ten distinct names of tracked processes, sorted.
func (t *Tracker) Preview() []string {
	distinct := make(map[string]struct{})
	for _, tracked := range t.seen {
		distinct[tracked.name] = struct{}{}
	}

	names := make([]string, 0, len(distinct))
	for name := range distinct {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > previewSize {
		names = names[:previewSize]
	}
	return names
}

func (t *Tracker) trackedPids() []types.Pid {
	pids := make([]types.Pid, 0, len(t.seen))
	for pid := range t.seen {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}
