package process

import (
	"context"
	"os"
	"time"

	"github.com/biotracer/agent/internal/types"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	psUtil "github.com/shirou/gopsutil/process"
	"go.uber.org/zap"
)

// Source supplies a fresh OS process snapshot per poll.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

type diskCounters struct {
	createTime time.Time
	read       uint64
	write      uint64
}

// PsUtilSource reads the process table through gopsutil. It remembers the previous disk
// counters per pid to report last-interval deltas.
type PsUtilSource struct {
	logger   *zap.Logger
	selfPid  int32
	lastDisk map[types.Pid]diskCounters
}

func NewPsUtilSource(rootLogger *zap.Logger) *PsUtilSource {
	return &PsUtilSource{
		logger:   rootLogger.Named("process-source"),
		selfPid:  int32(os.Getpid()),
		lastDisk: make(map[types.Pid]diskCounters),
	}
}

func (s *PsUtilSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	liveProcesses, err := psUtil.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "get live process list")
	}

	snapshot := &Snapshot{
		Processes: make(map[types.Pid]*Properties, len(liveProcesses)),
		TakenAt:   time.Now().UTC(),
	}

	var errs error
	nextDisk := make(map[types.Pid]diskCounters, len(liveProcesses))

	for _, liveProcess := range liveProcesses {
		if liveProcess.Pid == s.selfPid { // Do not report agent's process.
			continue
		}

		properties, err := s.readProcess(ctx, liveProcess)
		if err != nil {
			// Most likely the process exited between listing and reading.
			errs = multierror.Append(errs, err)
			continue
		}

		s.fillDiskDeltas(properties)
		nextDisk[properties.Pid] = diskCounters{
			createTime: properties.CreateTime,
			read:       properties.DiskReadTotal,
			write:      properties.DiskWriteTotal,
		}
		snapshot.Processes[properties.Pid] = properties
	}

	s.lastDisk = nextDisk

	if len(snapshot.Processes) == 0 && errs != nil {
		return nil, errs
	}
	if errs != nil {
		s.logger.Debug("Skipped unreadable processes", zap.Error(errs))
	}

	return snapshot, nil
}

func (s *PsUtilSource) readProcess(ctx context.Context, liveProcess *psUtil.Process) (*Properties, error) {
	pid := liveProcess.Pid

	name, err := liveProcess.NameWithContext(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "get name for pid '%d'", pid)
	}

	ppid, err := liveProcess.PpidWithContext(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "get parent pid for pid '%d'", pid)
	}

	createTimeMilliseconds, err := liveProcess.CreateTimeWithContext(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "get create time for pid '%d'", pid)
	}

	properties := &Properties{
		Pid:        types.Pid(pid),
		ParentPid:  types.Pid(ppid),
		Name:       name,
		CreateTime: types.TimeFromMillisecondTimestamp(createTimeMilliseconds),
	}

	// The remaining fields are commonly denied for other users' processes; leave them empty.
	if args, err := liveProcess.CmdlineSliceWithContext(ctx); err == nil {
		properties.Args = args
	}
	if exe, err := liveProcess.ExeWithContext(ctx); err == nil {
		properties.Exe = exe
	}
	if cpuPercent, err := liveProcess.CPUPercentWithContext(ctx); err == nil {
		properties.CpuPercent = cpuPercent
	}
	if memoryInfo, err := liveProcess.MemoryInfoWithContext(ctx); err == nil && memoryInfo != nil {
		properties.MemoryRss = memoryInfo.RSS
		properties.MemoryVms = memoryInfo.VMS
	}
	if ioCounters, err := liveProcess.IOCountersWithContext(ctx); err == nil && ioCounters != nil {
		properties.DiskReadTotal = ioCounters.ReadBytes
		properties.DiskWriteTotal = ioCounters.WriteBytes
	}
	if status, err := liveProcess.StatusWithContext(ctx); err == nil {
		properties.Status = statusName(status)
	} else {
		properties.Status = statusName("")
	}

	return properties, nil
}

func (s *PsUtilSource) fillDiskDeltas(properties *Properties) {
	previous, found := s.lastDisk[properties.Pid]
	if !found || !previous.createTime.Equal(properties.CreateTime) {
		properties.DiskReadLastInterval = properties.DiskReadTotal
		properties.DiskWriteLastInterval = properties.DiskWriteTotal
		return
	}

	if properties.DiskReadTotal >= previous.read {
		properties.DiskReadLastInterval = properties.DiskReadTotal - previous.read
	}
	if properties.DiskWriteTotal >= previous.write {
		properties.DiskWriteLastInterval = properties.DiskWriteTotal - previous.write
	}
}

// StatusUnknown is reported for states the OS does not expose or that are not recognized.
const StatusUnknown = "Unknown"

var statusNames = map[string]string{
	"R": "Run",
	"S": "Sleep",
	"I": "Idle",
	"Z": "Zombie",
	"T": "Stop",
	"t": "Tracing",
	"X": "Dead",
	"D": "Uninterruptible Disk Sleep",
	"W": "Waking",
	"P": "Parked",
	"L": "Lock Blocked",
}

func statusName(status string) string {
	name, found := statusNames[status]
	if !found {
		return StatusUnknown
	}
	return name
}
