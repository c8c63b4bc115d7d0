package process

import (
	"sort"
	"strings"
	"time"

	"github.com/biotracer/agent/internal/types"
)

// Properties is the OS-reported state of one process at snapshot time.
type Properties struct {
	Pid                   types.Pid
	ParentPid             types.Pid
	Name                  string
	Args                  []string
	Exe                   string
	CreateTime            time.Time
	CpuPercent            float64
	MemoryRss             uint64
	MemoryVms             uint64
	DiskReadTotal         uint64
	DiskWriteTotal        uint64
	DiskReadLastInterval  uint64
	DiskWriteLastInterval uint64
	Status                string
}

func (p *Properties) Cmdline() string {
	return strings.Join(p.Args, " ")
}

// RunTime is the time the process has been alive as of now.
func (p *Properties) RunTime(now time.Time) time.Duration {
	if p.CreateTime.IsZero() || now.Before(p.CreateTime) {
		return 0
	}
	return now.Sub(p.CreateTime)
}

// Snapshot is one poll's view of the host's processes. It is never retained past that poll.
type Snapshot struct {
	Processes map[types.Pid]*Properties
	TakenAt   time.Time
}

func NewSnapshot(takenAt time.Time, processes ...*Properties) *Snapshot {
	snapshot := &Snapshot{
		Processes: make(map[types.Pid]*Properties, len(processes)),
		TakenAt:   takenAt,
	}
	for _, properties := range processes {
		snapshot.Processes[properties.Pid] = properties
	}
	return snapshot
}

func (s *Snapshot) Get(pid types.Pid) (*Properties, bool) {
	properties, found := s.Processes[pid]
	return properties, found
}

func (s *Snapshot) Contains(pid types.Pid) bool {
	_, found := s.Processes[pid]
	return found
}

// Pids returns all pids in ascending order.
func (s *Snapshot) Pids() []types.Pid {
	pids := make([]types.Pid, 0, len(s.Processes))
	for pid := range s.Processes {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// LatestByName returns the most recently created process with the given name.
func (s *Snapshot) LatestByName(name string) (*Properties, bool) {
	var latest *Properties
	for _, pid := range s.Pids() {
		properties := s.Processes[pid]
		if properties.Name != name {
			continue
		}
		if latest == nil || !properties.CreateTime.Before(latest.CreateTime) {
			latest = properties
		}
	}
	return latest, latest != nil
}
