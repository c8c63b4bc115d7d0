package process

import (
	"testing"
	"time"

	"github.com/biotracer/agent/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotLatestByName(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	snapshot := NewSnapshot(base,
		&Properties{Pid: 10, Name: "fastqc", CreateTime: base},
		&Properties{Pid: 30, Name: "fastqc", CreateTime: base.Add(time.Minute)},
		&Properties{Pid: 20, Name: "bwa", CreateTime: base.Add(time.Hour)},
	)

	latest, found := snapshot.LatestByName("fastqc")
	require.True(t, found)
	assert.EqualValues(t, 30, latest.Pid)

	_, found = snapshot.LatestByName("salmon")
	assert.False(t, found)
}

func TestPropertiesRunTime(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	properties := &Properties{CreateTime: created, Args: []string{"bwa", "mem"}}

	assert.Equal(t, 90*time.Second, properties.RunTime(created.Add(90*time.Second)))
	assert.Equal(t, time.Duration(0), properties.RunTime(created.Add(-time.Second)))
	assert.Equal(t, "bwa mem", properties.Cmdline())
}

func TestFillDiskDeltas(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	source := &PsUtilSource{lastDisk: map[types.Pid]diskCounters{}}
	first := &Properties{Pid: 5, CreateTime: created, DiskReadTotal: 100, DiskWriteTotal: 50}
	source.fillDiskDeltas(first)
	assert.EqualValues(t, 100, first.DiskReadLastInterval)

	source.lastDisk[5] = diskCounters{createTime: created, read: 100, write: 50}
	second := &Properties{Pid: 5, CreateTime: created, DiskReadTotal: 160, DiskWriteTotal: 50}
	source.fillDiskDeltas(second)
	assert.EqualValues(t, 60, second.DiskReadLastInterval)
	assert.EqualValues(t, 0, second.DiskWriteLastInterval)

	// Same pid, different process.
	reused := &Properties{Pid: 5, CreateTime: created.Add(time.Hour), DiskReadTotal: 10}
	source.fillDiskDeltas(reused)
	assert.EqualValues(t, 10, reused.DiskReadLastInterval)
}

func TestStatusName(t *testing.T) {
	assert.Equal(t, "Run", statusName("R"))
	assert.Equal(t, "Unknown", statusName("?"))
}
