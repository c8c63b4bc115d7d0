package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeFromMillisecondTimestamp(t *testing.T) {
	got := TimeFromMillisecondTimestamp(1600000000123)
	assert.Equal(t, time.Date(2020, time.September, 13, 12, 26, 40, 123000000, time.UTC), got)
}

func TestTimeFromTimestamp(t *testing.T) {
	assert.Equal(t, time.UTC, TimeFromTimestamp(0).Location())
	assert.Equal(t, int64(42), TimeFromTimestamp(42).Unix())
}

func TestPidString(t *testing.T) {
	assert.Equal(t, "1234", Pid(1234).String())
	assert.Equal(t, uint32(7), Pid(7).Uint32())
}

func TestWholeSeconds(t *testing.T) {
	assert.Equal(t, uint64(95), WholeSeconds(95*time.Second+900*time.Millisecond))
	assert.Equal(t, uint64(0), WholeSeconds(-time.Second))
}
