package types

import "time"

// TimeFromMillisecondTimestamp converts the millisecond epoch timestamps gopsutil reports for
// process creation.
func TimeFromMillisecondTimestamp(timestamp int64) time.Time {
	return time.Unix(timestamp/1000, (timestamp%1000)*int64(time.Millisecond)).UTC()
}

func TimeFromTimestamp(timestamp int64) time.Time {
	return time.Unix(timestamp, 0).UTC()
}

// WholeSeconds truncates a duration to seconds. Negative durations count as zero.
func WholeSeconds(duration time.Duration) uint64 {
	if duration < 0 {
		return 0
	}
	return uint64(duration / time.Second)
}
