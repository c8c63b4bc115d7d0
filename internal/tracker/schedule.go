package tracker

import "time"

// schedule decides when a tracked process emits metrics. It starts warming up with a fixed
// number of polls to skip, then becomes steady and emits once per interval.
type schedule struct {
	steady       bool
	remaining    int
	lastEmission time.Time
}

func warmingUp(polls int) schedule {
	if polls < 0 {
		polls = 0
	}
	return schedule{remaining: polls}
}

// advance moves the schedule one poll forward and reports whether metrics are due now.
func (s *schedule) advance(now time.Time, interval time.Duration) bool {
	if !s.steady {
		if s.remaining > 0 {
			s.remaining--
			return false
		}
		s.steady = true
		s.lastEmission = now
		return true
	}

	if now.Sub(s.lastEmission) >= interval {
		s.lastEmission = now
		return true
	}
	return false
}
