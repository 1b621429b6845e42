package sink

import (
	"math"
	"time"
)

// Stats is a point-in-time copy of the cycle counters.
type Stats struct {
	// Count is the number of batches since the last anchor.
	Count int64
	// CycleCount is the number of anchor arrivals since start.
	CycleCount int64

	HWMCount int64
	// LWMCount is math.MaxInt64 until the first cycle completes.
	LWMCount int64

	HWMElapsed  time.Duration
	LastElapsed time.Duration
}

// HasCycle reports whether at least one cycle completed.
func (s Stats) HasCycle() bool { return s.CycleCount > 0 }

func newStats() Stats {
	return Stats{LWMCount: math.MaxInt64}
}

// closeCycle records one anchor arrival after elapsed since the previous one.
func (s *Stats) closeCycle(elapsed time.Duration) {
	s.CycleCount++
	s.LastElapsed = elapsed

	if elapsed > s.HWMElapsed {
		s.HWMElapsed = elapsed
	}
	if s.Count > s.HWMCount {
		s.HWMCount = s.Count
	}
	if s.Count < s.LWMCount {
		s.LWMCount = s.Count
	}
}
