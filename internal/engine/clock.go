package engine

import "sync/atomic"

// Clock is a monotonic logical clock. Fact timestamps, change events
// and firings are all stamped from one sequence, so a journal can
// interleave them deterministically and recency comparisons never
// depend on wall time.
//
// Thread-safety: safe for concurrent use (atomic operations), though
// the engine's exclusivity guard means a single goroutine normally
// calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0. The first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
