package throttle

import (
	"sync"
	"time"
)

// Gate admits a caller at most once per interval, measured from the
// last admitted call. It is the loop's only backpressure mechanism:
// rate-limited sub-operations ask the gate before running and simply
// skip the cycle when denied.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	last     time.Time
}

// NewGate creates a gate using the wall clock.
func NewGate(interval time.Duration) *Gate {
	return NewGateWithClock(interval, time.Now)
}

// NewGateWithClock creates a gate with an injected clock for tests.
func NewGateWithClock(interval time.Duration, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{interval: interval, now: now}
}

// Allow reports whether the interval has elapsed since the last
// admitted call, and marks the call admitted when it has. The first
// call is always admitted.
func (g *Gate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.now()
	if !g.last.IsZero() && t.Sub(g.last) < g.interval {
		return false
	}
	g.last = t
	return true
}

// Reset clears the gate so the next Allow is admitted immediately.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = time.Time{}
}
