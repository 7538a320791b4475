package handler

import (
	"sync"
	"time"
)

// Throttle runs at most one call per interval. Calls arriving too early are
// kept, the latest replacing earlier ones, and run by Flush.
type Throttle struct {
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	last    time.Time
	pending func()
}

// NewThrottle creates a Throttle allowing one call per interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, now: time.Now}
}

// Do runs fn now if interval has passed since the last run.
func (t *Throttle) Do(fn func()) {
	t.mu.Lock()
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		t.pending = fn
		t.mu.Unlock()
		return
	}
	t.last = now
	t.pending = nil
	t.mu.Unlock()

	fn()
}

// Flush runs the call held back by Do, if any.
func (t *Throttle) Flush() {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	if fn != nil {
		t.last = t.now()
	}
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}
