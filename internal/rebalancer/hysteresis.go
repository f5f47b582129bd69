package rebalancer

import (
	"sync"
	"time"

	"poseidon/internal/domain/position"
)

// HysteresisTimer tracks how long the supervised position has been
// continuously out of range. It belongs to one orchestrator and does not
// survive across a close/open boundary: every replacement position starts a
// fresh dwell clock.
//
// Poll failures must leave the timer untouched: a failed poll is never an
// in-range observation.
type HysteresisTimer struct {
	mu    sync.Mutex
	since time.Time
	now   func() time.Time
}

// NewHysteresisTimer creates a timer using the wall clock.
func NewHysteresisTimer() *HysteresisTimer {
	return &HysteresisTimer{now: time.Now}
}

// newHysteresisTimerAt creates a timer with an injected clock for tests.
func newHysteresisTimerAt(now func() time.Time) *HysteresisTimer {
	return &HysteresisTimer{now: now}
}

// Observe feeds one range classification into the timer. An in-range
// observation clears the dwell clock; the first out-of-range observation
// starts it; subsequent out-of-range observations leave the start untouched.
func (t *HysteresisTimer) Observe(status position.RangeStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !status.OutOfRange() {
		t.since = time.Time{}
		return
	}
	if t.since.IsZero() {
		t.since = t.now()
	}
}

// Clear resets the dwell clock. Used defensively while a transaction is in
// flight so a slow confirmation is never mistaken for out-of-range dwell.
func (t *HysteresisTimer) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.since = time.Time{}
}

// Elapsed returns the continuous out-of-range duration, zero when in range.
func (t *HysteresisTimer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.since.IsZero() {
		return 0
	}
	return t.now().Sub(t.since)
}

// Since returns the first-seen-out-of-range timestamp and whether it is set.
func (t *HysteresisTimer) Since() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.since, !t.since.IsZero()
}
