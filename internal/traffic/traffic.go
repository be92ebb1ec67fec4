package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a proxied humidity request.
type Outcome int

const (
	// Success is a request answered with a reading (fresh, cached or stale).
	Success Outcome = iota
	// Failure is a request that could not be answered because the sensor failed.
	Failure
	// Denied is a request rejected by the rate limiter.
	Denied
)

const defaultRetention = 5 * time.Minute

// Tracker keeps sliding windows of request outcomes for the health endpoint:
// overload uses all outcomes and denials, degraded uses the failure ratio.
type Tracker struct {
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time
	events    [3][]time.Time
}

// NewTracker returns a Tracker that forgets events older than retention.
// A non-positive retention uses five minutes.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Tracker{retention: retention, now: time.Now}
}

// Record notes one outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events[o] = append(t.events[o], now)
	t.pruneLocked(now)
}

// Count returns how many of the given outcomes happened within window.
// With no outcomes listed, every outcome counts.
func (t *Tracker) Count(window time.Duration, outcomes ...Outcome) int {
	if len(outcomes) == 0 {
		outcomes = []Outcome{Success, Failure, Denied}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	n := 0
	for _, o := range outcomes {
		n += countSince(t.events[o], cutoff)
	}
	return n
}

// FailureRate returns (failures, answered) within window. Denials are not answered requests.
func (t *Tracker) FailureRate(window time.Duration) (failures, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	failures = countSince(t.events[Failure], cutoff)
	return failures, failures + countSince(t.events[Success], cutoff)
}

// Reset drops every recorded outcome.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.events {
		t.events[i] = nil
	}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than the retention. Callers hold mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	for o, times := range t.events {
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.events[o] = append(times[:0], times[i:]...)
		}
	}
}
