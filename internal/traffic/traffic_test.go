package traffic

import (
	"testing"
	"time"
)

// fakeClock lets tests move the tracker's notion of now.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(retention time.Duration) (*Tracker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(retention)
	tr.now = clk.Now
	return tr, clk
}

func TestCount_Empty(t *testing.T) {
	tr, _ := newTestTracker(0)
	if n := tr.Count(time.Minute); n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

// TestCount_AllOutcomesByDefault verifies that Count with no outcome filter
// includes successes, failures and denials.
func TestCount_AllOutcomesByDefault(t *testing.T) {
	tr, _ := newTestTracker(0)
	tr.Record(Success)
	tr.Record(Failure)
	tr.Record(Denied)
	tr.Record(Denied)
	if n := tr.Count(time.Minute); n != 4 {
		t.Errorf("Count() = %d, want 4", n)
	}
	if n := tr.Count(time.Minute, Denied); n != 2 {
		t.Errorf("Count(Denied) = %d, want 2", n)
	}
}

// TestFailureRate_DeniedExcluded verifies that denials do not count as answered requests.
func TestFailureRate_DeniedExcluded(t *testing.T) {
	tr, _ := newTestTracker(0)
	tr.Record(Success)
	tr.Record(Success)
	tr.Record(Failure)
	tr.Record(Denied)
	failures, total := tr.FailureRate(time.Minute)
	if failures != 1 || total != 3 {
		t.Errorf("FailureRate() = (%d, %d), want (1, 3)", failures, total)
	}
}

// TestCount_WindowExcludesOldEvents verifies that events older than the window
// are not counted even while still retained.
func TestCount_WindowExcludesOldEvents(t *testing.T) {
	tr, clk := newTestTracker(10 * time.Minute)
	tr.Record(Success)
	clk.Advance(2 * time.Minute)
	tr.Record(Success)
	if n := tr.Count(time.Minute); n != 1 {
		t.Errorf("Count(1m) = %d, want 1", n)
	}
	if n := tr.Count(5 * time.Minute); n != 2 {
		t.Errorf("Count(5m) = %d, want 2", n)
	}
}

// TestRecord_PrunesPastRetention verifies that events older than the retention
// are dropped on the next write.
func TestRecord_PrunesPastRetention(t *testing.T) {
	tr, clk := newTestTracker(time.Minute)
	tr.Record(Failure)
	clk.Advance(2 * time.Minute)
	tr.Record(Success)
	if got := len(tr.events[Failure]); got != 0 {
		t.Errorf("retained failures = %d, want 0 after pruning", got)
	}
}

func TestReset(t *testing.T) {
	tr, _ := newTestTracker(0)
	tr.Record(Success)
	tr.Record(Denied)
	tr.Reset()
	if n := tr.Count(time.Hour); n != 0 {
		t.Errorf("Count() after Reset = %d, want 0", n)
	}
}
