// Package animate eases the displayed humidity fraction towards its latest target.
package animate

import (
	"math"
	"strings"
	"sync"
	"time"
)

// DefaultDuration is how long a transition takes.
const DefaultDuration = 1000 * time.Millisecond

// EaseInOutCubic maps progress t in [0,1] onto [0,1]. It is monotone and never
// overshoots either end.
func EaseInOutCubic(t float64) float64 {
	switch {
	case t <= 0:
		return 0
	case t >= 1:
		return 1
	case t < 0.5:
		return 4 * t * t * t
	default:
		return 1 - math.Pow(-2*t+2, 3)/2
	}
}

// Option configures an Animator.
type Option func(*Animator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Animator) { a.now = now }
}

// WithDuration overrides DefaultDuration.
func WithDuration(d time.Duration) Option {
	return func(a *Animator) {
		if d > 0 {
			a.duration = d
		}
	}
}

// Animator holds one transition between two fractions. The zero fraction is the
// initial display. Safe for concurrent use.
type Animator struct {
	mu       sync.Mutex
	now      func() time.Time
	duration time.Duration
	from     float64
	to       float64
	start    time.Time
}

func New(opts ...Option) *Animator {
	a := &Animator{now: time.Now, duration: DefaultDuration}
	for _, opt := range opts {
		opt(a)
	}
	a.start = a.now().Add(-a.duration)
	return a
}

// Animate starts a transition from the currently displayed fraction to
// targetPercent/100, replacing any transition in progress. The target is not
// range-checked.
func (a *Animator) Animate(targetPercent float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.from = a.valueAt(now)
	a.to = targetPercent / 100
	a.start = now
}

// Value is the displayed fraction right now.
func (a *Animator) Value() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.valueAt(a.now())
}

// Target is the fraction the current transition ends at.
func (a *Animator) Target() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.to
}

// Done reports whether the current transition has finished.
func (a *Animator) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now().Sub(a.start) >= a.duration
}

// WidthPercent maps the fraction onto container width. Values outside [0,100] are
// returned as is.
func (a *Animator) WidthPercent() float64 {
	return a.Value() * 100
}

// Bar draws the fill inside a container of width cells. The fill is clipped to the
// container.
func (a *Animator) Bar(width int) string {
	if width <= 0 {
		return ""
	}
	fill := a.Value()
	if fill < 0 {
		fill = 0
	}
	if fill > 1 {
		fill = 1
	}
	filled := int(math.Round(fill * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func (a *Animator) valueAt(now time.Time) float64 {
	elapsed := now.Sub(a.start)
	if elapsed >= a.duration {
		return a.to
	}
	if elapsed <= 0 {
		return a.from
	}
	p := EaseInOutCubic(float64(elapsed) / float64(a.duration))
	return a.from + (a.to-a.from)*p
}
