package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Call while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters. Zero values take defaults:
// 5 failures to open, 2 half-open successes to close, 30s open timeout.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Component        string
	OnStateChange    func(component string, from, to State)
}

// CircuitBreaker stops calling a failing sensor for Timeout after FailureThreshold
// consecutive failures, then lets probe calls through in half-open state.
type CircuitBreaker struct {
	mu           sync.Mutex
	cfg          Config
	state        State
	failures     int
	successes    int
	openedAt     time.Time
	now          func() time.Time
	pendingEvent []transition
}

type transition struct{ from, to State }

// New creates a CircuitBreaker in the closed state.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// Call runs fn unless the breaker is open. Context cancellation from the caller is not
// counted as a failure. State change callbacks run after the lock is released.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	if err != nil && ctx.Err() != nil {
		cb.flush()
		return err
	}
	cb.after(err)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.Timeout {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.setLocked(StateHalfOpen)
	}
	cb.mu.Unlock()
	cb.flush()
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	if err != nil {
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.now()
			cb.setLocked(StateOpen)
		}
	} else {
		cb.failures = 0
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.cfg.SuccessThreshold {
			cb.setLocked(StateClosed)
		}
	}
	cb.mu.Unlock()
	cb.flush()
}

func (cb *CircuitBreaker) setLocked(to State) {
	if cb.state == to {
		return
	}
	cb.pendingEvent = append(cb.pendingEvent, transition{cb.state, to})
	cb.state = to
	cb.failures = 0
	cb.successes = 0
}

func (cb *CircuitBreaker) flush() {
	cb.mu.Lock()
	events := cb.pendingEvent
	cb.pendingEvent = nil
	cb.mu.Unlock()
	if cb.cfg.OnStateChange == nil {
		return
	}
	for _, e := range events {
		cb.cfg.OnStateChange(cb.cfg.Component, e.from, e.to)
	}
}
