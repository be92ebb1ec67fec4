// Package lifecycle tracks the proxy's process phase for the health endpoint.
package lifecycle

import (
	"context"
	"sync/atomic"
	"time"
)

// Phase of the process.
type Phase int32

const (
	// Starting: listening, but caches are cold and the first sensor poll may not have run.
	Starting Phase = iota
	Ready
	// ShuttingDown: a signal was received; health reports 503 so traffic drains.
	ShuttingDown
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case ShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// State holds the current phase and the start time.
type State struct {
	phase   atomic.Int32
	started time.Time
}

func New() *State {
	return &State{started: time.Now()}
}

func (s *State) Phase() Phase {
	return Phase(s.phase.Load())
}

// Uptime since New.
func (s *State) Uptime() time.Duration {
	return time.Since(s.started)
}

// MarkReady moves Starting to Ready. It never leaves ShuttingDown.
func (s *State) MarkReady() {
	s.phase.CompareAndSwap(int32(Starting), int32(Ready))
}

// MarkReadyAfter calls MarkReady once delay has elapsed, unless ctx ends first.
func (s *State) MarkReadyAfter(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		s.MarkReady()
		return
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		s.MarkReady()
	case <-ctx.Done():
	}
}

// SetShuttingDown is called on SIGTERM/SIGINT. It is terminal.
func (s *State) SetShuttingDown() {
	s.phase.Store(int32(ShuttingDown))
}

func (s *State) IsShuttingDown() bool {
	return s.Phase() == ShuttingDown
}
