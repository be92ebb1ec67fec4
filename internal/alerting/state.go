package alerting

import (
	"sync"
	"time"
)

// Status of one rule.
type Status string

const (
	StatusClear   Status = "CLEAR"
	StatusPending Status = "PENDING_ALARM"
	StatusActive  Status = "ALARMING"
)

// State is the alarm state of one rule.
type State struct {
	Status          Status    `json:"status"`
	BreachStartTime time.Time `json:"breachStartTime,omitempty"`
	LastChecked     time.Time `json:"lastChecked,omitempty"`
	BreachValue     float64   `json:"breachValue,omitempty"`
}

// stateStore keeps rule states in memory. A missing entry is CLEAR.
type stateStore struct {
	mu     sync.Mutex
	states map[string]State
}

func newStateStore() *stateStore {
	return &stateStore{states: make(map[string]State)}
}

func (s *stateStore) get(rule string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[rule]; ok {
		return st
	}
	return State{Status: StatusClear}
}

func (s *stateStore) set(rule string, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[rule] = st
}

func (s *stateStore) delete(rule string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, rule)
}

func (s *stateStore) snapshot() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}
