package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/humidity-monitor/internal/models"
)

// call is one upstream fetch shared by every caller that arrived while it ran.
type call struct {
	done   chan struct{}
	result models.HumidityReading
	err    error
}

// requestCoalescer collapses concurrent sensor fetches for the same key into one.
// The sensor is a microcontroller on Wi-Fi; parallel requests only slow it down.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*call
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*call),
		timeout:  timeout,
	}
}

// GetOrDo runs fn for key unless a run is already in flight, in which case it waits for
// that run. shared reports whether the result came from another caller's run. fn runs
// detached from ctx so one caller giving up does not fail the others; each caller's
// wait is still bounded by ctx and the coalescer timeout.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func() (models.HumidityReading, error)) (result models.HumidityReading, shared bool, err error) {
	rc.mu.Lock()
	c, exists := rc.inFlight[key]
	if !exists {
		c = &call{done: make(chan struct{})}
		rc.inFlight[key] = c
		go rc.run(key, c, fn)
	}
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-c.done:
		return c.result, exists, c.err
	case <-waitCtx.Done():
		return models.HumidityReading{}, exists, waitCtx.Err()
	}
}

func (rc *requestCoalescer) run(key string, c *call, fn func() (models.HumidityReading, error)) {
	c.result, c.err = fn()
	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(c.done)
}
