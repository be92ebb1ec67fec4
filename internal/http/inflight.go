package http

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/humidity-monitor/internal/observability"
)

// InFlightTracker counts requests currently being served.
type InFlightTracker struct {
	count atomic.Int64
}

func (t *InFlightTracker) Increment() { t.count.Add(1) }

func (t *InFlightTracker) Decrement() { t.count.Add(-1) }

func (t *InFlightTracker) Count() int64 { return t.count.Load() }

// WaitForZero blocks until the count reaches zero or ctx is done, re-checking every
// checkInterval.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		if t.Count() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// globalInFlightTracker is fed by MetricsMiddleware.
var globalInFlightTracker = &InFlightTracker{}

// InFlightCount returns the current number of in-flight requests.
func InFlightCount() int64 {
	return globalInFlightTracker.Count()
}

// DrainInFlight records how many requests were in flight at shutdown and waits up to
// timeout for them to finish.
func DrainInFlight(timeout, checkInterval time.Duration, logger *zap.Logger) error {
	inFlight := InFlightCount()
	observability.RecordShutdownInFlight(inFlight)
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return globalInFlightTracker.WaitForZero(ctx, checkInterval)
}
