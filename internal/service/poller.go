package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/humidity-monitor/internal/models"
	"github.com/kjstillabower/humidity-monitor/internal/observability"
)

// Refresher is implemented by HumidityService. The poller depends on the interface so
// tests can drive it without a sensor.
type Refresher interface {
	Refresh(ctx context.Context) (models.HumidityReading, error)
}

// Poller refreshes the reading on an interval so server-side alerts fire without any
// client traffic.
type Poller struct {
	refresher Refresher
	interval  time.Duration
	logger    *zap.Logger
}

// NewPoller creates a Poller. interval <= 0 makes Run return immediately.
func NewPoller(refresher Refresher, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{refresher: refresher, interval: interval, logger: logger}
}

// Poll runs a single refresh and records its outcome.
func (p *Poller) Poll(ctx context.Context) error {
	start := time.Now()
	reading, err := p.refresher.Refresh(ctx)
	if err != nil {
		observability.PollerRunsTotal.WithLabelValues("error").Inc()
		return err
	}
	observability.PollerRunsTotal.WithLabelValues("success").Inc()
	p.logger.Debug("humidity polled",
		zap.Float64("humidity", reading.Humidity),
		zap.Bool("stale", reading.Stale),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Run polls once, then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}
	if err := p.Poll(ctx); err != nil {
		p.logger.Warn("initial humidity poll failed", zap.Error(err))
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				p.logger.Warn("periodic humidity poll failed", zap.Error(err))
			}
		}
	}
}
