package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/humidity-monitor/internal/cache"
	"github.com/kjstillabower/humidity-monitor/internal/client"
	"github.com/kjstillabower/humidity-monitor/internal/models"
	"github.com/kjstillabower/humidity-monitor/internal/observability"
)

// CacheKey is the single key the proxy caches the sensor reading under.
const CacheKey = "humidity_data"

// observerQueueSize bounds readings waiting for RunObservers. Older readings are not
// displaced; new ones are dropped when it is full.
const observerQueueSize = 16

// ReadingObserver is told about every fresh reading fetched from the sensor.
type ReadingObserver interface {
	ObserveReading(ctx context.Context, reading models.HumidityReading)
}

// HumidityService serves the sensor reading with cache-aside semantics, falls back to a
// stale reading when the sensor is unreachable, and fans fresh readings out to observers.
type HumidityService struct {
	client        client.HumidityFetcher
	cache         cache.Cache
	ttl           time.Duration
	staleCacheTTL time.Duration     // Maximum age for stale cache fallback (0 = disabled)
	coalescer     *requestCoalescer // nil if disabled
	observers     []ReadingObserver
	readings      chan models.HumidityReading
	logger        *zap.Logger
}

// NewHumidityService creates a HumidityService. ttl is the freshness window of a cached
// reading; staleCacheTTL bounds stale fallback (0 disables it); coalescing is enabled
// when coalesceEnabled and coalesceTimeout > 0.
func NewHumidityService(fetcher client.HumidityFetcher, c cache.Cache, ttl, staleCacheTTL time.Duration, coalesceEnabled bool, coalesceTimeout time.Duration, logger *zap.Logger) *HumidityService {
	var coalescer *requestCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HumidityService{
		client:        fetcher,
		cache:         c,
		ttl:           ttl,
		staleCacheTTL: staleCacheTTL,
		coalescer:     coalescer,
		readings:      make(chan models.HumidityReading, observerQueueSize),
		logger:        logger,
	}
}

// AddObserver registers o for fresh readings. Call before serving traffic and before
// RunObservers.
func (s *HumidityService) AddObserver(o ReadingObserver) {
	s.observers = append(s.observers, o)
}

// RunObservers hands queued readings to the observers, in fetch order, until ctx ends.
// Observers run here rather than on the request path, so a slow push broker never holds
// up GET /humidity.
func (s *HumidityService) RunObservers(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reading := <-s.readings:
			for _, o := range s.observers {
				o.ObserveReading(ctx, reading)
			}
		}
	}
}

func (s *HumidityService) notifyObservers(reading models.HumidityReading, logger *zap.Logger) {
	if len(s.observers) == 0 {
		return
	}
	select {
	case s.readings <- reading:
	default:
		observability.ObserverDroppedTotal.Inc()
		logger.Warn("observer queue full, reading not evaluated", zap.Float64("humidity", reading.Humidity))
	}
}

// loggerFromContext returns the request-scoped logger if the middleware set one.
func (s *HumidityService) loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return s.logger
}

// GetHumidity returns the cached reading if fresh, otherwise fetches from the sensor.
func (s *HumidityService) GetHumidity(ctx context.Context) (models.HumidityReading, error) {
	logger := s.loggerFromContext(ctx)
	start := time.Now()

	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, CacheKey)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		logger.Warn("cache get failed", zap.Error(err))
	} else if ok {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.Inc()
		logger.Debug("humidity served", zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}

	logger.Debug("cache miss, fetching sensor")
	return s.fetchAndStore(ctx, logger)
}

// Refresh fetches from the sensor regardless of the cache and stores the result.
// The poller uses it so alerts see every sample.
func (s *HumidityService) Refresh(ctx context.Context) (models.HumidityReading, error) {
	return s.fetchAndStore(ctx, s.loggerFromContext(ctx))
}

func (s *HumidityService) fetchAndStore(ctx context.Context, logger *zap.Logger) (models.HumidityReading, error) {
	var data models.HumidityReading
	var upstreamErr error
	if s.coalescer != nil {
		coalesceStart := time.Now()
		var shared bool
		data, shared, upstreamErr = s.coalescer.GetOrDo(ctx, CacheKey, func() (models.HumidityReading, error) {
			return s.fetchFresh(context.WithoutCancel(ctx), logger)
		})
		if shared {
			observability.RequestCoalescingHitsTotal.Inc()
			observability.RequestCoalescingWaitSeconds.Observe(time.Since(coalesceStart).Seconds())
		}
	} else {
		data, upstreamErr = s.fetchFresh(ctx, logger)
	}
	if upstreamErr == nil {
		return data, nil
	}

	if s.staleCacheTTL > 0 {
		stale, ok, staleErr := s.cache.GetStale(ctx, CacheKey, s.staleCacheTTL)
		if staleErr == nil && ok {
			staleAge := time.Since(stale.Timestamp)
			observability.StaleCacheServesTotal.Inc()
			observability.StaleCacheAgeSeconds.Observe(staleAge.Seconds())
			stale.Stale = true
			logger.Info("serving stale cache", zap.Duration("age", staleAge), zap.Error(upstreamErr))
			return stale, nil
		}
	}
	return models.HumidityReading{}, fmt.Errorf("fetch humidity: %w", upstreamErr)
}

// fetchFresh calls the sensor, caches the result and queues it for observers.
func (s *HumidityService) fetchFresh(ctx context.Context, logger *zap.Logger) (models.HumidityReading, error) {
	data, err := s.client.FetchHumidity(ctx)
	if err != nil {
		logger.Debug("sensor fetch failed", zap.Error(err), zap.String("category", string(client.CategorizeError(err))))
		return models.HumidityReading{}, err
	}
	observability.HumidityPercent.Set(data.Humidity)

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, CacheKey, data, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.Error(setErr))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}

	s.notifyObservers(data, logger)
	logger.Debug("humidity served", zap.Bool("cached", false), zap.Float64("humidity", data.Humidity))
	return data, nil
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
