package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/humidity-monitor/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Humidity fetches issued by the client package, both proxy→sensor and monitor→proxy.
	HumidityFetchTotal *prometheus.CounterVec

	// Humidity fetch latency. Watch for: p95 > 2s (sensor on a weak Wi-Fi link).
	HumidityFetchDuration *prometheus.HistogramVec

	// Last fresh reading seen by the proxy, in percent.
	HumidityPercent prometheus.Gauge

	// Humidity lookups served by the proxy.
	HumidityQueriesTotal prometheus.Counter

	CacheHitsTotal                prometheus.Counter
	CacheErrorsTotal              *prometheus.CounterVec
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Stale serves after a sensor failure. Watch for: sustained non-zero rate (sensor offline).
	StaleCacheServesTotal prometheus.Counter
	StaleCacheAgeSeconds  prometheus.Histogram

	// Callers that waited on another caller's sensor fetch.
	RequestCoalescingHitsTotal   prometheus.Counter
	RequestCoalescingWaitSeconds prometheus.Histogram

	CircuitBreakerTransitionsTotal *prometheus.CounterVec
	CircuitBreakerState            *prometheus.GaugeVec

	// Background refreshes of the reading.
	PollerRunsTotal *prometheus.CounterVec

	// Alert state transitions per rule.
	AlertTransitionsTotal *prometheus.CounterVec

	// Fresh readings dropped because the observer queue was full.
	ObserverDroppedTotal prometheus.Counter

	// Push notifications published to devices.
	PushPublishTotal *prometheus.CounterVec

	// Devices currently registered for push.
	PushDevicesRegistered prometheus.Gauge

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter

	ShutdownInFlightRequests prometheus.Gauge

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	HumidityFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humidityFetchTotal",
			Help: "Total number of humidity endpoint fetches by outcome",
		},
		[]string{"status"},
	)
	HumidityFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "humidityFetchDurationSeconds",
			Help:    "Humidity endpoint latency in seconds (per fetch)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"status"},
	)
	HumidityPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "humidityPercent",
			Help: "Most recent fresh humidity reading in percent",
		},
	)
	HumidityQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "humidityQueriesTotal",
			Help: "Total number of humidity lookups served by the proxy",
		},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of humidity cache hits",
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache operation errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	StaleCacheServesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "staleCacheServesTotal",
			Help: "Readings served from stale cache after a sensor failure",
		},
	)
	StaleCacheAgeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "staleCacheAgeSeconds",
			Help:    "Age of stale readings when served",
			Buckets: []float64{60, 120, 300, 600, 1800, 3600},
		},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests that reused an in-flight sensor fetch",
		},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting on a coalesced sensor fetch",
			Buckets: prometheus.DefBuckets,
		},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"component"},
	)
	PollerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollerRunsTotal",
			Help: "Background humidity refreshes by result",
		},
		[]string{"result"},
	)
	AlertTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertTransitionsTotal",
			Help: "Humidity alert state transitions",
		},
		[]string{"rule", "to"},
	)
	ObserverDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "observerReadingsDroppedTotal",
			Help: "Fresh readings not handed to alert evaluation because the queue was full",
		},
	)
	PushPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushPublishTotal",
			Help: "Push notifications published to devices by result",
		},
		[]string{"result"},
	)
	PushDevicesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushDevicesRegistered",
			Help: "Devices currently registered for push notifications",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests observed when graceful shutdown started",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		HumidityFetchTotal, HumidityFetchDuration, HumidityPercent, HumidityQueriesTotal,
		CacheHitsTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		StaleCacheServesTotal, StaleCacheAgeSeconds,
		RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds,
		CircuitBreakerTransitionsTotal, CircuitBreakerState,
		PollerRunsTotal, AlertTransitionsTotal, ObserverDroppedTotal,
		PushPublishTotal, PushDevicesRegistered,
		RateLimitDeniedTotal, ShutdownInFlightRequests,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges backed by the tracker.
// Call once from main after config load; later calls are ignored.
func RegisterRateLimitGauges(tracker *traffic.Tracker, window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window",
				},
				func() float64 { return float64(tracker.Count(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window",
				},
				func() float64 { return float64(tracker.Count(window, traffic.Denied)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a breaker transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// RecordShutdownInFlight records in-flight requests seen at shutdown.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
