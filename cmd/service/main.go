package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/humidity-monitor/internal/alerting"
	"github.com/kjstillabower/humidity-monitor/internal/cache"
	"github.com/kjstillabower/humidity-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/humidity-monitor/internal/client"
	"github.com/kjstillabower/humidity-monitor/internal/config"
	"github.com/kjstillabower/humidity-monitor/internal/devices"
	httphandler "github.com/kjstillabower/humidity-monitor/internal/http"
	"github.com/kjstillabower/humidity-monitor/internal/lifecycle"
	"github.com/kjstillabower/humidity-monitor/internal/observability"
	"github.com/kjstillabower/humidity-monitor/internal/push"
	"github.com/kjstillabower/humidity-monitor/internal/service"
	"github.com/kjstillabower/humidity-monitor/internal/traffic"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if err := cfg.ValidateService(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	sensorClient, err := client.NewHumidityClient(cfg.SensorURL, cfg.SensorPath, cfg.SensorTimeout)
	if err != nil {
		logger.Fatal("sensor client", zap.Error(err))
	}
	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "sensor",
			OnStateChange: func(component string, from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker transition",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		sensorClient.SetCircuitBreaker(cb)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	cacheSvc, cachePing, cacheClose, err := newCache(cfg)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))

	humidityService := service.NewHumidityService(sensorClient, cacheSvc, cfg.CacheTTL, cfg.StaleCacheTTL, cfg.CoalesceEnabled, cfg.CoalesceTimeout, logger)

	var (
		registry *devices.Registry
		broker   *push.PahoBroker
	)
	if cfg.PushEnabled {
		registry = devices.NewRegistry()
		broker = push.NewPahoBroker(push.BrokerConfig{
			URL:      cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, logger)
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := broker.Connect(connectCtx); err != nil {
			// Paho keeps retrying in the background; publishes fail until it connects.
			logger.Warn("mqtt connect failed", zap.String("broker", cfg.MQTTBroker), zap.Error(err))
		}
		connectCancel()
	}

	if cfg.AlertsEnabled {
		if registry == nil {
			logger.Warn("alerts enabled without push; alert notifications have no recipients")
		} else {
			publisher := push.NewPublisher(broker, cfg.PushTopicPrefix, byte(cfg.PushQoS), logger)
			evaluator, err := alerting.NewEvaluator(alertRules(cfg), publisher, registry, logger)
			if err != nil {
				logger.Fatal("alert rules", zap.Error(err))
			}
			humidityService.AddObserver(evaluator)
		}
	}

	pollCtx, stopPolling := context.WithCancel(context.Background())
	defer stopPolling()
	go func() {
		if err := humidityService.RunObservers(pollCtx); err != nil && err != context.Canceled {
			logger.Error("observer loop stopped", zap.Error(err))
		}
	}()
	if cfg.PollInterval > 0 {
		poller := service.NewPoller(humidityService, cfg.PollInterval, logger)
		go func() {
			if err := poller.Run(pollCtx); err != nil && err != context.Canceled {
				logger.Error("poller stopped", zap.Error(err))
			}
		}()
	}

	state := lifecycle.New()
	go state.MarkReadyAfter(pollCtx, cfg.ReadyDelay)

	tracker := traffic.NewTracker(maxDuration(cfg.OverloadWindow, cfg.DegradedWindow))
	observability.RegisterRateLimitGauges(tracker, cfg.OverloadWindow)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		CachePing:            cachePing,
	}
	if broker != nil {
		healthConfig.BrokerConnected = broker.IsConnected
	}

	handler := httphandler.NewHandler(humidityService, registry, tracker, state, healthConfig, logger)
	router := httphandler.NewRouter(handler, limiter, tracker, cfg.RequestTimeout, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", ":"+cfg.ServerPort),
			zap.String("sensor", sensorClient.Endpoint()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.SetShuttingDown()
	stopPolling()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if err := httphandler.DrainInFlight(cfg.ShutdownInFlightTimeout, cfg.ShutdownInFlightCheckInterval, logger); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if broker != nil {
		broker.Disconnect()
	}
	if cacheClose != nil {
		if err := cacheClose(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newCache builds the configured backend. ping and closeFn are nil for the in-memory cache.
func newCache(cfg *config.Config) (c cache.Cache, ping func() error, closeFn func() error, err error) {
	// Remote entries outlive their freshness TTL so stale fallback has something to serve.
	retention := cfg.CacheTTL + cfg.StaleCacheTTL
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, retention)
		if err != nil {
			return nil, nil, nil, err
		}
		return mc, mc.Ping, mc.Close, nil
	case "redis":
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTimeout, retention)
		return rc, rc.Ping, rc.Close, nil
	default:
		return cache.NewInMemoryCache(), nil, nil, nil
	}
}

// alertRules derives the low and high humidity rules from config.
func alertRules(cfg *config.Config) []alerting.Rule {
	return []alerting.Rule{
		{Name: "humidity_low", Operator: alerting.OperatorBelow, Threshold: cfg.AlertLowThreshold, Duration: cfg.AlertPendingDuration},
		{Name: "humidity_high", Operator: alerting.OperatorAbove, Threshold: cfg.AlertHighThreshold, Duration: cfg.AlertPendingDuration},
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
