package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds configuration for both binaries, loaded from .env, YAML and env.
type Config struct {
	ServerPort     string
	RequestTimeout time.Duration

	SensorURL     string
	SensorPath    string
	SensorTimeout time.Duration

	CacheBackend          string // "in_memory", "memcached" or "redis"
	CacheTTL              time.Duration
	StaleCacheTTL         time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RedisTimeout          time.Duration
	CoalesceEnabled       bool
	CoalesceTimeout       time.Duration

	RateLimitRPS                   int
	RateLimitBurst                 int
	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	AlertsEnabled        bool
	AlertLowThreshold    float64
	AlertHighThreshold   float64
	AlertPendingDuration time.Duration
	PollInterval         time.Duration

	PushEnabled     bool
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	PushTopicPrefix string
	PushQoS         int
	PushPlatform    string
	PushPermission  string // "granted", "denied" or "prompt"

	MonitorBaseURL        string
	MonitorPath           string
	MonitorFetchTimeout   time.Duration
	MonitorRenderInterval time.Duration
	MonitorDiscardStale   bool
	MonitorBarWidth       int
	MonitorLogFile        string

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	ReadyDelay           time.Duration
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
}

type fileConfig struct {
	Server struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"server"`

	Sensor struct {
		URL     string `yaml:"url"`
		Path    string `yaml:"path"`
		Timeout string `yaml:"timeout"`
	} `yaml:"sensor"`

	Cache struct {
		Backend         string `yaml:"backend"`
		TTL             string `yaml:"ttl"`
		StaleTTL        string `yaml:"stale_ttl"`
		Coalesce        *bool  `yaml:"coalesce"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		Memcached       struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Timeout  string `yaml:"timeout"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Alerts struct {
		Enabled         bool     `yaml:"enabled"`
		Low             *float64 `yaml:"low"`
		High            *float64 `yaml:"high"`
		PendingDuration string   `yaml:"pending_duration"`
		PollInterval    string   `yaml:"poll_interval"`
	} `yaml:"alerts"`

	Push struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		TopicPrefix string `yaml:"topic_prefix"`
		QoS         *int   `yaml:"qos"`
		Platform    string `yaml:"platform"`
		Permission  string `yaml:"permission"`
	} `yaml:"push"`

	Monitor struct {
		BaseURL        string `yaml:"base_url"`
		Path           string `yaml:"path"`
		FetchTimeout   string `yaml:"fetch_timeout"`
		RenderInterval string `yaml:"render_interval"`
		DiscardStale   bool   `yaml:"discard_stale"`
		BarWidth       int    `yaml:"bar_width"`
		LogFile        string `yaml:"log_file"`
	} `yaml:"monitor"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		ReadyDelay           string `yaml:"ready_delay"`
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

// Load reads .env (if present), then config/{ENV_NAME}.yaml (default dev), then env
// overrides. Call from project root. Binary-specific requirements are checked by
// ValidateService and ValidateMonitor.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 5*time.Second)

	cfg.SensorURL = firstNonEmpty(os.Getenv("SENSOR_URL"), os.Getenv("EXTERNAL_API_URL"), fc.Sensor.URL)
	cfg.SensorPath = firstNonEmpty(fc.Sensor.Path, "/")
	cfg.SensorTimeout = parseDurationOrZero(fc.Sensor.Timeout, 3*time.Second)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	// 60s matches the sensor proxy's historical TTL.
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 60*time.Second)
	cfg.StaleCacheTTL = parseDurationOrZero(fc.Cache.StaleTTL, 10*time.Minute)
	if cfg.StaleCacheTTL < 0 {
		cfg.StaleCacheTTL = 0
	}
	cfg.CoalesceEnabled = true
	if fc.Cache.Coalesce != nil {
		cfg.CoalesceEnabled = *fc.Cache.Coalesce
	}
	cfg.CoalesceTimeout = parseDuration(fc.Cache.CoalesceTimeout, 5*time.Second)
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisAddr = firstNonEmpty(os.Getenv("REDIS_ADDR"), fc.Cache.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), fc.Cache.Redis.Password)
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.AlertsEnabled = fc.Alerts.Enabled
	cfg.AlertLowThreshold = 30
	if fc.Alerts.Low != nil {
		cfg.AlertLowThreshold = *fc.Alerts.Low
	}
	cfg.AlertHighThreshold = 70
	if fc.Alerts.High != nil {
		cfg.AlertHighThreshold = *fc.Alerts.High
	}
	cfg.AlertPendingDuration = parseDurationOrZero(fc.Alerts.PendingDuration, 10*time.Minute)
	cfg.PollInterval = parseDurationOrZero(fc.Alerts.PollInterval, time.Minute)

	cfg.PushEnabled = fc.Push.Enabled
	cfg.MQTTBroker = firstNonEmpty(os.Getenv("MQTT_BROKER"), fc.Push.Broker, "tcp://localhost:1883")
	cfg.MQTTClientID = fc.Push.ClientID
	cfg.MQTTUsername = firstNonEmpty(os.Getenv("MQTT_USERNAME"), fc.Push.Username)
	cfg.MQTTPassword = os.Getenv("MQTT_PASSWORD")
	cfg.PushTopicPrefix = firstNonEmpty(fc.Push.TopicPrefix, "humidity")
	cfg.PushQoS = 1
	if fc.Push.QoS != nil {
		cfg.PushQoS = *fc.Push.QoS
	}
	cfg.PushPlatform = strings.ToLower(strings.TrimSpace(fc.Push.Platform))
	cfg.PushPermission = strings.ToLower(firstNonEmpty(fc.Push.Permission, "prompt"))

	cfg.MonitorBaseURL = firstNonEmpty(os.Getenv("HUMIDITY_BASE_URL"), fc.Monitor.BaseURL)
	cfg.MonitorPath = firstNonEmpty(fc.Monitor.Path, "/humidity")
	cfg.MonitorFetchTimeout = parseDuration(fc.Monitor.FetchTimeout, 10*time.Second)
	cfg.MonitorRenderInterval = parseDuration(fc.Monitor.RenderInterval, 50*time.Millisecond)
	cfg.MonitorDiscardStale = fc.Monitor.DiscardStale
	cfg.MonitorBarWidth = fc.Monitor.BarWidth
	if cfg.MonitorBarWidth <= 0 {
		cfg.MonitorBarWidth = 40
	}
	cfg.MonitorLogFile = firstNonEmpty(fc.Monitor.LogFile, "monitor.log")

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.ReadyDelay = parseDurationOrZero(fc.Lifecycle.ReadyDelay, time.Second)
	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateService checks what cmd/service needs on top of Load's checks.
func (c *Config) ValidateService() error {
	if c.SensorURL == "" {
		return fmt.Errorf("sensor URL required (set SENSOR_URL, EXTERNAL_API_URL or sensor.url)")
	}
	if c.AlertsEnabled && c.AlertLowThreshold >= c.AlertHighThreshold {
		return fmt.Errorf("alerts.low (%v) must be below alerts.high (%v)", c.AlertLowThreshold, c.AlertHighThreshold)
	}
	return nil
}

// ValidateMonitor checks what cmd/monitor needs on top of Load's checks.
func (c *Config) ValidateMonitor() error {
	if c.MonitorBaseURL == "" {
		return fmt.Errorf("monitor base URL required (set HUMIDITY_BASE_URL or monitor.base_url)")
	}
	switch c.PushPermission {
	case "granted", "denied", "prompt":
	default:
		return fmt.Errorf("push.permission must be granted, denied or prompt, got %q", c.PushPermission)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero is kept so "0s" can disable a feature.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation shared by both binaries.
// Ensures SensorTimeout is positive, RequestTimeout exceeds it, and the cache backend and
// push QoS are valid. Auto-adjusts RequestTimeout if needed.
func validate(cfg *Config) error {
	if cfg.SensorTimeout <= 0 {
		return fmt.Errorf("sensor.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.SensorTimeout {
		cfg.RequestTimeout = cfg.SensorTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	if cfg.PushQoS < 0 || cfg.PushQoS > 2 {
		return fmt.Errorf("push.qos must be 0, 1 or 2, got %d", cfg.PushQoS)
	}
	return nil
}
