package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// overrideVars are the env vars Load consults.
var overrideVars = []string{
	"ENV_NAME", "SERVER_PORT", "SENSOR_URL", "EXTERNAL_API_URL", "HUMIDITY_BASE_URL",
	"CACHE_BACKEND", "MEMCACHED_ADDRS", "REDIS_ADDR", "REDIS_PASSWORD",
	"MQTT_BROKER", "MQTT_USERNAME", "MQTT_PASSWORD",
}

// clearEnv unsets every override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range overrideVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

// inTempProject writes config/dev.yaml into a temp dir and chdirs into it.
func inTempProject(t *testing.T, yamlContent string) string {
	t.Helper()
	clearEnv(t)
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	writeEnvFile(t, dir, yamlContent)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempProject(t, minimalEnvYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"ServerPort", cfg.ServerPort, "8080"},
		{"SensorURL", cfg.SensorURL, "http://192.168.1.50"},
		{"SensorPath", cfg.SensorPath, "/"},
		{"CacheBackend", cfg.CacheBackend, "in_memory"},
		{"CacheTTL", cfg.CacheTTL, 60 * time.Second},
		{"StaleCacheTTL", cfg.StaleCacheTTL, 10 * time.Minute},
		{"CoalesceEnabled", cfg.CoalesceEnabled, true},
		{"AlertLowThreshold", cfg.AlertLowThreshold, 30.0},
		{"AlertHighThreshold", cfg.AlertHighThreshold, 70.0},
		{"PushTopicPrefix", cfg.PushTopicPrefix, "humidity"},
		{"PushQoS", cfg.PushQoS, 1},
		{"PushPermission", cfg.PushPermission, "prompt"},
		{"MonitorPath", cfg.MonitorPath, "/humidity"},
		{"MonitorBarWidth", cfg.MonitorBarWidth, 40},
		{"MonitorLogFile", cfg.MonitorLogFile, "monitor.log"},
		{"RateLimitRPS", cfg.RateLimitRPS, 100},
		{"OverloadThresholdPct", cfg.OverloadThresholdPct, 80},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.RequestTimeout <= cfg.SensorTimeout {
		t.Errorf("RequestTimeout %v should exceed SensorTimeout %v", cfg.RequestTimeout, cfg.SensorTimeout)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	inTempProject(t, minimalEnvYAML)
	t.Setenv("ENV_NAME", "nonexistent")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	inTempProject(t, "server: [unclosed")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	inTempProject(t, minimalEnvYAML)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SENSOR_URL", "http://sensor.local")
	t.Setenv("HUMIDITY_BASE_URL", "http://proxy.local:8080")
	t.Setenv("CACHE_BACKEND", "REDIS")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("MQTT_BROKER", "tcp://mqtt:1883")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" || cfg.SensorURL != "http://sensor.local" || cfg.MonitorBaseURL != "http://proxy.local:8080" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.CacheBackend != "redis" || cfg.RedisAddr != "redis:6379" || cfg.MQTTBroker != "tcp://mqtt:1883" {
		t.Errorf("overrides not applied: backend=%q redis=%q mqtt=%q", cfg.CacheBackend, cfg.RedisAddr, cfg.MQTTBroker)
	}
}

// TestLoad_ExternalAPIURLAlias verifies the legacy variable still selects the sensor.
func TestLoad_ExternalAPIURLAlias(t *testing.T) {
	inTempProject(t, "sensor:\n  timeout: \"2s\"\n")
	t.Setenv("EXTERNAL_API_URL", "http://legacy-sensor")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SensorURL != "http://legacy-sensor" {
		t.Errorf("SensorURL = %q, want legacy value", cfg.SensorURL)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := inTempProject(t, "sensor:\n  timeout: \"2s\"\n")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SENSOR_URL=http://from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SensorURL != "http://from-dotenv" {
		t.Errorf("SensorURL = %q, want value from .env", cfg.SensorURL)
	}
}

func TestLoad_EmptyAndInvalidDurationsFallBackToDefault(t *testing.T) {
	inTempProject(t, `
sensor:
  url: "http://sensor"
  timeout: "not-a-duration"
cache:
  ttl: ""
  stale_ttl: "bogus"
monitor:
  fetch_timeout: "-1s"
`)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SensorTimeout != 3*time.Second {
		t.Errorf("SensorTimeout = %v, want 3s", cfg.SensorTimeout)
	}
	if cfg.CacheTTL != 60*time.Second {
		t.Errorf("CacheTTL = %v, want 60s", cfg.CacheTTL)
	}
	if cfg.StaleCacheTTL != 10*time.Minute {
		t.Errorf("StaleCacheTTL = %v, want 10m", cfg.StaleCacheTTL)
	}
	if cfg.MonitorFetchTimeout != 10*time.Second {
		t.Errorf("MonitorFetchTimeout = %v, want 10s", cfg.MonitorFetchTimeout)
	}
}

func TestLoad_ZeroDisablesFeatures(t *testing.T) {
	inTempProject(t, minimalEnvYAML+`
cache:
  stale_ttl: "0s"
  coalesce: false
alerts:
  poll_interval: "0s"
  pending_duration: "0s"
`)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StaleCacheTTL != 0 || cfg.CoalesceEnabled || cfg.PollInterval != 0 || cfg.AlertPendingDuration != 0 {
		t.Errorf("zero values not kept: stale=%v coalesce=%v poll=%v pending=%v",
			cfg.StaleCacheTTL, cfg.CoalesceEnabled, cfg.PollInterval, cfg.AlertPendingDuration)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero sensor timeout", "sensor:\n  timeout: \"0s\"\n", "sensor.timeout"},
		{"unknown cache backend", "cache:\n  backend: \"etcd\"\n", "cache.backend"},
		{"qos out of range", "push:\n  qos: 3\n", "push.qos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inTempProject(t, tt.yaml)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestConfig_ValidateService(t *testing.T) {
	cfg := &Config{SensorURL: "http://sensor", AlertLowThreshold: 30, AlertHighThreshold: 70, AlertsEnabled: true}
	if err := cfg.ValidateService(); err != nil {
		t.Errorf("ValidateService() error = %v", err)
	}
	if err := (&Config{}).ValidateService(); err == nil || !strings.Contains(err.Error(), "SENSOR_URL") {
		t.Errorf("ValidateService() error = %v, want sensor URL error", err)
	}
	inverted := &Config{SensorURL: "http://sensor", AlertLowThreshold: 80, AlertHighThreshold: 20, AlertsEnabled: true}
	if err := inverted.ValidateService(); err == nil {
		t.Error("ValidateService() expected error for inverted thresholds")
	}
}

func TestConfig_ValidateMonitor(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{MonitorBaseURL: "http://proxy", PushPermission: "prompt"}, false},
		{"missing base url", Config{PushPermission: "granted"}, true},
		{"bad permission", Config{MonitorBaseURL: "http://proxy", PushPermission: "maybe"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.ValidateMonitor(); (err != nil) != tt.wantErr {
				t.Errorf("ValidateMonitor() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestLoad_ProjectConfig loads the checked-in config/dev.yaml.
func TestLoad_ProjectConfig(t *testing.T) {
	root := findProjectRoot(t)
	clearEnv(t)
	origWd, _ := os.Getwd()
	if err := os.Chdir(root); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.ValidateService(); err != nil {
		t.Errorf("ValidateService() error = %v", err)
	}
	if err := cfg.ValidateMonitor(); err != nil {
		t.Errorf("ValidateMonitor() error = %v", err)
	}
}

const minimalEnvYAML = `
server:
  port: "8080"
sensor:
  url: "http://192.168.1.50"
  timeout: "2s"
`

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

// TestCoverageGaps_IntentionallyUntested documents paths we reviewed but chose not to test.
func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Run("Load_read_config_error", func(t *testing.T) {
		t.Skip("ReadFile error path (permission denied, etc.) would require injecting failure")
	})
	t.Run("validate_RequestTimeout_branch", func(t *testing.T) {
		t.Skip("RequestTimeout is auto-adjusted inside validate; there is no failing branch to reach")
	})
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
