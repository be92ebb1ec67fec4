package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/humidity-monitor/internal/client"
	"github.com/kjstillabower/humidity-monitor/internal/devices"
	"github.com/kjstillabower/humidity-monitor/internal/lifecycle"
	"github.com/kjstillabower/humidity-monitor/internal/models"
	"github.com/kjstillabower/humidity-monitor/internal/traffic"
)

// HumidityGetter is implemented by service.HumidityService.
type HumidityGetter interface {
	GetHumidity(ctx context.Context) (models.HumidityReading, error)
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// CachePing, when set, is called to check cache reachability. Used for memcached and redis.
	CachePing func() error
	// BrokerConnected, when set, reports push broker connectivity.
	BrokerConnected func() bool
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	humidity         HumidityGetter
	devices          *devices.Registry
	tracker          *traffic.Tracker
	lifecycle        *lifecycle.State
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. devices may be nil when push is disabled; the device
// routes then answer 404.
func NewHandler(
	humidity HumidityGetter,
	registry *devices.Registry,
	tracker *traffic.Tracker,
	state *lifecycle.State,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker(0)
	}
	if state == nil {
		state = lifecycle.New()
		state.MarkReady()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		humidity:     humidity,
		devices:      registry,
		tracker:      tracker,
		lifecycle:    state,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetHumidity handles GET /humidity and the legacy GET /.
func (h *Handler) GetHumidity(w http.ResponseWriter, r *http.Request) {
	reading, err := h.humidity.GetHumidity(r.Context())
	if err != nil {
		h.tracker.Record(traffic.Failure)
		writeServiceError(w, r, err)
		return
	}
	h.tracker.Record(traffic.Success)
	writeJSON(w, http.StatusOK, reading)
}

type registerDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// RegisterDevice handles POST /devices. Returns 201 for a new token and 200 when the
// token was already registered.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	if h.devices == nil {
		writeError(w, r, http.StatusNotFound, "PUSH_DISABLED", "push notifications are not enabled")
		return
	}
	var body registerDeviceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10))
	if err := dec.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with a token")
		return
	}
	device, created, err := h.devices.Register(body.Token, body.Platform)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_TOKEN", err.Error())
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		loggerFrom(r, h.logger).Info("device registered", zap.String("platform", device.Platform))
	}
	writeJSON(w, status, device)
}

// DeleteDevice handles DELETE /devices/{token}.
func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	if h.devices == nil {
		writeError(w, r, http.StatusNotFound, "PUSH_DISABLED", "push notifications are not enabled")
		return
	}
	if !h.devices.Unregister(mux.Vars(r)["token"]) {
		writeError(w, r, http.StatusNotFound, "DEVICE_NOT_FOUND", "device not registered")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "error_rate_breach" {
		checks["sensor"] = "unhealthy"
	} else {
		checks["sensor"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		checks["cache"] = healthyIf(h.healthConfig.CachePing() == nil)
	}
	if h.healthConfig != nil && h.healthConfig.BrokerConnected != nil {
		checks["push"] = healthyIf(h.healthConfig.BrokerConnected())
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "humidity-monitor",
		"version":   "dev",
		"uptime":    h.lifecycle.Uptime().Truncate(time.Second).String(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func healthyIf(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unhealthy"
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	switch h.lifecycle.Phase() {
	case lifecycle.ShuttingDown:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	case lifecycle.Starting:
		return healthResult{"starting", http.StatusServiceUnavailable, "ready_delay"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	cfg := h.healthConfig
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(h.tracker.Count(cfg.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		failures, total := h.tracker.FailureRate(cfg.DegradedWindow)
		if total > 0 && float64(failures)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError maps a sensor failure onto a gateway error. The category is logged
// at DEBUG; clients only see the code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	switch {
	case errors.Is(err, client.ErrUpstreamStatus):
		status, code = http.StatusBadGateway, "UPSTREAM_STATUS"
	case errors.Is(err, client.ErrMalformedBody):
		status, code = http.StatusBadGateway, "UPSTREAM_MALFORMED"
	}
	writeError(w, r, status, code, "Unable to fetch humidity")
	loggerFrom(r, zap.NewNop()).Debug("upstream error",
		zap.Error(err),
		zap.String("category", string(client.CategorizeError(err))))
}

func loggerFrom(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}
