package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/humidity-monitor/internal/observability"
	"github.com/kjstillabower/humidity-monitor/internal/traffic"
)

// NewRouter wires the proxy routes. Sensor-backed routes get rate limiting and the
// request timeout; /health, /metrics and device routes do not.
func NewRouter(h *Handler, limiter *rate.Limiter, tracker *traffic.Tracker, requestTimeout time.Duration, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/devices", h.RegisterDevice).Methods(http.MethodPost)
	router.HandleFunc("/devices/{token}", h.DeleteDevice).Methods(http.MethodDelete)

	humidity := router.NewRoute().Subrouter()
	humidity.Use(RateLimitMiddleware(limiter, tracker))
	humidity.Use(TimeoutMiddleware(requestTimeout))
	humidity.HandleFunc("/humidity", h.GetHumidity).Methods(http.MethodGet)
	// The sensor proxy historically served the reading at its root.
	humidity.HandleFunc("/", h.GetHumidity).Methods(http.MethodGet)
	return router
}
