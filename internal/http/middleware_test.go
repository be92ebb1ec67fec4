package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/humidity-monitor/internal/traffic"
)

func TestCorrelationIDMiddleware_GeneratesAndPropagates(t *testing.T) {
	var seenID string
	var seenLogger bool
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		seenID, _ = r.Context().Value("correlation_id").(string)
		_, seenLogger = r.Context().Value("logger").(*zap.Logger)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	if seenID == "" || w.Header().Get("X-Correlation-ID") != seenID || !seenLogger {
		t.Errorf("generated id=%q header=%q logger=%v", seenID, w.Header().Get("X-Correlation-ID"), seenLogger)
	}

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Correlation-ID", "given-id")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if seenID != "given-id" || w.Header().Get("X-Correlation-ID") != "given-id" {
		t.Errorf("propagated id=%q", seenID)
	}
}

func TestGetRoute_UsesTemplate(t *testing.T) {
	var route string
	router := mux.NewRouter()
	router.HandleFunc("/devices/{token}", func(w http.ResponseWriter, r *http.Request) {
		route = getRoute(r)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/devices/secret-token", nil))
	if route != "/devices/{token}" {
		t.Errorf("getRoute() = %q, want template", route)
	}
	if got := getRoute(httptest.NewRequest("GET", "/nope", nil)); got != "unmatched" {
		t.Errorf("getRoute() = %q, want unmatched", got)
	}
}

func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	var during int64
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		during = InFlightCount()
		w.WriteHeader(http.StatusTeapot)
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	if during < 1 {
		t.Errorf("InFlightCount() during request = %d, want >= 1", during)
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want recorder to pass through", w.Code)
	}
}

func TestStatusCodeString(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 204: "2xx", 429: "4xx", 502: "5xx"} {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	var ctxErr error
	handler := TimeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		ctxErr = r.Context().Err()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/humidity", nil))
	if ctxErr != context.DeadlineExceeded {
		t.Errorf("ctx.Err() = %v, want DeadlineExceeded", ctxErr)
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	tracker := traffic.NewTracker(time.Minute)
	limiter := rate.NewLimiter(rate.Limit(1), 2)
	handler := RateLimitMiddleware(limiter, tracker)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/humidity", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
	if tracker.Count(time.Minute, traffic.Denied) != 1 {
		t.Error("denial not recorded")
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := false
	handler := RateLimitMiddleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/humidity", nil))
	if !called {
		t.Error("handler not called with nil limiter")
	}
}
