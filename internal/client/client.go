package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/humidity-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/humidity-monitor/internal/models"
	"github.com/kjstillabower/humidity-monitor/internal/observability"
)

// HumidityFetcher returns one reading per call.
type HumidityFetcher interface {
	FetchHumidity(ctx context.Context) (models.HumidityReading, error)
}

var (
	ErrTransport      = errors.New("humidity endpoint unreachable")
	ErrUpstreamStatus = errors.New("humidity endpoint returned failure status")
	ErrMalformedBody  = errors.New("humidity response malformed")
	ErrInvalidURL     = errors.New("invalid humidity endpoint URL")
)

// maxBodyBytes bounds how much of a response is read. The payload is a single small object.
const maxBodyBytes = 64 << 10

// HumidityClient issues GET <base><path> and extracts the "humidity" field.
// It never retries: each FetchHumidity is exactly one request.
type HumidityClient struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	breaker  *circuitbreaker.CircuitBreaker
}

// NewHumidityClient validates baseURL and joins it with path ("/humidity", or "/" for the
// sensor firmware). timeout bounds each request; zero means no client-side timeout.
func NewHumidityClient(baseURL, path string, timeout time.Duration) (*HumidityClient, error) {
	endpoint, err := joinEndpoint(baseURL, path)
	if err != nil {
		return nil, err
	}
	return &HumidityClient{
		endpoint: endpoint,
		timeout:  timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker guards every fetch with cb. Pass nil to disable.
func (c *HumidityClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Endpoint returns the full URL fetched by FetchHumidity.
func (c *HumidityClient) Endpoint() string {
	return c.endpoint
}

// humidityResponse covers both the sensor body ({"humidity": N}) and the proxy body,
// which adds the sample timestamp and the stale flag. Those two are optional and never
// make a body malformed.
type humidityResponse struct {
	Humidity  *float64        `json:"humidity"`
	Timestamp json.RawMessage `json:"timestamp"`
	Stale     json.RawMessage `json:"stale"`
}

// FetchHumidity performs one GET and returns the reading. Transport failures wrap
// ErrTransport, non-2xx statuses wrap ErrUpstreamStatus and undecodable bodies wrap
// ErrMalformedBody. An open circuit breaker is reported as a transport failure.
func (c *HumidityClient) FetchHumidity(ctx context.Context) (models.HumidityReading, error) {
	if c.breaker == nil {
		return c.fetch(ctx)
	}
	var reading models.HumidityReading
	err := c.breaker.Call(ctx, func() error {
		var ferr error
		reading, ferr = c.fetch(ctx)
		return ferr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		observability.HumidityFetchTotal.WithLabelValues("circuit_open").Inc()
		return models.HumidityReading{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return reading, err
}

func (c *HumidityClient) fetch(ctx context.Context) (models.HumidityReading, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		observability.HumidityFetchTotal.WithLabelValues("error").Inc()
		return models.HumidityReading{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.HumidityFetchTotal.WithLabelValues("error").Inc()
		observability.HumidityFetchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return models.HumidityReading{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.HumidityFetchTotal.WithLabelValues(status).Inc()
	observability.HumidityFetchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.HumidityReading{}, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.HumidityReading{}, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	return parseReading(body)
}

// parseReading requires a JSON object with a numeric "humidity" field.
// Missing, null and non-numeric values are all malformed. An absent or unparseable
// timestamp is replaced by the receive time.
func parseReading(body []byte) (models.HumidityReading, error) {
	var r humidityResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return models.HumidityReading{}, fmt.Errorf("%w: parse: %v", ErrMalformedBody, err)
	}
	if r.Humidity == nil {
		return models.HumidityReading{}, fmt.Errorf("%w: humidity field missing", ErrMalformedBody)
	}
	var ts time.Time
	if len(r.Timestamp) == 0 || json.Unmarshal(r.Timestamp, &ts) != nil || ts.IsZero() {
		ts = time.Now()
	}
	return models.HumidityReading{
		Humidity:  *r.Humidity,
		Timestamp: ts,
		Stale:     string(r.Stale) == "true",
	}, nil
}

// StatusError carries the upstream status code of a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: HTTP %d", ErrUpstreamStatus, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrUpstreamStatus }

func joinEndpoint(baseURL, path string) (string, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return "", fmt.Errorf("%w: base URL is required", ErrInvalidURL)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
