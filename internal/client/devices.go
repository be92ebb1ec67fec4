package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DeviceClient registers push tokens with the humidity proxy so server-side alerts
// reach this device.
type DeviceClient struct {
	endpoint string
	client   *http.Client
}

// NewDeviceClient targets <baseURL>/devices.
func NewDeviceClient(baseURL string, timeout time.Duration) (*DeviceClient, error) {
	endpoint, err := joinEndpoint(baseURL, "/devices")
	if err != nil {
		return nil, err
	}
	return &DeviceClient{endpoint: endpoint, client: &http.Client{Timeout: timeout}}, nil
}

// Register posts the token. Both 201 (new) and 200 (already known) are success.
func (c *DeviceClient) Register(ctx context.Context, token, platform string) error {
	body, err := json.Marshal(map[string]string{"token": token, "platform": platform})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
