package models

import "time"

// HumidityReading is a single relative-humidity sample in percent.
// The value is not range-checked; whatever the sensor reports is carried through.
type HumidityReading struct {
	Humidity  float64   `json:"humidity"`
	Timestamp time.Time `json:"timestamp"`
	Stale     bool      `json:"stale,omitempty"` // Served from stale cache after an upstream failure
}

// Device is a push registration known to the proxy.
type Device struct {
	Token        string    `json:"token"`
	Platform     string    `json:"platform,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
}
