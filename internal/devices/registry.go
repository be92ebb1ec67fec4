// Package devices keeps the push tokens of clients that asked for humidity alerts.
package devices

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/humidity-monitor/internal/models"
	"github.com/kjstillabower/humidity-monitor/internal/observability"
)

// ErrInvalidToken is returned for empty tokens or tokens that cannot be used as an
// MQTT topic level.
var ErrInvalidToken = errors.New("invalid device token")

// Registry is an in-memory set of devices keyed by push token. Nothing is persisted;
// clients re-register on every launch.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]models.Device
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]models.Device), now: time.Now}
}

// ValidateToken rejects tokens containing MQTT wildcards or topic separators.
func ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" || strings.ContainsAny(token, "/+# ") {
		return ErrInvalidToken
	}
	return nil
}

// Register adds or refreshes a device. created is false when the token was already known.
func (r *Registry) Register(token, platform string) (device models.Device, created bool, err error) {
	if err := ValidateToken(token); err != nil {
		return models.Device{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.devices[token]
	device = models.Device{Token: token, Platform: platform, RegisteredAt: r.now().UTC()}
	r.devices[token] = device
	observability.PushDevicesRegistered.Set(float64(len(r.devices)))
	return device, !exists, nil
}

// Unregister removes a device and reports whether it was present.
func (r *Registry) Unregister(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[token]; !ok {
		return false
	}
	delete(r.devices, token)
	observability.PushDevicesRegistered.Set(float64(len(r.devices)))
	return true
}

// Tokens returns the registered tokens in sorted order.
func (r *Registry) Tokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokens := make([]string, 0, len(r.devices))
	for t := range r.devices {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
