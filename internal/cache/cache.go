package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kjstillabower/humidity-monitor/internal/models"
)

// Cache stores humidity readings. Get only returns unexpired entries; GetStale returns an
// entry past its TTL as long as the reading itself is younger than maxStaleAge.
type Cache interface {
	Get(ctx context.Context, key string) (models.HumidityReading, bool, error)
	GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.HumidityReading, bool, error)
	Set(ctx context.Context, key string, value models.HumidityReading, ttl time.Duration) error
}

// entry is the stored form shared by all backends. Remote backends keep it around
// longer than ExpiresAt so stale reads remain possible.
type entry struct {
	Value     models.HumidityReading `json:"value"`
	ExpiresAt time.Time              `json:"expiresAt"`
}

func (e entry) fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

func (e entry) usableStale(now time.Time, maxStaleAge time.Duration) bool {
	return maxStaleAge > 0 && now.Sub(e.Value.Timestamp) <= maxStaleAge
}

func encodeEntry(value models.HumidityReading, ttl time.Duration, now time.Time) ([]byte, error) {
	return json.Marshal(entry{Value: value, ExpiresAt: now.Add(ttl)})
}

func decodeEntry(raw []byte) (entry, error) {
	var e entry
	err := json.Unmarshal(raw, &e)
	return e, err
}

// InMemoryCache implements Cache with a mutex-guarded map. Expired entries stay in the
// map until overwritten so they can serve stale reads.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

// Get returns (reading, true, nil) on a hit and (zero, false, nil) on a miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.HumidityReading, bool, error) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || !e.fresh(c.now()) {
		return models.HumidityReading{}, false, nil
	}
	return e.Value, true, nil
}

// GetStale returns the stored reading regardless of TTL if it is no older than maxStaleAge.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.HumidityReading, bool, error) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || !e.usableStale(c.now(), maxStaleAge) {
		return models.HumidityReading{}, false, nil
	}
	return e.Value, true, nil
}

// Set stores the reading; it stops being returned by Get after ttl.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.HumidityReading, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = entry{Value: value, ExpiresAt: c.now().Add(ttl)}
	return nil
}
