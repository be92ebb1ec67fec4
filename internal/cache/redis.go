package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/humidity-monitor/internal/models"
)

// RedisCache implements Cache on a single Redis instance.
type RedisCache struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisCache creates a RedisCache. Like memcached, entries outlive their TTL by
// retention so stale reads work.
func NewRedisCache(addr, password string, db int, timeout time.Duration, retention time.Duration) *RedisCache {
	opts := &redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	return &RedisCache{client: redis.NewClient(opts), retention: retention}
}

func (c *RedisCache) load(ctx context.Context, key string) (entry, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, fmt.Errorf("redis get: %w", err)
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return entry{}, false, fmt.Errorf("redis decode: %w", err)
	}
	return e, true, nil
}

// Get implements Cache.Get.
func (c *RedisCache) Get(ctx context.Context, key string) (models.HumidityReading, bool, error) {
	e, ok, err := c.load(ctx, key)
	if err != nil || !ok || !e.fresh(time.Now()) {
		return models.HumidityReading{}, false, err
	}
	return e.Value, true, nil
}

// GetStale implements Cache.GetStale.
func (c *RedisCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.HumidityReading, bool, error) {
	e, ok, err := c.load(ctx, key)
	if err != nil || !ok || !e.usableStale(time.Now(), maxStaleAge) {
		return models.HumidityReading{}, false, err
	}
	return e.Value, true, nil
}

// Set implements Cache.Set.
func (c *RedisCache) Set(ctx context.Context, key string, value models.HumidityReading, ttl time.Duration) error {
	raw, err := encodeEntry(value, ttl, time.Now())
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, ttl+c.retention).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks if redis is reachable. Used for health checks.
func (c *RedisCache) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close closes the redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
