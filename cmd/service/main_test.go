package main

import (
	"testing"
	"time"

	"github.com/kjstillabower/humidity-monitor/internal/alerting"
	"github.com/kjstillabower/humidity-monitor/internal/cache"
	"github.com/kjstillabower/humidity-monitor/internal/config"
)

func TestAlertRules(t *testing.T) {
	cfg := &config.Config{AlertLowThreshold: 30, AlertHighThreshold: 70, AlertPendingDuration: time.Minute}
	rules := alertRules(cfg)
	if len(rules) != 2 {
		t.Fatalf("len(rules) = %d, want 2", len(rules))
	}
	if rules[0].Operator != alerting.OperatorBelow || rules[0].Threshold != 30 {
		t.Errorf("low rule = %+v", rules[0])
	}
	if rules[1].Operator != alerting.OperatorAbove || rules[1].Threshold != 70 || rules[1].Duration != time.Minute {
		t.Errorf("high rule = %+v", rules[1])
	}
	if _, err := alerting.NewEvaluator(rules, nil, nil, nil); err != nil {
		t.Errorf("rules rejected: %v", err)
	}
}

func TestNewCache_InMemoryDefault(t *testing.T) {
	c, ping, closeFn, err := newCache(&config.Config{CacheBackend: "in_memory"})
	if err != nil {
		t.Fatalf("newCache() error = %v", err)
	}
	if _, ok := c.(*cache.InMemoryCache); !ok {
		t.Errorf("cache = %T, want *cache.InMemoryCache", c)
	}
	if ping != nil || closeFn != nil {
		t.Error("in-memory cache should have no ping or close")
	}
}

func TestNewCache_Redis(t *testing.T) {
	c, ping, closeFn, err := newCache(&config.Config{CacheBackend: "redis", RedisAddr: "localhost:6379", RedisTimeout: time.Second})
	if err != nil {
		t.Fatalf("newCache() error = %v", err)
	}
	defer func() { _ = closeFn() }()
	if _, ok := c.(*cache.RedisCache); !ok {
		t.Errorf("cache = %T, want *cache.RedisCache", c)
	}
	if ping == nil {
		t.Error("redis cache should expose ping")
	}
}
