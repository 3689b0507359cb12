//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a Redis container and returns its endpoint
func setupRedisContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	cleanup := func() {
		redisContainer.Terminate(ctx)
	}

	return endpoint, cleanup
}

func TestRedisCache_Integration(t *testing.T) {
	endpoint, cleanup := setupRedisContainer(t)
	defer cleanup()

	ctx := context.Background()
	c, err := NewRedisProvider().Create(ctx, Config{
		Name:       "integration",
		Provider:   "redis",
		DefaultTTL: time.Minute,
		ProviderConfig: map[string]string{
			"url": "redis://" + endpoint + "/0",
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer c.Close()

	// Test 1: Round trip
	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, found, err := c.Get(ctx, "k")
	if err != nil || !found || string(value) != "v" {
		t.Fatalf("Get() = %q, %v, %v; want v, true, nil", value, found, err)
	}

	// Test 2: Expiry handled by the server
	if err := c.Set(ctx, "short", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	if ok, _ := c.Exists(ctx, "short"); ok {
		t.Error("short-lived key should have expired")
	}

	// Test 3: Counters
	n, err := c.Increment(ctx, "counter", 5)
	if err != nil || n != 5 {
		t.Fatalf("Increment() = %d, %v; want 5", n, err)
	}
	n, err = c.Increment(ctx, "counter", -2)
	if err != nil || n != 3 {
		t.Fatalf("Increment() = %d, %v; want 3", n, err)
	}
	if _, err := c.Increment(ctx, "k", 1); !errors.Is(err, ErrType) {
		t.Errorf("Increment() on text error = %v, want type error", err)
	}

	// Test 4: Clear and stats
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Size != 0 {
		t.Errorf("Size after Clear() = %d, want 0", stats.Size)
	}
}

func TestFallback_Integration_RedisOutage(t *testing.T) {
	endpoint, cleanup := setupRedisContainer(t)

	ctx := context.Background()
	registry := NewDefaultRegistry()
	c, err := registry.CreateCache(ctx, Config{
		Name:     "outage",
		Provider: "fallback",
		ProviderConfig: map[string]string{
			"primary.url":             "redis://" + endpoint + "/0",
			"primary.connect_retries": "0",
			"reconnect_interval":      "1h",
		},
	})
	if err != nil {
		cleanup()
		t.Fatalf("CreateCache() error = %v", err)
	}
	defer c.Close()

	f := c.(*FallbackCache)
	if f.Degraded() {
		t.Fatal("fallback should start healthy")
	}

	cleanup()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() during outage error = %v", err)
	}
	if !f.Degraded() {
		t.Error("fallback should be degraded after the primary went away")
	}

	value, found, err := c.Get(ctx, "k")
	if err != nil || !found || string(value) != "v" {
		t.Errorf("Get() during outage = %q, %v, %v; want v, true, nil", value, found, err)
	}
}
