// Package cache provides a pluggable caching subsystem.
//
// Every cache instance implements the byte-oriented Cache interface, so
// instances of different providers can be stored, composed and passed
// around as plain interface values:
//
//   - MemoryCache: in-process engine with capacity bounds, six eviction
//     policies (lru, lfu, fifo, ttl, random, none) and a background expiry sweep
//   - RedisCache: Redis-backed cache with namespaced keys
//   - TwoTierCache: fast tier in front of a slow tier, with read promotion
//   - FallbackCache: primary/secondary failover with self-healing reconnection
//
// # Basic Usage
//
//	c, err := cache.NewMemoryCache(cache.DefaultConfig("sessions"))
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	if err := c.Set(ctx, "user:42", []byte("alice"), 5*time.Minute); err != nil {
//		return err
//	}
//	value, found, err := c.Get(ctx, "user:42")
//
// # Typed Access
//
// Typed builds a generic adapter on top of any cache implementing
// TypedSupport. Values that fail to decode are logged and reported as misses.
//
//	users := cache.Typed[User](c)
//	err := users.Set(ctx, "42", User{Name: "alice"}, 0)
//	user, found, err := users.Get(ctx, "42")
//
// # Providers
//
// A Registry maps provider names to factories. Config.Provider selects the
// provider; when it is unknown or does not support the config, the first
// registered provider that does is used.
//
//	registry := cache.NewDefaultRegistry()
//	svc := cache.NewService(registry)
//	c, err := svc.GetCache(ctx, cache.Config{
//		Name:     "catalog",
//		Provider: "fallback",
//		ProviderConfig: map[string]string{
//			"primary.url":        "redis://localhost:6379/0",
//			"reconnect_interval": "10s",
//		},
//	})
//
// # Metrics
//
// All caches export Prometheus metrics labelled by cache name:
//
//   - cache_hits_total, cache_misses_total
//   - cache_evictions_total{reason} - "capacity" or "expired"
//   - cache_entries - current entries of memory caches
//   - cache_errors_total{operation}
//   - cache_promotions_total - two-tier promotions
//   - cache_fallback_degraded, cache_fallback_transitions_total{state}
//
// # Errors
//
// Operations return *Error values classified by ErrorKind; use errors.Is with
// the Err* sentinels or KindOf to branch on the kind.
package cache
