package cache

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/cachekit/pkg/logging"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultKeyPrefix namespaces every Redis key written by a RedisCache.
	DefaultKeyPrefix = "cache"

	// DefaultConnectRetries is how often the initial PING is retried.
	DefaultConnectRetries = 2

	scanBatch = 500
)

// RedisCache is a Cache backed by a Redis server. Keys are namespaced as
// prefix:name:key so several caches can share one database. TTLs and
// memory bounds are enforced by Redis itself.
type RedisCache struct {
	cfg        Config
	client     *redis.Client
	keys       KeySpace
	ownsClient bool
	logger     zerolog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisCache wraps a client owned by the caller. Close does not close it.
// Provider settings: key_prefix.
func NewRedisCache(client *redis.Client, cfg Config) (*RedisCache, error) {
	if client == nil {
		return nil, newError(KindConfiguration, cfg.Name, "new redis cache", "redis client cannot be nil")
	}
	cfg = cfg.clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &RedisCache{
		cfg:    cfg,
		client: client,
		keys: KeySpace{
			Prefix: cfg.Setting("key_prefix", DefaultKeyPrefix),
			Cache:  cfg.Name,
		},
		logger: logging.NewLogger("cache.redis").With().Str("cache", cfg.Name).Logger(),
	}, nil
}

// Name returns the cache name.
func (c *RedisCache) Name() string { return c.cfg.Name }

// Config returns the cache configuration.
func (c *RedisCache) Config() Config { return c.cfg.clone() }

// Codec returns the codec used by typed adapters.
func (c *RedisCache) Codec() Codec { return JSONCodec{} }

// Client returns the underlying Redis client.
func (c *RedisCache) Client() *redis.Client { return c.client }

// Get retrieves the value for key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.keys.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			CacheMisses.WithLabelValues(c.cfg.Name).Inc()
			return nil, false, nil
		}
		return nil, false, c.fail("get", err)
	}

	c.hits.Add(1)
	CacheHits.WithLabelValues(c.cfg.Name).Inc()
	return data, true, nil
}

// Set stores value with ttl, or the default TTL when ttl <= 0.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	if err := c.client.Set(ctx, c.keys.Key(key), value, ttl).Err(); err != nil {
		return c.fail("set", err)
	}
	return nil
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Del(ctx, c.keys.Key(key)).Result()
	if err != nil {
		return false, c.fail("delete", err)
	}
	return n > 0, nil
}

// Exists reports whether key is present.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.keys.Key(key)).Result()
	if err != nil {
		return false, c.fail("exists", err)
	}
	return n > 0, nil
}

// Clear removes every key of this cache's namespace.
func (c *RedisCache) Clear(ctx context.Context) error {
	removed := 0
	err := c.scan(ctx, func(keys []string) error {
		if err := c.client.Unlink(ctx, keys...).Err(); err != nil {
			return err
		}
		removed += len(keys)
		return nil
	})
	if err != nil {
		return c.fail("clear", err)
	}

	c.logger.Debug().Int("removed", removed).Msg("Cleared redis cache")
	return nil
}

// Increment adds delta to the counter under key. A new counter gets the
// default TTL; an existing one keeps its expiry.
func (c *RedisCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	storeKey := c.keys.Key(key)

	if err := c.client.SetNX(ctx, storeKey, 0, c.cfg.DefaultTTL).Err(); err != nil {
		return 0, c.fail("increment", err)
	}

	n, err := c.client.IncrBy(ctx, storeKey, delta).Result()
	if err != nil {
		return 0, c.fail("increment", err)
	}
	return n, nil
}

// GetMany fetches keys with a single MGET.
func (c *RedisCache) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := c.client.MGet(ctx, c.keys.Keys(keys)...).Result()
	if err != nil {
		return nil, c.fail("get_many", err)
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			c.misses.Add(1)
			CacheMisses.WithLabelValues(c.cfg.Name).Inc()
			continue
		}
		c.hits.Add(1)
		CacheHits.WithLabelValues(c.cfg.Name).Inc()
		out[keys[i]] = []byte(s)
	}
	return out, nil
}

// DeleteMany removes keys with a single DEL.
func (c *RedisCache) DeleteMany(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.client.Del(ctx, c.keys.Keys(keys)...).Result()
	if err != nil {
		return 0, c.fail("delete_many", err)
	}
	return int(n), nil
}

// Stats counts the namespace with SCAN. Evictions are performed by Redis
// and are not tracked.
func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	size := 0
	err := c.scan(ctx, func(keys []string) error {
		size += len(keys)
		return nil
	})
	if err != nil {
		return Stats{}, c.fail("stats", err)
	}

	return Stats{
		Size:     size,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Capacity: c.cfg.Capacity,
		Custom: map[string]string{
			"provider":   "redis",
			"key_prefix": c.keys.Prefix,
			"addr":       c.client.Options().Addr,
		},
	}, nil
}

// Close closes the client if the cache created it.
func (c *RedisCache) Close() error {
	if !c.ownsClient {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return wrapError(KindConnection, c.cfg.Name, "close", err)
	}
	return nil
}

func (c *RedisCache) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.keys.Pattern(), scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// fail classifies a Redis error and records it.
func (c *RedisCache) fail(op string, err error) error {
	CacheErrors.WithLabelValues(c.cfg.Name, op).Inc()

	kind := KindConnection
	msg := err.Error()
	if strings.Contains(msg, "not an integer") || strings.Contains(msg, "WRONGTYPE") {
		kind = KindType
	} else if strings.Contains(msg, "overflow") {
		kind = KindOperation
	}
	return wrapError(kind, c.cfg.Name, op, err)
}

// RedisProvider builds RedisCache instances.
//
// Provider settings:
//   - url: redis:// URL (takes precedence over addr, password and db)
//   - addr, password, db: connection parameters (addr defaults to localhost:6379)
//   - key_prefix: key namespace (default "cache")
//   - connect_retries: PING retries before giving up (default 2)
//   - dial_timeout: connection timeout (default 5s)
type RedisProvider struct{}

// NewRedisProvider creates the Redis provider.
func NewRedisProvider() *RedisProvider {
	return &RedisProvider{}
}

// Name implements Provider.
func (p *RedisProvider) Name() string { return "redis" }

// Supports implements Provider.
func (p *RedisProvider) Supports(cfg Config) bool {
	return cfg.Provider == "redis"
}

// Capabilities implements Provider.
func (p *RedisProvider) Capabilities() map[string]string {
	return map[string]string{
		"persistent":  "true",
		"distributed": "true",
		"eviction":    "server",
		"ttl":         "true",
		"increment":   "true",
		"typed":       "true",
	}
}

// Create connects to Redis, retrying the initial PING with exponential
// backoff, and returns a cache that owns the client.
func (p *RedisProvider) Create(ctx context.Context, cfg Config) (Cache, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	retries, err := cfg.IntSetting("connect_retries", DefaultConnectRetries)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := pingWithRetry(ctx, client, retries); err != nil {
		_ = client.Close()
		return nil, wrapError(KindConnection, cfg.Name, "connect "+opts.Addr, err)
	}

	c, err := NewRedisCache(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	c.ownsClient = true

	c.logger.Info().Str("addr", opts.Addr).Msg("Connected to redis")
	return c, nil
}

func redisOptions(cfg Config) (*redis.Options, error) {
	var opts *redis.Options
	if url := cfg.Setting("url", ""); url != "" {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, wrapError(KindConfiguration, cfg.Name, "parse url", err)
		}
		opts = parsed
	} else {
		db, err := cfg.IntSetting("db", 0)
		if err != nil {
			return nil, err
		}
		opts = &redis.Options{
			Addr:     cfg.Setting("addr", "localhost:6379"),
			Password: cfg.Setting("password", ""),
			DB:       db,
		}
	}

	dialTimeout, err := cfg.DurationSetting("dial_timeout", 5*time.Second)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = dialTimeout
	return opts, nil
}

func pingWithRetry(ctx context.Context, client *redis.Client, retries int) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	operation := func() error {
		return client.Ping(ctx).Err()
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(retries, 0))), ctx))
}
