package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/cachekit/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TwoTierCache composes a fast and a slow cache. Reads try the fast tier
// first and promote slow-tier hits into it; writes go to both tiers
// concurrently and succeed when at least one tier accepts them.
type TwoTierCache struct {
	cfg    Config
	fast   Cache
	slow   Cache
	logger zerolog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64

	promoteMu  sync.Mutex
	closed     bool
	promotions sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error
}

// NewTwoTierCache combines fast and slow under cfg.Name. The combinator owns
// both tiers and closes them on Close.
func NewTwoTierCache(cfg Config, fast, slow Cache) *TwoTierCache {
	return &TwoTierCache{
		cfg:    cfg.clone(),
		fast:   fast,
		slow:   slow,
		logger: logging.NewLogger("cache.two_tier").With().Str("cache", cfg.Name).Logger(),
	}
}

// Name returns the cache name.
func (t *TwoTierCache) Name() string { return t.cfg.Name }

// Config returns the cache configuration.
func (t *TwoTierCache) Config() Config { return t.cfg.clone() }

// Codec returns the codec used by typed adapters.
func (t *TwoTierCache) Codec() Codec { return JSONCodec{} }

// Fast returns the fast tier.
func (t *TwoTierCache) Fast() Cache { return t.fast }

// Slow returns the slow tier.
func (t *TwoTierCache) Slow() Cache { return t.slow }

// Get reads the fast tier, then the slow tier. A slow-tier hit is promoted
// into the fast tier in the background.
func (t *TwoTierCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, found, err := t.fast.Get(ctx, key)
	if err != nil {
		t.logger.Warn().Err(err).Str("tier", "fast").Str("key", key).Msg("Fast tier read failed, trying slow tier")
	} else if found {
		t.recordHit()
		return value, true, nil
	}

	value, found, err = t.slow.Get(ctx, key)
	if err != nil {
		CacheErrors.WithLabelValues(t.cfg.Name, "get").Inc()
		t.recordMiss()
		return nil, false, err
	}
	if !found {
		t.recordMiss()
		return nil, false, nil
	}

	t.recordHit()
	t.promote(ctx, map[string][]byte{key: value})
	return value, true, nil
}

// Set writes both tiers concurrently. It fails only when both tiers fail,
// returning the slow tier's error.
func (t *TwoTierCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	fastErr, slowErr := t.both(
		func() error { return t.fast.Set(ctx, key, value, ttl) },
		func() error { return t.slow.Set(ctx, key, value, ttl) },
	)
	return t.settle("set", key, fastErr, slowErr)
}

// Delete removes key from both tiers concurrently.
func (t *TwoTierCache) Delete(ctx context.Context, key string) (bool, error) {
	var fastRemoved, slowRemoved bool
	fastErr, slowErr := t.both(
		func() (err error) { fastRemoved, err = t.fast.Delete(ctx, key); return err },
		func() (err error) { slowRemoved, err = t.slow.Delete(ctx, key); return err },
	)
	if err := t.settle("delete", key, fastErr, slowErr); err != nil {
		return false, err
	}
	return fastRemoved || slowRemoved, nil
}

// Exists checks the fast tier, then the slow tier.
func (t *TwoTierCache) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := t.fast.Exists(ctx, key)
	if err == nil && ok {
		return true, nil
	}
	if err != nil {
		t.logger.Warn().Err(err).Str("tier", "fast").Str("key", key).Msg("Fast tier exists failed, trying slow tier")
	}
	return t.slow.Exists(ctx, key)
}

// Clear empties both tiers concurrently.
func (t *TwoTierCache) Clear(ctx context.Context) error {
	fastErr, slowErr := t.both(
		func() error { return t.fast.Clear(ctx) },
		func() error { return t.slow.Clear(ctx) },
	)
	return t.settle("clear", "", fastErr, slowErr)
}

// Increment counts on the slow tier and mirrors the result into the fast tier.
func (t *TwoTierCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := t.slow.Increment(ctx, key, delta)
	if err != nil {
		CacheErrors.WithLabelValues(t.cfg.Name, "increment").Inc()
		return 0, err
	}

	if err := t.fast.Set(ctx, key, formatCounter(n), 0); err != nil {
		t.logger.Warn().Err(err).Str("tier", "fast").Str("key", key).Msg("Failed to mirror counter into fast tier")
	}
	return n, nil
}

// GetMany reads the fast tier in one batch, fetches the remaining keys from
// the slow tier and promotes every slow hit. A failing slow tier leaves the
// fast-tier hits as the result; the error is returned only when both tiers
// failed.
func (t *TwoTierCache) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out, fastErr := t.fast.GetMany(ctx, keys)
	if fastErr != nil {
		t.logger.Warn().Err(fastErr).Str("tier", "fast").Int("keys", len(keys)).Msg("Fast tier batch read failed, trying slow tier")
		out = make(map[string][]byte, len(keys))
	}

	missing := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := out[key]; !ok {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		found, err := t.slow.GetMany(ctx, missing)
		switch {
		case err != nil && fastErr != nil:
			CacheErrors.WithLabelValues(t.cfg.Name, "get_many").Inc()
			t.logger.Error().Err(err).Int("keys", len(keys)).Msg("Both cache tiers failed")
			for range keys {
				t.recordMiss()
			}
			return nil, err
		case err != nil:
			CacheErrors.WithLabelValues(t.cfg.Name, "get_many").Inc()
			t.logger.Warn().Err(err).Str("tier", "slow").Int("missing", len(missing)).Msg("Slow tier batch read failed, returning fast tier hits")
		default:
			for key, value := range found {
				out[key] = value
			}
			if len(found) > 0 {
				t.promote(ctx, found)
			}
		}
	}

	for _, key := range keys {
		if _, ok := out[key]; ok {
			t.recordHit()
		} else {
			t.recordMiss()
		}
	}
	return out, nil
}

// DeleteMany removes keys from both tiers and reports the larger count.
func (t *TwoTierCache) DeleteMany(ctx context.Context, keys []string) (int, error) {
	var fastN, slowN int
	fastErr, slowErr := t.both(
		func() (err error) { fastN, err = t.fast.DeleteMany(ctx, keys); return err },
		func() (err error) { slowN, err = t.slow.DeleteMany(ctx, keys); return err },
	)
	if err := t.settle("delete_many", "", fastErr, slowErr); err != nil {
		return 0, err
	}
	return max(fastN, slowN), nil
}

// Stats reports the combinator's own hit and miss counts, the size and
// capacity of the slow tier, and both tier sizes in Custom.
func (t *TwoTierCache) Stats(ctx context.Context) (Stats, error) {
	var fastStats, slowStats Stats
	fastErr, slowErr := t.both(
		func() (err error) { fastStats, err = t.fast.Stats(ctx); return err },
		func() (err error) { slowStats, err = t.slow.Stats(ctx); return err },
	)
	if slowErr != nil {
		return Stats{}, slowErr
	}

	custom := map[string]string{
		"provider":       "two_tier",
		"slow_size":      strconv.Itoa(slowStats.Size),
		"slow_hits":      strconv.FormatUint(slowStats.Hits, 10),
		"slow_evictions": strconv.FormatUint(slowStats.Evictions, 10),
	}
	if fastErr == nil {
		custom["fast_size"] = strconv.Itoa(fastStats.Size)
		custom["fast_hits"] = strconv.FormatUint(fastStats.Hits, 10)
		custom["fast_evictions"] = strconv.FormatUint(fastStats.Evictions, 10)
	} else {
		custom["fast_error"] = fastErr.Error()
	}

	return Stats{
		Size:      slowStats.Size,
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
		Evictions: fastStats.Evictions + slowStats.Evictions,
		Capacity:  slowStats.Capacity,
		Custom:    custom,
	}, nil
}

// Close waits for in-flight promotions, then closes both tiers.
func (t *TwoTierCache) Close() error {
	t.closeOnce.Do(func() {
		t.promoteMu.Lock()
		t.closed = true
		t.promoteMu.Unlock()

		t.promotions.Wait()
		t.closeErr = errors.Join(t.fast.Close(), t.slow.Close())
	})
	return t.closeErr
}

// WaitPromotions blocks until every started promotion has finished.
func (t *TwoTierCache) WaitPromotions() {
	t.promotions.Wait()
}

// both runs the fast and slow operations concurrently and returns each
// tier's error.
func (t *TwoTierCache) both(fast, slow func() error) (fastErr, slowErr error) {
	var g errgroup.Group
	g.Go(func() error {
		fastErr = fast()
		return nil
	})
	g.Go(func() error {
		slowErr = slow()
		return nil
	})
	_ = g.Wait()
	return fastErr, slowErr
}

// settle logs tier failures and returns the slow tier's error when both
// tiers failed.
func (t *TwoTierCache) settle(op, key string, fastErr, slowErr error) error {
	if fastErr != nil {
		t.logger.Warn().Err(fastErr).Str("tier", "fast").Str("op", op).Str("key", key).Msg("Fast tier operation failed")
	}
	if slowErr != nil {
		t.logger.Warn().Err(slowErr).Str("tier", "slow").Str("op", op).Str("key", key).Msg("Slow tier operation failed")
	}
	if fastErr != nil && slowErr != nil {
		CacheErrors.WithLabelValues(t.cfg.Name, op).Inc()
		t.logger.Error().Err(slowErr).Str("op", op).Str("key", key).Msg("Both cache tiers failed")
		return slowErr
	}
	return nil
}

// promote copies values into the fast tier without blocking the caller.
// Failures are logged and never surfaced. Nothing is promoted after Close.
func (t *TwoTierCache) promote(ctx context.Context, values map[string][]byte) {
	ctx = context.WithoutCancel(ctx)

	t.promoteMu.Lock()
	if t.closed {
		t.promoteMu.Unlock()
		return
	}
	t.promotions.Add(1)
	t.promoteMu.Unlock()

	go func() {
		defer t.promotions.Done()
		for key, value := range values {
			if err := t.fast.Set(ctx, key, value, 0); err != nil {
				t.logger.Warn().Err(err).Str("tier", "fast").Str("key", key).Msg("Failed to promote value into fast tier")
				continue
			}
			CachePromotions.WithLabelValues(t.cfg.Name).Inc()
			t.logger.Debug().Str("key", key).Msg("Promoted value into fast tier")
		}
	}()
}

func (t *TwoTierCache) recordHit() {
	t.hits.Add(1)
	CacheHits.WithLabelValues(t.cfg.Name).Inc()
}

func (t *TwoTierCache) recordMiss() {
	t.misses.Add(1)
	CacheMisses.WithLabelValues(t.cfg.Name).Inc()
}

// TwoTierProvider builds TwoTierCache instances from nested role configs.
//
// Provider settings:
//   - fast: provider of the fast tier (default "memory")
//   - slow: provider of the slow tier (default "redis")
//   - fast.<key>, slow.<key>: settings of the nested caches
type TwoTierProvider struct {
	registry *Registry
}

// NewTwoTierProvider creates the provider. Tiers are built through registry.
func NewTwoTierProvider(registry *Registry) *TwoTierProvider {
	return &TwoTierProvider{registry: registry}
}

// Name implements Provider.
func (p *TwoTierProvider) Name() string { return "two_tier" }

// Supports implements Provider.
func (p *TwoTierProvider) Supports(cfg Config) bool {
	return cfg.Provider == "two_tier"
}

// Capabilities implements Provider.
func (p *TwoTierProvider) Capabilities() map[string]string {
	return map[string]string{
		"composite": "true",
		"promotion": "true",
		"roles":     "fast,slow",
	}
}

// Create builds both tiers and combines them.
func (p *TwoTierProvider) Create(ctx context.Context, cfg Config) (Cache, error) {
	fastCfg, err := cfg.RoleConfig("fast", "memory")
	if err != nil {
		return nil, err
	}
	slowCfg, err := cfg.RoleConfig("slow", "redis")
	if err != nil {
		return nil, err
	}

	fast, err := p.registry.CreateCache(ctx, fastCfg)
	if err != nil {
		return nil, err
	}
	slow, err := p.registry.CreateCache(ctx, slowCfg)
	if err != nil {
		_ = fast.Close()
		return nil, err
	}

	return NewTwoTierCache(cfg, fast, slow), nil
}
