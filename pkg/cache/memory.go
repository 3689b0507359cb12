package cache

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/cachekit/pkg/logging"
	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often expired entries are purged in the background.
const DefaultSweepInterval = 60 * time.Second

// MemoryOption customizes a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		c.now = now
	}
}

// WithSweepInterval overrides the background sweep interval.
// A non-positive interval disables the sweep.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(c *MemoryCache) {
		c.sweepInterval = d
	}
}

// WithLogger sets the logger used by the cache.
func WithLogger(logger zerolog.Logger) MemoryOption {
	return func(c *MemoryCache) {
		c.logger = logger
	}
}

// MemoryCache is the in-process cache engine. It owns its entry map, enforces
// capacity through the configured eviction policy and purges expired entries
// lazily on access and periodically in the background.
//
// MemoryCache is safe for concurrent use.
type MemoryCache struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	entries   map[string]*Entry
	seq       uint64
	hits      uint64
	misses    uint64
	evictions uint64
	rng       *rand.Rand

	sweepInterval time.Duration
	stopOnce      sync.Once
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewMemoryCache creates an in-process cache and starts its expiry sweep.
// Provider settings: sweep_interval (duration), random_seed (uint64).
func NewMemoryCache(cfg Config, opts ...MemoryOption) (*MemoryCache, error) {
	cfg = cfg.clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval, err := cfg.DurationSetting("sweep_interval", DefaultSweepInterval)
	if err != nil {
		return nil, err
	}

	seed := uint64(time.Now().UnixNano())
	if v := cfg.Setting("random_seed", ""); v != "" {
		seed, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, wrapError(KindConfiguration, cfg.Name, "parse random_seed", err)
		}
	}

	c := &MemoryCache{
		cfg:           cfg,
		logger:        logging.NewLogger("cache.memory").With().Str("cache", cfg.Name).Logger(),
		now:           time.Now,
		entries:       make(map[string]*Entry),
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		sweepInterval: interval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.sweepInterval > 0 {
		go c.sweepLoop()
	} else {
		close(c.doneCh)
	}

	return c, nil
}

// Name returns the cache name.
func (c *MemoryCache) Name() string { return c.cfg.Name }

// Config returns the cache configuration.
func (c *MemoryCache) Config() Config { return c.cfg.clone() }

// Codec returns the codec used by typed adapters.
func (c *MemoryCache) Codec() Codec { return JSONCodec{} }

// Get returns the value for key, counting a hit or a miss.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.getLocked(key, c.now())
	if !ok {
		return nil, false, nil
	}
	return value, true, nil
}

func (c *MemoryCache) getLocked(key string, now time.Time) ([]byte, bool) {
	entry, ok := c.entries[key]
	if !ok {
		c.recordMiss()
		return nil, false
	}

	if entry.IsExpired(now) {
		c.removeLocked(key, "expired")
		c.recordMiss()
		return nil, false
	}

	c.seq++
	entry.touch(now, c.seq)
	c.hits++
	CacheHits.WithLabelValues(c.cfg.Name).Inc()
	return cloneBytes(entry.Value), true
}

// Set stores value under key, evicting one entry first when a new key would
// exceed the capacity.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.insertLocked(key, cloneBytes(value), c.effectiveTTL(ttl), c.now())
}

func (c *MemoryCache) insertLocked(key string, value []byte, ttl time.Duration, now time.Time) error {
	if _, exists := c.entries[key]; !exists {
		if err := c.ensureCapacityLocked(now); err != nil {
			CacheErrors.WithLabelValues(c.cfg.Name, "set").Inc()
			return err
		}
	}

	c.seq++
	c.entries[key] = &Entry{
		Value:      value,
		CreatedAt:  now,
		TTL:        ttl,
		LastAccess: now,
		createSeq:  c.seq,
		accessSeq:  c.seq,
	}
	CacheEntries.WithLabelValues(c.cfg.Name).Set(float64(len(c.entries)))
	return nil
}

// Delete removes key and reports whether a live entry was removed.
func (c *MemoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.deleteLocked(key, c.now()), nil
}

func (c *MemoryCache) deleteLocked(key string, now time.Time) bool {
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)
	CacheEntries.WithLabelValues(c.cfg.Name).Set(float64(len(c.entries)))
	return !entry.IsExpired(now)
}

// Exists reports whether key is present and not expired.
func (c *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	return ok && !entry.IsExpired(c.now()), nil
}

// Clear removes all entries. Hit, miss and eviction counters are kept.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	CacheEntries.WithLabelValues(c.cfg.Name).Set(0)
	return nil
}

// Increment treats the value under key as a decimal integer counter.
// An absent or expired key starts at delta with the default TTL; an existing
// counter keeps its creation time and TTL.
func (c *MemoryCache) Increment(_ context.Context, key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[key]
	if ok && entry.IsExpired(now) {
		c.removeLocked(key, "expired")
		ok = false
	}

	if !ok {
		if err := c.insertLocked(key, formatCounter(delta), c.cfg.DefaultTTL, now); err != nil {
			return 0, err
		}
		return delta, nil
	}

	current, err := parseCounter(entry.Value)
	if err != nil {
		CacheErrors.WithLabelValues(c.cfg.Name, "increment").Inc()
		return 0, newError(KindType, c.cfg.Name, "increment", "value for key %q is not an integer", key)
	}
	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return 0, newError(KindOperation, c.cfg.Name, "increment", "increment of key %q would overflow", key)
	}

	next := current + delta
	entry.Value = formatCounter(next)
	return next, nil
}

// GetMany returns the found values of keys; each key counts as one read.
func (c *MemoryCache) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := c.getLocked(key, now); ok {
			out[key] = value
		}
	}
	return out, nil
}

// DeleteMany removes keys and returns how many live entries were removed.
func (c *MemoryCache) DeleteMany(_ context.Context, keys []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range keys {
		if c.deleteLocked(key, now) {
			removed++
		}
	}
	return removed, nil
}

// Stats returns a consistent snapshot taken under a single lock acquisition.
func (c *MemoryCache) Stats(_ context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Size:      len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Capacity:  c.cfg.Capacity,
		Custom: map[string]string{
			"provider":        "memory",
			"eviction_policy": string(c.cfg.EvictionPolicy),
			"sweep_interval":  c.sweepInterval.String(),
		},
	}, nil
}

// Close stops the background sweep. It is safe to call more than once.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
	return nil
}

// Sweep removes every expired entry and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if entry.IsExpired(now) {
			c.removeLocked(key, "expired")
			removed++
		}
	}
	return removed
}

func (c *MemoryCache) sweepLoop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				c.logger.Debug().Int("removed", removed).Msg("Removed expired cache entries")
			}
		}
	}
}

func (c *MemoryCache) removeLocked(key, reason string) {
	delete(c.entries, key)
	c.evictions++
	CacheEvictions.WithLabelValues(c.cfg.Name, reason).Inc()
	CacheEntries.WithLabelValues(c.cfg.Name).Set(float64(len(c.entries)))
}

func (c *MemoryCache) recordMiss() {
	c.misses++
	CacheMisses.WithLabelValues(c.cfg.Name).Inc()
}

func (c *MemoryCache) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}

func formatCounter(n int64) []byte {
	return strconv.AppendInt(nil, n, 10)
}

func parseCounter(b []byte) (int64, error) {
	return strconv.ParseInt(string(b), 10, 64)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
