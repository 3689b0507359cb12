package cache

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/cachekit/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultReconnectInterval is how often a degraded fallback cache probes
	// its primary.
	DefaultReconnectInterval = 30 * time.Second

	// DefaultQuietWindow bounds how often "still degraded" is logged.
	DefaultQuietWindow = 60 * time.Second

	probeKeyPrefix = "__fallback_probe:"
)

// Connector builds (or rebuilds) the primary cache of a FallbackCache.
type Connector func(ctx context.Context) (Cache, error)

// FallbackOption customizes a FallbackCache.
type FallbackOption func(*FallbackCache)

// WithReconnectInterval sets the probe interval. A non-positive interval
// disables the background loop; Probe can still be called directly.
func WithReconnectInterval(d time.Duration) FallbackOption {
	return func(f *FallbackCache) {
		f.interval = d
	}
}

// WithQuietWindow sets the minimum spacing of repeated degraded-mode logs.
func WithQuietWindow(d time.Duration) FallbackOption {
	return func(f *FallbackCache) {
		f.degradedLog = logging.NewThrottle(d)
		f.probeLog = logging.NewThrottle(d)
	}
}

// WithFallbackLogger sets the logger used by the cache.
func WithFallbackLogger(logger zerolog.Logger) FallbackOption {
	return func(f *FallbackCache) {
		f.logger = logger
	}
}

// FallbackCache serves from a primary cache and fails over to a secondary
// when the primary errors. Once degraded it skips the primary entirely until
// a background probe reconnects and verifies it.
//
// Health state is kept apart from the entry maps of both caches: routing
// reads an atomic flag, and only reconnection takes the reconnect mutex.
type FallbackCache struct {
	cfg       Config
	connect   Connector
	secondary Cache
	logger    zerolog.Logger

	primaryMu sync.RWMutex
	primary   Cache

	degraded atomic.Bool
	stateMu  sync.Mutex
	failedAt time.Time

	reconnectMu sync.Mutex
	degradedLog *logging.Throttle
	probeLog    *logging.Throttle

	interval time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewFallbackCache connects the primary and starts the reconnection loop.
// A primary that cannot be connected leaves the cache degraded from the start;
// the secondary is required.
func NewFallbackCache(ctx context.Context, cfg Config, connect Connector, secondary Cache, opts ...FallbackOption) (*FallbackCache, error) {
	if connect == nil {
		return nil, newError(KindConfiguration, cfg.Name, "new fallback cache", "primary connector is required")
	}
	if secondary == nil {
		return nil, newError(KindConfiguration, cfg.Name, "new fallback cache", "secondary cache is required")
	}

	f := &FallbackCache{
		cfg:         cfg.clone(),
		connect:     connect,
		secondary:   secondary,
		logger:      logging.NewLogger("cache.fallback").With().Str("cache", cfg.Name).Logger(),
		degradedLog: logging.NewThrottle(DefaultQuietWindow),
		probeLog:    logging.NewThrottle(DefaultQuietWindow),
		interval:    DefaultReconnectInterval,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	FallbackDegraded.WithLabelValues(f.cfg.Name).Set(0)

	primary, err := connect(ctx)
	if err != nil {
		f.markDegraded("init", err)
	} else {
		f.primary = primary
	}

	if f.interval > 0 {
		go f.reconnectLoop()
	} else {
		close(f.doneCh)
	}

	return f, nil
}

// Name returns the cache name.
func (f *FallbackCache) Name() string { return f.cfg.Name }

// Config returns the cache configuration.
func (f *FallbackCache) Config() Config { return f.cfg.clone() }

// Codec returns the codec used by typed adapters.
func (f *FallbackCache) Codec() Codec { return JSONCodec{} }

// Degraded reports whether calls are currently served by the secondary.
func (f *FallbackCache) Degraded() bool {
	return f.degraded.Load()
}

// FailedAt returns when the primary first failed in the current degraded
// period, and false while healthy.
func (f *FallbackCache) FailedAt() (time.Time, bool) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.failedAt, !f.failedAt.IsZero()
}

// Primary returns the current primary, or nil if it was never connected.
func (f *FallbackCache) Primary() Cache {
	f.primaryMu.RLock()
	defer f.primaryMu.RUnlock()
	return f.primary
}

// Secondary returns the secondary cache.
func (f *FallbackCache) Secondary() Cache {
	return f.secondary
}

// Get reads from the primary, or from the secondary while degraded.
func (f *FallbackCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	served, err := f.onPrimary(ctx, "get", func(p Cache) (err error) {
		value, found, err = p.Get(ctx, key)
		return err
	})
	if served {
		return value, found, err
	}
	return f.secondary.Get(ctx, key)
}

// Set writes to the primary, or to the secondary while degraded.
func (f *FallbackCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	served, err := f.onPrimary(ctx, "set", func(p Cache) error {
		return p.Set(ctx, key, value, ttl)
	})
	if served {
		return err
	}
	return f.secondary.Set(ctx, key, value, ttl)
}

// Delete removes key from the primary and always from the secondary too, so
// a stale copy cannot resurface after a later failover.
func (f *FallbackCache) Delete(ctx context.Context, key string) (bool, error) {
	var removed bool
	served, err := f.onPrimary(ctx, "delete", func(p Cache) (err error) {
		removed, err = p.Delete(ctx, key)
		return err
	})

	secRemoved, secErr := f.secondary.Delete(ctx, key)
	if !served {
		return secRemoved, secErr
	}
	if err != nil {
		return false, err
	}
	if secErr != nil {
		f.logger.Debug().Err(secErr).Str("tier", "secondary").Str("key", key).Msg("Failed to delete key from secondary")
	}
	return removed || secRemoved, nil
}

// Exists checks the primary, or the secondary while degraded.
func (f *FallbackCache) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	served, err := f.onPrimary(ctx, "exists", func(p Cache) (err error) {
		ok, err = p.Exists(ctx, key)
		return err
	})
	if served {
		return ok, err
	}

	ok, err = f.secondary.Exists(ctx, key)
	if errors.Is(err, ErrOperation) {
		_, found, getErr := f.secondary.Get(ctx, key)
		return found, getErr
	}
	return ok, err
}

// Clear empties the primary and the secondary.
func (f *FallbackCache) Clear(ctx context.Context) error {
	served, err := f.onPrimary(ctx, "clear", func(p Cache) error {
		return p.Clear(ctx)
	})

	secErr := f.secondary.Clear(ctx)
	if !served {
		return secErr
	}
	if secErr != nil {
		f.logger.Debug().Err(secErr).Str("tier", "secondary").Msg("Failed to clear secondary")
	}
	return err
}

// Increment counts on the primary, or on the secondary while degraded.
func (f *FallbackCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	var n int64
	served, err := f.onPrimary(ctx, "increment", func(p Cache) (err error) {
		n, err = p.Increment(ctx, key, delta)
		return err
	})
	if served {
		return n, err
	}
	return f.secondary.Increment(ctx, key, delta)
}

// GetMany reads from the primary, or from the secondary while degraded.
func (f *FallbackCache) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	var out map[string][]byte
	served, err := f.onPrimary(ctx, "get_many", func(p Cache) (err error) {
		out, err = p.GetMany(ctx, keys)
		return err
	})
	if served {
		return out, err
	}
	return f.secondary.GetMany(ctx, keys)
}

// DeleteMany removes keys from the primary and the secondary.
func (f *FallbackCache) DeleteMany(ctx context.Context, keys []string) (int, error) {
	var n int
	served, err := f.onPrimary(ctx, "delete_many", func(p Cache) (err error) {
		n, err = p.DeleteMany(ctx, keys)
		return err
	})

	secN, secErr := f.secondary.DeleteMany(ctx, keys)
	if !served {
		return secN, secErr
	}
	if err != nil {
		return 0, err
	}
	return max(n, secN), nil
}

// Stats returns the active cache's stats plus the health state.
func (f *FallbackCache) Stats(ctx context.Context) (Stats, error) {
	active := "primary"
	var stats Stats
	served, err := f.onPrimary(ctx, "stats", func(p Cache) (err error) {
		stats, err = p.Stats(ctx)
		return err
	})
	if !served {
		active = "secondary"
		stats, err = f.secondary.Stats(ctx)
	}
	if err != nil {
		return Stats{}, err
	}

	custom := make(map[string]string, len(stats.Custom)+3)
	for k, v := range stats.Custom {
		custom[k] = v
	}
	custom["active"] = active
	custom["degraded"] = strconv.FormatBool(f.Degraded())
	if at, ok := f.FailedAt(); ok {
		custom["failed_at"] = at.UTC().Format(time.RFC3339)
	}
	stats.Custom = custom
	return stats, nil
}

// Close stops the reconnection loop and closes both caches.
func (f *FallbackCache) Close() error {
	f.closeOnce.Do(func() {
		f.stopOnce.Do(func() { close(f.stopCh) })
		<-f.doneCh

		var errs []error
		if p := f.Primary(); p != nil {
			errs = append(errs, p.Close())
		}
		errs = append(errs, f.secondary.Close())
		f.closeErr = errors.Join(errs...)
	})
	return f.closeErr
}

// Probe makes one reconnection attempt if the cache is degraded. The new
// primary is verified with a write, read and delete of a unique key before
// routing switches back to it. Only one probe runs at a time.
func (f *FallbackCache) Probe(ctx context.Context) error {
	if !f.degraded.Load() {
		return nil
	}

	f.reconnectMu.Lock()
	defer f.reconnectMu.Unlock()

	if !f.degraded.Load() {
		return nil
	}

	candidate, err := f.connect(ctx)
	if err != nil {
		f.probeFailed(err)
		return wrapError(KindConnection, f.cfg.Name, "reconnect", err)
	}

	if err := verifyPrimary(ctx, candidate); err != nil {
		if candidate != f.Primary() {
			_ = candidate.Close()
		}
		f.probeFailed(err)
		return wrapError(KindConnection, f.cfg.Name, "verify primary", err)
	}

	f.primaryMu.Lock()
	old := f.primary
	f.primary = candidate
	f.primaryMu.Unlock()
	if old != nil && old != candidate {
		_ = old.Close()
	}

	f.stateMu.Lock()
	downFor := time.Since(f.failedAt)
	f.failedAt = time.Time{}
	f.stateMu.Unlock()
	f.degraded.Store(false)
	f.degradedLog.Reset()
	f.probeLog.Reset()

	FallbackDegraded.WithLabelValues(f.cfg.Name).Set(0)
	FallbackTransitions.WithLabelValues(f.cfg.Name, "healthy").Inc()
	f.logger.Info().Dur("degraded_for", downFor).Msg("Primary cache recovered, routing restored")
	return nil
}

func verifyPrimary(ctx context.Context, c Cache) error {
	key := probeKeyPrefix + uuid.NewString()
	want := []byte("ok")

	if err := c.Set(ctx, key, want, time.Minute); err != nil {
		return err
	}
	got, found, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found || !bytes.Equal(got, want) {
		return errors.New("probe value was not read back")
	}
	_, err = c.Delete(ctx, key)
	return err
}

// onPrimary runs fn on the primary unless the cache is degraded. It reports
// whether the primary served the call; when it did not, the caller falls
// through to the secondary.
func (f *FallbackCache) onPrimary(ctx context.Context, op string, fn func(Cache) error) (bool, error) {
	var p Cache
	if !f.degraded.Load() {
		p = f.Primary()
	}
	if p == nil {
		f.logStillDegraded(op)
		return false, nil
	}

	err := fn(p)
	if err == nil {
		return true, nil
	}

	// Data errors and caller cancellation say nothing about primary health.
	if KindOf(err) == KindType || ctx.Err() != nil {
		return true, err
	}

	f.markDegraded(op, err)
	return false, nil
}

func (f *FallbackCache) markDegraded(op string, err error) {
	CacheErrors.WithLabelValues(f.cfg.Name, op).Inc()

	if !f.degraded.CompareAndSwap(false, true) {
		f.logStillDegraded(op)
		return
	}

	f.stateMu.Lock()
	f.failedAt = time.Now()
	f.stateMu.Unlock()

	FallbackDegraded.WithLabelValues(f.cfg.Name).Set(1)
	FallbackTransitions.WithLabelValues(f.cfg.Name, "degraded").Inc()
	f.degradedLog.Mark()
	f.logger.Error().
		Err(err).
		Str("tier", "primary").
		Str("op", op).
		Msg("Primary cache failed, switching to secondary")
}

func (f *FallbackCache) logStillDegraded(op string) {
	ok, suppressed := f.degradedLog.Allow()
	if !ok {
		return
	}
	at, _ := f.FailedAt()
	f.logger.Warn().
		Str("op", op).
		Time("failed_at", at).
		Int("suppressed", suppressed).
		Msg("Primary cache still unavailable, serving from secondary")
}

func (f *FallbackCache) probeFailed(err error) {
	f.logger.Debug().Err(err).Str("tier", "primary").Msg("Primary reconnection attempt failed")
	if ok, suppressed := f.probeLog.Allow(); ok {
		f.logger.Warn().Err(err).Str("tier", "primary").Int("suppressed", suppressed).Msg("Primary cache still unreachable")
	}
}

func (f *FallbackCache) reconnectLoop() {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			if !f.degraded.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), f.interval)
			_ = f.Probe(ctx)
			cancel()
		}
	}
}

// FallbackProvider builds FallbackCache instances from nested role configs.
//
// Provider settings:
//   - primary: provider of the primary (default "redis")
//   - secondary: provider of the secondary (default "memory")
//   - primary.<key>, secondary.<key>: settings of the nested caches
//   - reconnect_interval: probe interval (default 30s)
//   - log_quiet_window: spacing of repeated degraded logs (default 60s)
type FallbackProvider struct {
	registry *Registry
}

// NewFallbackProvider creates the provider. Nested caches are built through
// registry.
func NewFallbackProvider(registry *Registry) *FallbackProvider {
	return &FallbackProvider{registry: registry}
}

// Name implements Provider.
func (p *FallbackProvider) Name() string { return "fallback" }

// Supports implements Provider.
func (p *FallbackProvider) Supports(cfg Config) bool {
	return cfg.Provider == "fallback"
}

// Capabilities implements Provider.
func (p *FallbackProvider) Capabilities() map[string]string {
	return map[string]string{
		"composite":          "true",
		"failover":           "true",
		"roles":              "primary,secondary",
		"reconnect_interval": DefaultReconnectInterval.String(),
	}
}

// Create builds the secondary, then the fallback cache around a connector
// for the primary. An unreachable primary does not fail creation.
func (p *FallbackProvider) Create(ctx context.Context, cfg Config) (Cache, error) {
	primaryCfg, err := cfg.RoleConfig("primary", "redis")
	if err != nil {
		return nil, err
	}
	secondaryCfg, err := cfg.RoleConfig("secondary", "memory")
	if err != nil {
		return nil, err
	}
	interval, err := cfg.DurationSetting("reconnect_interval", DefaultReconnectInterval)
	if err != nil {
		return nil, err
	}
	quiet, err := cfg.DurationSetting("log_quiet_window", DefaultQuietWindow)
	if err != nil {
		return nil, err
	}

	secondary, err := p.registry.CreateCache(ctx, secondaryCfg)
	if err != nil {
		return nil, err
	}

	connect := func(ctx context.Context) (Cache, error) {
		return p.registry.CreateCache(ctx, primaryCfg)
	}

	f, err := NewFallbackCache(ctx, cfg, connect, secondary,
		WithReconnectInterval(interval),
		WithQuietWindow(quiet),
	)
	if err != nil {
		_ = secondary.Close()
		return nil, err
	}
	return f, nil
}
