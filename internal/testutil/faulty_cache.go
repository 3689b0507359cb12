// Package testutil provides testing utilities for cache combinators.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/cachekit/pkg/cache"
)

// Operation names accepted by FaultyCache.Fail.
const (
	OpGet        = "get"
	OpSet        = "set"
	OpDelete     = "delete"
	OpExists     = "exists"
	OpClear      = "clear"
	OpIncrement  = "increment"
	OpGetMany    = "get_many"
	OpDeleteMany = "delete_many"
	OpStats      = "stats"
)

// FaultyCache wraps a cache and injects failures on demand.
type FaultyCache struct {
	inner cache.Cache

	mu      sync.RWMutex
	failing map[string]bool
	failAll bool
	kind    cache.ErrorKind
	delay   time.Duration

	// Tracking
	calls map[string]int
}

// NewFaultyCache wraps inner. It starts healthy.
func NewFaultyCache(inner cache.Cache) *FaultyCache {
	return &FaultyCache{
		inner:   inner,
		failing: make(map[string]bool),
		kind:    cache.KindConnection,
		calls:   make(map[string]int),
	}
}

// NewFaultyMemory wraps a fresh unbounded memory cache without background sweep.
func NewFaultyMemory(name string) *FaultyCache {
	inner, err := cache.NewMemoryCache(cache.Config{Name: name}, cache.WithSweepInterval(0))
	if err != nil {
		panic(err)
	}
	return NewFaultyCache(inner)
}

// Fail makes the given operations fail. Without arguments every operation fails.
func (f *FaultyCache) Fail(ops ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(ops) == 0 {
		f.failAll = true
		return
	}
	for _, op := range ops {
		f.failing[op] = true
	}
}

// FailWith sets the error kind returned by injected failures.
func (f *FaultyCache) FailWith(kind cache.ErrorKind) {
	f.mu.Lock()
	f.kind = kind
	f.mu.Unlock()
}

// SetDelay delays every operation, e.g. to widen race windows.
func (f *FaultyCache) SetDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

// Recover clears all injected failures.
func (f *FaultyCache) Recover() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failAll = false
	f.failing = make(map[string]bool)
}

// Calls returns how often op was invoked, failed or not.
func (f *FaultyCache) Calls(op string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls[op]
}

// ResetCalls clears the call counters.
func (f *FaultyCache) ResetCalls() {
	f.mu.Lock()
	f.calls = make(map[string]int)
	f.mu.Unlock()
}

// Inner returns the wrapped cache.
func (f *FaultyCache) Inner() cache.Cache {
	return f.inner
}

func (f *FaultyCache) enter(op string) error {
	f.mu.Lock()
	f.calls[op]++
	fail := f.failAll || f.failing[op]
	kind := f.kind
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if !fail {
		return nil
	}
	return &cache.Error{
		Kind:    kind,
		Op:      op,
		Cache:   f.inner.Name(),
		Message: "injected failure",
	}
}

// Name implements cache.Cache.
func (f *FaultyCache) Name() string { return f.inner.Name() }

// Config implements cache.Cache.
func (f *FaultyCache) Config() cache.Config { return f.inner.Config() }

// Codec implements cache.TypedSupport.
func (f *FaultyCache) Codec() cache.Codec { return cache.JSONCodec{} }

// Get implements cache.Cache.
func (f *FaultyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := f.enter(OpGet); err != nil {
		return nil, false, err
	}
	return f.inner.Get(ctx, key)
}

// Set implements cache.Cache.
func (f *FaultyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.enter(OpSet); err != nil {
		return err
	}
	return f.inner.Set(ctx, key, value, ttl)
}

// Delete implements cache.Cache.
func (f *FaultyCache) Delete(ctx context.Context, key string) (bool, error) {
	if err := f.enter(OpDelete); err != nil {
		return false, err
	}
	return f.inner.Delete(ctx, key)
}

// Exists implements cache.Cache.
func (f *FaultyCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := f.enter(OpExists); err != nil {
		return false, err
	}
	return f.inner.Exists(ctx, key)
}

// Clear implements cache.Cache.
func (f *FaultyCache) Clear(ctx context.Context) error {
	if err := f.enter(OpClear); err != nil {
		return err
	}
	return f.inner.Clear(ctx)
}

// Increment implements cache.Cache.
func (f *FaultyCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	if err := f.enter(OpIncrement); err != nil {
		return 0, err
	}
	return f.inner.Increment(ctx, key, delta)
}

// GetMany implements cache.Cache.
func (f *FaultyCache) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := f.enter(OpGetMany); err != nil {
		return nil, err
	}
	return f.inner.GetMany(ctx, keys)
}

// DeleteMany implements cache.Cache.
func (f *FaultyCache) DeleteMany(ctx context.Context, keys []string) (int, error) {
	if err := f.enter(OpDeleteMany); err != nil {
		return 0, err
	}
	return f.inner.DeleteMany(ctx, keys)
}

// Stats implements cache.Cache.
func (f *FaultyCache) Stats(ctx context.Context) (cache.Stats, error) {
	if err := f.enter(OpStats); err != nil {
		return cache.Stats{}, err
	}
	return f.inner.Stats(ctx)
}

// Close implements cache.Cache. It never fails.
func (f *FaultyCache) Close() error {
	return f.inner.Close()
}

// StaticProvider is a Provider returning pre-built caches by config name.
// It supports configs whose Provider equals its name.
type StaticProvider struct {
	ProviderName string

	mu      sync.Mutex
	caches  map[string]cache.Cache
	err     error
	creates int
}

// NewStaticProvider creates an empty static provider.
func NewStaticProvider(name string) *StaticProvider {
	return &StaticProvider{
		ProviderName: name,
		caches:       make(map[string]cache.Cache),
	}
}

// Put registers c under name.
func (p *StaticProvider) Put(name string, c cache.Cache) {
	p.mu.Lock()
	p.caches[name] = c
	p.mu.Unlock()
}

// FailCreate makes Create return err (nil restores normal behavior).
func (p *StaticProvider) FailCreate(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Creates returns how often Create was called.
func (p *StaticProvider) Creates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}

// Name implements cache.Provider.
func (p *StaticProvider) Name() string { return p.ProviderName }

// Supports implements cache.Provider.
func (p *StaticProvider) Supports(cfg cache.Config) bool {
	return cfg.Provider == p.ProviderName
}

// Capabilities implements cache.Provider.
func (p *StaticProvider) Capabilities() map[string]string {
	return map[string]string{"static": "true"}
}

// Create implements cache.Provider.
func (p *StaticProvider) Create(_ context.Context, cfg cache.Config) (cache.Cache, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.creates++
	if p.err != nil {
		return nil, p.err
	}
	c, ok := p.caches[cfg.Name]
	if !ok {
		return nil, &cache.Error{Kind: cache.KindConfiguration, Op: "create", Cache: cfg.Name, Message: "no static cache"}
	}
	return c, nil
}
