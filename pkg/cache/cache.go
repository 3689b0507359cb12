package cache

import (
	"context"
	"time"
)

// Cache is the byte-oriented interface every cache instance implements.
// It is deliberately non-generic so instances of different providers can be
// stored, passed around and composed as plain interface values; typed access
// lives in TypedCache.
//
// A Cache value is a shared handle: copies of it refer to the same entries.
type Cache interface {
	// Name returns the configured instance name.
	Name() string

	// Config returns the configuration the instance was built from.
	Config() Config

	// Get returns the value for key. found is false for missing or expired keys.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key. A ttl <= 0 applies the configured default TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and reports whether a live entry was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether key is present and not expired. It does not
	// affect hit/miss counters.
	Exists(ctx context.Context, key string) (bool, error)

	// Clear removes all entries. Cumulative counters are kept.
	Clear(ctx context.Context) error

	// Increment adds delta to the integer counter stored under key,
	// creating it with value delta when absent.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// GetMany returns the values of the keys that were found.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)

	// DeleteMany removes keys best-effort and returns how many were removed.
	DeleteMany(ctx context.Context, keys []string) (int, error)

	// Stats returns a point-in-time snapshot of the counters.
	Stats(ctx context.Context) (Stats, error)

	// Close stops background work and releases resources.
	Close() error
}

// Stats is a snapshot of a cache's counters.
type Stats struct {
	Size      int               `json:"size"`
	Hits      uint64            `json:"hits"`
	Misses    uint64            `json:"misses"`
	Evictions uint64            `json:"evictions"`
	Capacity  int               `json:"capacity,omitempty"`
	Custom    map[string]string `json:"custom,omitempty"`
}

// HitRate returns hits / (hits + misses), or 0 before the first read.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
