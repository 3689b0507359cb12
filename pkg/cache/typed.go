package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/cachekit/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// TypedCache exposes strongly typed access on top of a byte-oriented Cache.
//
// Decode failures on read are logged and reported as misses so that an
// incompatible stored value never breaks the caller. Encode failures on
// write are returned as Serialization errors.
type TypedCache[T any] struct {
	cache  Cache
	codec  Codec
	logger zerolog.Logger
	err    error
	fetch  singleflight.Group
}

// Typed returns the typed adapter of c. If c does not implement TypedSupport,
// every operation of the returned adapter fails with an Operation error.
func Typed[T any](c Cache) *TypedCache[T] {
	t := &TypedCache[T]{
		cache:  c,
		logger: logging.NewLogger("cache.typed").With().Str("cache", c.Name()).Logger(),
	}

	support, ok := c.(TypedSupport)
	if !ok {
		t.err = newError(KindOperation, c.Name(), "typed", "typed access is not supported by %T", c)
		return t
	}
	t.codec = support.Codec()
	return t
}

// Cache returns the underlying byte-oriented cache.
func (t *TypedCache[T]) Cache() Cache {
	return t.cache
}

// Get returns the decoded value for key.
func (t *TypedCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if t.err != nil {
		return zero, false, t.err
	}

	data, found, err := t.cache.Get(ctx, key)
	if err != nil || !found {
		return zero, false, err
	}

	value, ok := t.decode(key, data)
	return value, ok, nil
}

// Set encodes value and stores it under key.
func (t *TypedCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if t.err != nil {
		return t.err
	}

	data, err := t.codec.Marshal(value)
	if err != nil {
		return wrapError(KindSerialization, t.cache.Name(), "encode "+key, err)
	}
	return t.cache.Set(ctx, key, data, ttl)
}

// GetOrFetch returns the cached value for key, or calls fetch on a miss and
// stores its result with ttl.
//
// Concurrent misses for the same key on this adapter share one fetch call;
// adapters returned by separate Typed calls do not. A failing cache read is
// treated as a miss. A fetch error is returned unchanged and nothing is
// stored. A failing store is logged and the fetched value is still returned.
func (t *TypedCache[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if t.err != nil {
		return zero, t.err
	}

	value, found, err := t.Get(ctx, key)
	if err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed, fetching from source")
	} else if found {
		return value, nil
	}

	v, err, _ := t.fetch.Do(key, func() (any, error) {
		fetched, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := t.Set(ctx, key, fetched, ttl); err != nil {
			CacheErrors.WithLabelValues(t.cache.Name(), "fetch_store").Inc()
			t.logger.Warn().Err(err).Str("key", key).Msg("Failed to store fetched value")
		}
		return fetched, nil
	})
	if err != nil {
		return zero, err
	}
	fetched, _ := v.(T)
	return fetched, nil
}

// GetMany returns the decoded values of the keys that were found and decoded.
func (t *TypedCache[T]) GetMany(ctx context.Context, keys []string) (map[string]T, error) {
	if t.err != nil {
		return nil, t.err
	}

	raw, err := t.cache.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make(map[string]T, len(raw))
	for key, data := range raw {
		if value, ok := t.decode(key, data); ok {
			out[key] = value
		}
	}
	return out, nil
}

// SetMany stores every item. It is not a transaction: it keeps going after a
// failed key and returns the joined errors.
func (t *TypedCache[T]) SetMany(ctx context.Context, items map[string]T, ttl time.Duration) error {
	if t.err != nil {
		return t.err
	}

	var errs []error
	for key, value := range items {
		if err := t.Set(ctx, key, value, ttl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *TypedCache[T]) decode(key string, data []byte) (T, bool) {
	var value T
	if err := t.codec.Unmarshal(data, &value); err != nil {
		CacheErrors.WithLabelValues(t.cache.Name(), "decode").Inc()
		t.logger.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to decode cached value, treating as miss")
		var zero T
		return zero, false
	}
	return value, true
}

// GetTyped is a one-off typed read from c.
func GetTyped[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	return Typed[T](c).Get(ctx, key)
}

// SetTyped is a one-off typed write to c.
func SetTyped[T any](ctx context.Context, c Cache, key string, value T, ttl time.Duration) error {
	return Typed[T](c).Set(ctx, key, value, ttl)
}
