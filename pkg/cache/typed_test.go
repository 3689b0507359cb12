package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testUser struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// opaqueCache hides every method but the Cache interface, so it does not
// offer typed support.
type opaqueCache struct {
	Cache
}

// readOnlyCache rejects every write but keeps typed support.
type readOnlyCache struct {
	Cache
}

func (readOnlyCache) Codec() Codec { return JSONCodec{} }

func (c readOnlyCache) Set(context.Context, string, []byte, time.Duration) error {
	return newError(KindConnection, c.Name(), "set", "read only")
}

func TestTyped_RoundTrip(t *testing.T) {
	c := newTestMemory(t, Config{Name: "typed"}, newFakeClock())
	ctx := context.Background()
	users := Typed[testUser](c)

	want := testUser{ID: 42, Name: "alice"}
	require.NoError(t, users.Set(ctx, "42", want, 0))

	got, found, err := users.Get(ctx, "42")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	_, found, err = users.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTyped_DecodeFailureIsMiss(t *testing.T) {
	c := newTestMemory(t, Config{Name: "typed-poison"}, newFakeClock())
	ctx := context.Background()

	mustSet(t, c, "poisoned", "{not json", 0)

	got, found, err := Typed[testUser](c).Get(ctx, "poisoned")
	require.NoError(t, err, "decode failures are not surfaced")
	assert.False(t, found)
	assert.Equal(t, testUser{}, got)
}

func TestTyped_EncodeFailureIsError(t *testing.T) {
	c := newTestMemory(t, Config{Name: "typed-encode"}, newFakeClock())

	err := Typed[chan int](c).Set(context.Background(), "ch", make(chan int), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSerialization), "want serialization error, got %v", err)

	ok, _ := c.Exists(context.Background(), "ch")
	assert.False(t, ok, "nothing is stored on encode failure")
}

func TestTyped_ReadsCounters(t *testing.T) {
	c := newTestMemory(t, Config{Name: "typed-counter"}, newFakeClock())
	ctx := context.Background()

	_, err := c.Increment(ctx, "visits", 3)
	require.NoError(t, err)

	n, found, err := GetTyped[int64](ctx, c, "visits")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(3), n)
}

func TestTyped_GetManyAndSetMany(t *testing.T) {
	c := newTestMemory(t, Config{Name: "typed-batch"}, newFakeClock())
	ctx := context.Background()
	users := Typed[testUser](c)

	items := map[string]testUser{
		"1": {ID: 1, Name: "a"},
		"2": {ID: 2, Name: "b"},
	}
	require.NoError(t, users.SetMany(ctx, items, time.Minute))
	mustSet(t, c, "bad", "[]", 0)

	got, err := users.GetMany(ctx, []string{"1", "2", "bad", "missing"})
	require.NoError(t, err)
	assert.Equal(t, items, got, "undecodable and missing keys are absent")
}

func TestTyped_SetManyContinuesAfterFailure(t *testing.T) {
	c := newTestMemory(t, boundedConfig("typed-partial", 1, PolicyNone), newFakeClock())
	ctx := context.Background()

	err := Typed[string](c).SetMany(ctx, map[string]string{"a": "1", "b": "2"}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapacity))

	stats, _ := c.Stats(ctx)
	assert.Equal(t, 1, stats.Size, "one item was stored before capacity ran out")
}

func TestTyped_Unsupported(t *testing.T) {
	inner := newTestMemory(t, Config{Name: "opaque"}, newFakeClock())
	users := Typed[testUser](opaqueCache{inner})
	ctx := context.Background()

	_, _, err := users.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrOperation), "Get: %v", err)

	err = users.Set(ctx, "k", testUser{}, 0)
	assert.True(t, errors.Is(err, ErrOperation), "Set: %v", err)

	_, err = users.GetMany(ctx, []string{"k"})
	assert.True(t, errors.Is(err, ErrOperation), "GetMany: %v", err)

	err = users.SetMany(ctx, map[string]testUser{"k": {}}, 0)
	assert.True(t, errors.Is(err, ErrOperation), "SetMany: %v", err)

	assert.Same(t, inner, users.Cache().(opaqueCache).Cache)
}

func TestSetTyped(t *testing.T) {
	c := newTestMemory(t, Config{Name: "typed-helpers"}, newFakeClock())
	ctx := context.Background()

	require.NoError(t, SetTyped(ctx, c, "tags", []string{"x", "y"}, 0))

	tags, found, err := GetTyped[[]string](ctx, c, "tags")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"x", "y"}, tags)
}

func TestTyped_GetOrFetch(t *testing.T) {
	ctx := context.Background()
	alice := testUser{ID: 1, Name: "alice"}

	t.Run("hit_skips_fetch", func(t *testing.T) {
		c := newTestMemory(t, Config{Name: "fetch-hit"}, newFakeClock())
		users := Typed[testUser](c)
		require.NoError(t, users.Set(ctx, "1", alice, 0))

		got, err := users.GetOrFetch(ctx, "1", 0, func(context.Context) (testUser, error) {
			t.Fatal("fetch called on a hit")
			return testUser{}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, alice, got)
	})

	t.Run("miss_fetches_and_stores", func(t *testing.T) {
		c := newTestMemory(t, Config{Name: "fetch-miss"}, newFakeClock())
		users := Typed[testUser](c)

		got, err := users.GetOrFetch(ctx, "1", time.Minute, func(context.Context) (testUser, error) {
			return alice, nil
		})
		require.NoError(t, err)
		assert.Equal(t, alice, got)

		stored, found, err := users.Get(ctx, "1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, alice, stored)
	})

	t.Run("fetch_error_is_returned", func(t *testing.T) {
		c := newTestMemory(t, Config{Name: "fetch-error"}, newFakeClock())
		users := Typed[testUser](c)
		errSource := errors.New("source down")

		_, err := users.GetOrFetch(ctx, "1", 0, func(context.Context) (testUser, error) {
			return testUser{}, errSource
		})
		assert.ErrorIs(t, err, errSource)

		ok, _ := c.Exists(ctx, "1")
		assert.False(t, ok, "nothing is stored when fetch fails")
	})

	t.Run("undecodable_entry_is_refetched", func(t *testing.T) {
		c := newTestMemory(t, Config{Name: "fetch-poison"}, newFakeClock())
		users := Typed[testUser](c)
		mustSet(t, c, "1", "{not json", 0)

		got, err := users.GetOrFetch(ctx, "1", 0, func(context.Context) (testUser, error) {
			return alice, nil
		})
		require.NoError(t, err)
		assert.Equal(t, alice, got)

		stored, found, _ := users.Get(ctx, "1")
		assert.True(t, found, "the fetched value replaces the undecodable one")
		assert.Equal(t, alice, stored)
	})

	t.Run("store_failure_still_returns_value", func(t *testing.T) {
		c := newTestMemory(t, Config{Name: "fetch-readonly"}, newFakeClock())
		users := Typed[testUser](readOnlyCache{Cache: c})

		got, err := users.GetOrFetch(ctx, "1", 0, func(context.Context) (testUser, error) {
			return alice, nil
		})
		require.NoError(t, err)
		assert.Equal(t, alice, got)

		ok, _ := c.Exists(ctx, "1")
		assert.False(t, ok)
	})

	t.Run("unsupported_cache", func(t *testing.T) {
		c := newTestMemory(t, Config{Name: "fetch-opaque"}, newFakeClock())
		_, err := Typed[testUser](opaqueCache{c}).GetOrFetch(ctx, "1", 0, func(context.Context) (testUser, error) {
			t.Fatal("fetch called without typed support")
			return testUser{}, nil
		})
		assert.True(t, errors.Is(err, ErrOperation), "got %v", err)
	})
}

func TestTyped_GetOrFetchCollapsesConcurrentMisses(t *testing.T) {
	c := newTestMemory(t, Config{Name: "fetch-concurrent"}, newFakeClock())
	users := Typed[testUser](c)
	ctx := context.Background()

	const callers = 8
	var (
		calls   atomic.Int32
		started = make(chan struct{})
		release = make(chan struct{})
		once    sync.Once
	)
	fetch := func(context.Context) (testUser, error) {
		calls.Add(1)
		once.Do(func() { close(started) })
		<-release
		return testUser{ID: 7, Name: "shared"}, nil
	}

	var wg sync.WaitGroup
	results := make([]testUser, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = users.GetOrFetch(ctx, "7", 0, fetch)
	}()
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = users.GetOrFetch(ctx, "7", 0, fetch)
		}(i)
	}

	// let the waiting callers join the in-flight fetch
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent misses share one fetch")
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, testUser{ID: 7, Name: "shared"}, results[i])
	}
}
