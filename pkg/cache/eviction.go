package cache

import (
	"hash/fnv"
	"time"
)

// ensureCapacityLocked frees one slot when the cache is full. The caller holds
// the write lock and is about to insert a new key.
func (c *MemoryCache) ensureCapacityLocked(now time.Time) error {
	if c.cfg.Capacity <= 0 || len(c.entries) < c.cfg.Capacity {
		return nil
	}

	if c.cfg.EvictionPolicy == PolicyNone {
		return newError(KindCapacity, c.cfg.Name, "set", "cache is full (capacity %d)", c.cfg.Capacity)
	}

	victim, ok := c.selectVictimLocked(now)
	if !ok {
		return newError(KindCapacity, c.cfg.Name, "set", "no eviction candidate")
	}

	c.removeLocked(victim, "capacity")
	c.logger.Debug().
		Str("key", victim).
		Str("policy", string(c.cfg.EvictionPolicy)).
		Msg("Evicted cache entry")
	return nil
}

// selectVictimLocked picks the entry to evict under the configured policy.
//
// Tie-breaks:
//   - LRU: lowest access sequence
//   - LFU: fewest hits, then lowest access sequence
//   - FIFO: lowest creation sequence
//   - TTL: smallest remaining lifetime, then lowest creation sequence;
//     LRU when no entry has a TTL
//   - Random: seeded draw over the sorted key set
func (c *MemoryCache) selectVictimLocked(now time.Time) (string, bool) {
	switch c.cfg.EvictionPolicy {
	case PolicyLFU:
		return c.pick(func(a, b *Entry) bool {
			if a.Hits != b.Hits {
				return a.Hits < b.Hits
			}
			return a.accessSeq < b.accessSeq
		})
	case PolicyFIFO:
		return c.pick(func(a, b *Entry) bool {
			return a.createSeq < b.createSeq
		})
	case PolicyTTL:
		key, ok := c.pickNearestExpiry(now)
		if ok {
			return key, true
		}
		return c.pick(lessRecentlyUsed)
	case PolicyRandom:
		return c.pickRandom()
	default:
		return c.pick(lessRecentlyUsed)
	}
}

func lessRecentlyUsed(a, b *Entry) bool {
	return a.accessSeq < b.accessSeq
}

// pick returns the key of the minimum entry under less. Sequence numbers are
// unique, so every ordering used here is total and the result does not depend
// on map iteration order.
func (c *MemoryCache) pick(less func(a, b *Entry) bool) (string, bool) {
	var (
		victim string
		best   *Entry
	)
	for key, entry := range c.entries {
		if best == nil || less(entry, best) {
			victim, best = key, entry
		}
	}
	return victim, best != nil
}

func (c *MemoryCache) pickNearestExpiry(now time.Time) (string, bool) {
	var (
		victim   string
		best     *Entry
		bestLeft time.Duration
	)
	for key, entry := range c.entries {
		if entry.TTL <= 0 {
			continue
		}
		remaining := entry.Remaining(now)
		if best == nil || remaining < bestLeft ||
			(remaining == bestLeft && entry.createSeq < best.createSeq) {
			victim, best, bestLeft = key, entry, remaining
		}
	}
	return victim, best != nil
}

// pickRandom draws a target from the seeded source and evicts the key whose
// hash is closest to it under XOR, ties broken by key. The choice does not
// depend on map iteration order, so a fixed seed replays the same victims.
func (c *MemoryCache) pickRandom() (string, bool) {
	target := c.rng.Uint64()

	var (
		victim   string
		bestDist uint64
		found    bool
	)
	for key := range c.entries {
		dist := keyHash(key) ^ target
		if !found || dist < bestDist || (dist == bestDist && key < victim) {
			victim, bestDist, found = key, dist, true
		}
	}
	return victim, found
}

func keyHash(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}
