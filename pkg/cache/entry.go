package cache

import (
	"time"
)

// Entry is one stored item of the in-process engine.
type Entry struct {
	// Value is the serialized payload.
	Value []byte

	// CreatedAt is when the entry was written.
	CreatedAt time.Time

	// TTL is the entry lifetime measured from CreatedAt (0 = no expiry).
	TTL time.Duration

	// LastAccess is the time of the last read (or the write, if never read).
	LastAccess time.Time

	// Hits counts successful reads.
	Hits uint64

	// logical clocks, used to order entries without relying on timestamp resolution
	createSeq uint64
	accessSeq uint64
}

// IsExpired reports whether the entry has outlived its TTL at now.
// Lazy expiry on access and the periodic sweep both use this predicate.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// ExpiresAt returns the expiry instant, and false when the entry has no TTL.
func (e *Entry) ExpiresAt() (time.Time, bool) {
	if e.TTL <= 0 {
		return time.Time{}, false
	}
	return e.CreatedAt.Add(e.TTL), true
}

// Remaining returns the time until expiration at now.
// Returns 0 if already expired or if the entry has no TTL.
func (e *Entry) Remaining(now time.Time) time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	remaining := e.TTL - now.Sub(e.CreatedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (e *Entry) touch(now time.Time, seq uint64) {
	e.LastAccess = now
	e.accessSeq = seq
	e.Hits++
}
