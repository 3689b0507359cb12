package cache

import (
	"strings"
)

// KeySpace builds deterministic, namespaced store keys for one cache
// instance inside a shared backing store.
// Format: prefix:cache-name:key
//
// Example:
//
//	cache:sessions:user=42
type KeySpace struct {
	// Prefix is the application-wide namespace (e.g., "cache")
	Prefix string

	// Cache is the cache instance name
	Cache string
}

// Key returns the store key for a cache key.
func (s KeySpace) Key(key string) string {
	return s.base() + key
}

// Keys maps Key over keys.
func (s KeySpace) Keys(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = s.Key(k)
	}
	return out
}

// Pattern returns a glob matching every key of the key space, with glob
// metacharacters in the prefix and name escaped.
func (s KeySpace) Pattern() string {
	return escapeGlob(s.base()) + "*"
}

func (s KeySpace) base() string {
	parts := make([]string, 0, 2)
	if p := strings.Trim(s.Prefix, ":"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, s.Cache)
	return strings.Join(parts, ":") + ":"
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
