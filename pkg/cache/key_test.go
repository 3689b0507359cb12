package cache

import (
	"testing"
)

func TestKeySpace_Key(t *testing.T) {
	tests := []struct {
		name  string
		space KeySpace
		key   string
		want  string
	}{
		{
			name:  "prefix and cache",
			space: KeySpace{Prefix: "cache", Cache: "sessions"},
			key:   "user=42",
			want:  "cache:sessions:user=42",
		},
		{
			name:  "prefix colons are trimmed",
			space: KeySpace{Prefix: ":app:", Cache: "sessions"},
			key:   "a",
			want:  "app:sessions:a",
		},
		{
			name:  "no prefix",
			space: KeySpace{Cache: "sessions"},
			key:   "a",
			want:  "sessions:a",
		},
		{
			name:  "key with colons",
			space: KeySpace{Prefix: "cache", Cache: "orders"},
			key:   "region:10000002",
			want:  "cache:orders:region:10000002",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.space.Key(tt.key); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeySpace_Keys(t *testing.T) {
	space := KeySpace{Prefix: "cache", Cache: "c"}
	got := space.Keys([]string{"a", "b"})
	if len(got) != 2 || got[0] != "cache:c:a" || got[1] != "cache:c:b" {
		t.Errorf("Keys() = %v", got)
	}
}

func TestKeySpace_Pattern(t *testing.T) {
	tests := []struct {
		name  string
		space KeySpace
		want  string
	}{
		{
			name:  "plain",
			space: KeySpace{Prefix: "cache", Cache: "sessions"},
			want:  "cache:sessions:*",
		},
		{
			name:  "glob characters escaped",
			space: KeySpace{Prefix: "cache", Cache: "a*b?[c]"},
			want:  `cache:a\*b\?\[c\]:*`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.space.Pattern(); got != tt.want {
				t.Errorf("Pattern() = %q, want %q", got, tt.want)
			}
		})
	}
}
