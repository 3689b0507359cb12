package cache

import (
	"encoding/json"
)

// Codec converts typed values to and from the bytes a Cache stores.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes values as JSON. Integer counters written by Increment are
// valid JSON numbers, so typed int64 reads see them.
type JSONCodec struct{}

// Marshal implements Codec.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// TypedSupport is implemented by caches that can back a TypedCache.
// Typed resolves it from a plain Cache value with a type assertion.
type TypedSupport interface {
	Codec() Codec
}
