package cache

import (
	"errors"
	"fmt"
)

// ErrorKind classifies cache failures.
type ErrorKind string

const (
	// KindSerialization means a value could not be encoded for storage.
	KindSerialization ErrorKind = "serialization"

	// KindDeserialization means stored bytes could not be decoded.
	KindDeserialization ErrorKind = "deserialization"

	// KindConnection means the backing store could not be reached.
	KindConnection ErrorKind = "connection"

	// KindCapacity means the cache is full and its policy forbids eviction.
	KindCapacity ErrorKind = "capacity"

	// KindOperation means the operation is not supported by this cache.
	KindOperation ErrorKind = "operation"

	// KindConfiguration means a cache configuration is invalid or unresolvable.
	KindConfiguration ErrorKind = "configuration"

	// KindType means a stored value does not have the requested shape.
	KindType ErrorKind = "type"

	// KindKey means an administrative lookup failed (e.g. unknown cache name).
	KindKey ErrorKind = "key"

	// KindOther covers everything else.
	KindOther ErrorKind = "other"
)

// Sentinels for errors.Is. A *Error matches the sentinel of its kind.
var (
	ErrSerialization   = &Error{Kind: KindSerialization}
	ErrDeserialization = &Error{Kind: KindDeserialization}
	ErrConnection      = &Error{Kind: KindConnection}
	ErrCapacity        = &Error{Kind: KindCapacity}
	ErrOperation       = &Error{Kind: KindOperation}
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrType            = &Error{Kind: KindType}
	ErrKey             = &Error{Kind: KindKey}
	ErrOther           = &Error{Kind: KindOther}
)

// Error is the error type returned by every cache operation.
type Error struct {
	Kind    ErrorKind
	Op      string
	Cache   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("cache %s error", e.Kind)
	if e.Cache != "" {
		msg += fmt.Sprintf(" (cache %q)", e.Cache)
	}
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Cache != "" || t.Message != "" || t.Err != nil {
		return t == e
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or KindOther.
func KindOf(err error) ErrorKind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindOther
}

func newError(kind ErrorKind, cache, op, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Cache:   cache,
		Message: fmt.Sprintf(format, args...),
	}
}

func wrapError(kind ErrorKind, cache, op string, err error) *Error {
	return &Error{
		Kind:  kind,
		Op:    op,
		Cache: cache,
		Err:   err,
	}
}
