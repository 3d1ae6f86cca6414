package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTTL is returned when WithTTL receives a zero or negative duration.
	// Entries without expiry must be requested with WithoutExpiry.
	ErrInvalidTTL = errors.New("cache: ttl must be positive")

	// ErrNotJSON is returned by Result.Decode when the stored value is not JSON.
	ErrNotJSON = errors.New("cache: stored value is not JSON")
)

// CacheWriteError reports a store failure on a write path.
type CacheWriteError struct {
	Key string
	Err error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache: write %q: %v", e.Key, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// CacheReadError reports a store failure on a read path. A miss is not an error.
type CacheReadError struct {
	Key string
	Err error
}

func (e *CacheReadError) Error() string {
	return fmt.Sprintf("cache: read %q: %v", e.Key, e.Err)
}

func (e *CacheReadError) Unwrap() error { return e.Err }

// SerializationError means a value could not be encoded as JSON. Nothing is written.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("cache: encode %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
