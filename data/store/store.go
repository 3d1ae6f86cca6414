// Package store is the thin key-value adapter the cache, metrics and relay
// components share. Behaviour is expressed in terms of the backend's own
// primitives (GET, SET PX, EXPIRE, SCAN, ZADD, ZRANGEBYSCORE, PUBLISH,
// pipelines); every command is atomic on its own and multi key sequences
// are not.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Item is one entry of a batched write. A zero TTL keeps the key forever.
type Item struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Member is a sorted set member with its score.
type Member struct {
	Member string
	Score  float64
}

// KeyValueStore is the set of primitive operations the components rely on.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// MGet returns one slot per key; missing keys are nil.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetBatch writes all items in a single pipeline. The pipeline result is the
	// unit of success: any failed command fails the call.
	SetBatch(ctx context.Context, items []Item) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
	Flush(ctx context.Context) error

	ZAdd(ctx context.Context, key string, members ...Member) error
	ZAddBatch(ctx context.Context, entries map[string][]Member) error
	ZRangeByScore(ctx context.Context, key, min, max string, limit int64) ([]string, error)
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error)
	ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)

	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	Info(ctx context.Context, section string) (string, error)
	Ping(ctx context.Context) error
}
