// Package cache is a namespaced TTL cache of JSON values on top of a
// store.KeyValueStore.
//
// Expiry is carried only by the store's native TTL, so an expired entry is
// absent on every read path (Get, Has, GetMultiple) with no extra bookkeeping.
// Multi key operations (Clear, SetMultiple) are not atomic with respect to
// concurrent writers in the same namespace.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ncobase/relay/data/store"
	"github.com/ncobase/relay/logging/logger"
)

const deleteBatchSize = 500

// Cache implements the namespaced cache
type Cache struct {
	store      store.KeyValueStore
	defaultTTL time.Duration
	namespace  string

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats holds cache hit/miss counters
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// New creates a new Cache instance
func New(s store.KeyValueStore, opts ...Option) *Cache {
	c := &Cache{store: s, defaultTTL: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the stored key for key in namespace ns
func Key(ns, key string) string {
	if ns == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", ns, key)
}

// Set encodes value as JSON and writes it with the resolved TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, opts ...EntryOption) error {
	o := c.resolve(opts)
	full := Key(o.namespace, key)

	ttl, err := c.expiry(o)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return &SerializationError{Key: full, Err: err}
	}

	if err := c.store.Set(ctx, full, data, ttl); err != nil {
		return &CacheWriteError{Key: full, Err: err}
	}
	return nil
}

// Get returns the entry at key, or nil when it is absent or expired.
func (c *Cache) Get(ctx context.Context, key string, opts ...EntryOption) (*Result, error) {
	o := c.resolve(opts)
	full := Key(o.namespace, key)

	data, err := c.store.Get(ctx, full)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.misses.Add(1)
			return nil, nil
		}
		return nil, &CacheReadError{Key: full, Err: err}
	}

	c.hits.Add(1)
	return newResult(data), nil
}

// GetAs reads key and decodes it into a T. A miss yields nil, nil.
func GetAs[T any](ctx context.Context, c *Cache, key string, opts ...EntryOption) (*T, error) {
	res, err := c.Get(ctx, key, opts...)
	if err != nil || res == nil {
		return nil, err
	}
	var v T
	if err := res.Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string, opts ...EntryOption) error {
	o := c.resolve(opts)
	full := Key(o.namespace, key)

	if _, err := c.store.Delete(ctx, full); err != nil {
		return &CacheWriteError{Key: full, Err: err}
	}
	return nil
}

// Has reports whether a live entry exists at key
func (c *Cache) Has(ctx context.Context, key string, opts ...EntryOption) (bool, error) {
	o := c.resolve(opts)
	full := Key(o.namespace, key)

	ok, err := c.store.Exists(ctx, full)
	if err != nil {
		return false, &CacheReadError{Key: full, Err: err}
	}
	return ok, nil
}

// Clear removes every key of the namespace and returns how many were removed.
//
// Without a namespace, Clear flushes the whole store database, including
// keys this cache never wrote, and returns -1.
func (c *Cache) Clear(ctx context.Context, opts ...EntryOption) (int64, error) {
	o := c.resolve(opts)

	if o.namespace == "" {
		logger.Warnf(ctx, "cache: clearing without namespace flushes the entire store")
		if err := c.store.Flush(ctx); err != nil {
			return 0, &CacheWriteError{Key: "*", Err: err}
		}
		return -1, nil
	}

	pattern := o.namespace + ":*"
	keys, err := c.store.KeysByPrefix(ctx, o.namespace+":")
	if err != nil {
		return 0, &CacheWriteError{Key: pattern, Err: err}
	}

	var removed int64
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		n, err := c.store.Delete(ctx, keys[start:end]...)
		removed += n
		if err != nil {
			return removed, &CacheWriteError{Key: pattern, Err: err}
		}
	}

	logger.Debugf(ctx, "cache: cleared %d keys in namespace %s", removed, o.namespace)
	return removed, nil
}

// GetMultiple reads keys in one round trip. Misses are absent from the map.
func (c *Cache) GetMultiple(ctx context.Context, keys []string, opts ...EntryOption) (map[string]*Result, error) {
	out := make(map[string]*Result, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	o := c.resolve(opts)
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = Key(o.namespace, k)
	}

	values, err := c.store.MGet(ctx, full...)
	if err != nil {
		return nil, &CacheReadError{Key: Key(o.namespace, "*"), Err: err}
	}

	for i, v := range values {
		if v == nil {
			c.misses.Add(1)
			continue
		}
		c.hits.Add(1)
		out[keys[i]] = newResult(v)
	}
	return out, nil
}

// SetMultiple writes entries through a single pipeline.
//
// Every value is encoded before anything is sent, so an encoding failure
// writes nothing. Once sent, the pipeline as a whole succeeds or fails.
func (c *Cache) SetMultiple(ctx context.Context, entries map[string]any, opts ...EntryOption) error {
	if len(entries) == 0 {
		return nil
	}

	o := c.resolve(opts)
	ttl, err := c.expiry(o)
	if err != nil {
		return err
	}

	items := make([]store.Item, 0, len(entries))
	for k, v := range entries {
		full := Key(o.namespace, k)
		data, err := json.Marshal(v)
		if err != nil {
			return &SerializationError{Key: full, Err: err}
		}
		items = append(items, store.Item{Key: full, Value: data, TTL: ttl})
	}

	if err := c.store.SetBatch(ctx, items); err != nil {
		return &CacheWriteError{Key: Key(o.namespace, "*"), Err: err}
	}
	return nil
}

// TTL returns the remaining lifetime of key. A missing key yields
// store.ErrNotFound and a key without expiry yields -1.
func (c *Cache) TTL(ctx context.Context, key string, opts ...EntryOption) (time.Duration, error) {
	o := c.resolve(opts)
	full := Key(o.namespace, key)

	d, err := c.store.TTL(ctx, full)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, err
		}
		return 0, &CacheReadError{Key: full, Err: err}
	}
	return d, nil
}

// Expire resets the lifetime of an existing key. It reports false when the key is absent.
func (c *Cache) Expire(ctx context.Context, key string, d time.Duration, opts ...EntryOption) (bool, error) {
	if d <= 0 {
		return false, ErrInvalidTTL
	}
	o := c.resolve(opts)
	full := Key(o.namespace, key)

	ok, err := c.store.Expire(ctx, full, d)
	if err != nil {
		return false, &CacheWriteError{Key: full, Err: err}
	}
	return ok, nil
}

// Stats returns hit/miss counters since creation
func (c *Cache) Stats() Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
