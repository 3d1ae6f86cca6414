package cache

import "time"

// DefaultTTL applies when neither the cache nor the call sets a TTL.
const DefaultTTL = 3600 * time.Second

// Option configures a Cache
type Option func(*Cache)

// WithDefaultTTL sets the TTL used when a write does not specify one.
// Non-positive values are ignored.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

// WithDefaultNamespace sets the namespace used when a call does not specify one.
func WithDefaultNamespace(ns string) Option {
	return func(c *Cache) {
		c.namespace = ns
	}
}

// EntryOption adjusts a single cache call
type EntryOption func(*entryOptions)

type entryOptions struct {
	namespace    string
	hasNamespace bool
	ttl          time.Duration
	hasTTL       bool
	noExpiry     bool
}

// WithNamespace scopes the call to ns. An empty ns addresses the bare keyspace.
func WithNamespace(ns string) EntryOption {
	return func(o *entryOptions) {
		o.namespace = ns
		o.hasNamespace = true
	}
}

// WithTTL sets the entry lifetime. d must be positive.
func WithTTL(d time.Duration) EntryOption {
	return func(o *entryOptions) {
		o.ttl = d
		o.hasTTL = true
		o.noExpiry = false
	}
}

// WithoutExpiry stores the entry with no TTL.
func WithoutExpiry() EntryOption {
	return func(o *entryOptions) {
		o.noExpiry = true
		o.hasTTL = false
	}
}

func (c *Cache) resolve(opts []EntryOption) entryOptions {
	o := entryOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasNamespace {
		o.namespace = c.namespace
	}
	return o
}

// expiry returns the TTL to write with, 0 meaning none.
func (c *Cache) expiry(o entryOptions) (time.Duration, error) {
	switch {
	case o.noExpiry:
		return 0, nil
	case o.hasTTL:
		if o.ttl <= 0 {
			return 0, ErrInvalidTTL
		}
		return o.ttl, nil
	default:
		return c.defaultTTL, nil
	}
}
