// Package metrics stores time ordered metric samples in sorted sets keyed
// by prefix:type:name, scored by the sample timestamp in epoch milliseconds.
//
// Writes propagate store failures. Reads degrade: a store failure during
// Retrieve is logged and yields no records.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ncobase/relay/data/store"
	"github.com/ncobase/relay/logging/logger"
	"github.com/ncobase/relay/nanoid"
)

// DefaultKeyPrefix is used when no prefix is configured
const DefaultKeyPrefix = "relay_metrics"

// Store is the metrics store
type Store struct {
	kv     store.KeyValueStore
	prefix string
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// Stats summarises the stored records
type Stats struct {
	TotalRecords int64            `json:"total_records"`
	Keys         int64            `json:"keys"`
	MemoryBytes  int64            `json:"memory_bytes"`
	Oldest       time.Time        `json:"oldest"`
	Newest       time.Time        `json:"newest"`
	ByKey        map[string]int64 `json:"by_key"`
}

// Option configures a Store
type Option func(*Store)

// WithKeyPrefix sets the key prefix
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a metrics store on kv
func New(kv store.KeyValueStore, opts ...Option) *Store {
	s := &Store{kv: kv, prefix: DefaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the sorted set key of a metric
func (s *Store) Key(t Type, name string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, t, name)
}

func (s *Store) prepare(r Record) (string, store.Member, error) {
	if err := r.validate(); err != nil {
		return "", store.Member{}, err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}

	id, err := nanoid.New()
	if err != nil {
		return "", store.Member{}, fmt.Errorf("metrics: generate id: %w", err)
	}
	data, err := encodeMember(id, r)
	if err != nil {
		return "", store.Member{}, fmt.Errorf("metrics: encode %s: %w", r.Name, err)
	}

	return s.Key(r.Type, r.Name), store.Member{
		Member: string(data),
		Score:  float64(r.Timestamp.UnixMilli()),
	}, nil
}

// Store appends a record. A zero timestamp is replaced by the current time.
func (s *Store) Store(ctx context.Context, r Record) error {
	key, m, err := s.prepare(r)
	if err != nil {
		return err
	}
	if err := s.kv.ZAdd(ctx, key, m); err != nil {
		return fmt.Errorf("metrics: store %s: %w", key, err)
	}
	return nil
}

// StoreBatch appends records through one pipeline. Validation of every
// record happens before anything is written.
func (s *Store) StoreBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	entries := make(map[string][]store.Member)
	for _, r := range records {
		key, m, err := s.prepare(r)
		if err != nil {
			return err
		}
		entries[key] = append(entries[key], m)
	}

	if err := s.kv.ZAddBatch(ctx, entries); err != nil {
		return fmt.Errorf("metrics: store batch: %w", err)
	}
	return nil
}

// Retrieve returns the records of q.Name/q.Type with timestamp in
// [q.Start, q.End], ascending by timestamp, that carry every label in q.Labels.
func (s *Store) Retrieve(ctx context.Context, q Query) ([]Record, error) {
	if err := validateName(q.Name, q.Type); err != nil {
		return nil, err
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return []Record{}, nil
	}

	lo, hi := "-inf", "+inf"
	if !q.Start.IsZero() {
		lo = strconv.FormatInt(ceilMilli(q.Start), 10)
	}
	if !q.End.IsZero() {
		hi = strconv.FormatInt(q.End.UnixMilli(), 10)
	}

	// label filtering happens client side, so the limit can only be pushed
	// down when there is nothing to filter
	var storeLimit int64
	if len(q.Labels) == 0 {
		storeLimit = q.Limit
	}

	key := s.Key(q.Type, q.Name)
	raw, err := s.kv.ZRangeByScore(ctx, key, lo, hi, storeLimit)
	if err != nil {
		logger.Errorf(ctx, "metrics: retrieve %s: %v", key, err)
		return []Record{}, nil
	}

	records := make([]Record, 0, len(raw))
	for _, m := range raw {
		r, err := decodeMember(q.Name, q.Type, m)
		if err != nil {
			logger.Warnf(ctx, "metrics: skipping malformed member in %s: %v", key, err)
			continue
		}
		if !matchesLabels(r, q.Labels) {
			continue
		}
		records = append(records, r)
		if q.Limit > 0 && int64(len(records)) >= q.Limit {
			break
		}
	}
	return records, nil
}

// ceilMilli rounds t up to a whole millisecond so that a sub-millisecond
// start never admits records stored before it.
func ceilMilli(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.After(time.UnixMilli(ms)) {
		ms++
	}
	return ms
}

func (s *Store) keys(ctx context.Context) ([]string, error) {
	return s.kv.KeysByPrefix(ctx, s.prefix+":")
}

// Cleanup removes every record older than now - maxAge across all metric
// keys and returns how many were removed. Records at or after the cutoff
// are kept, so repeating a call with the same cutoff removes nothing.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge < 0 {
		return 0, fmt.Errorf("%w: maxAge must not be negative", ErrInvalidRecord)
	}
	cutoff := s.now().Add(-maxAge).UnixMilli()

	keys, err := s.keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("metrics: cleanup: %w", err)
	}

	var (
		removed int64
		errs    []error
	)
	below := "(" + strconv.FormatInt(cutoff, 10)
	for _, key := range keys {
		n, err := s.kv.ZRemRangeByScore(ctx, key, "-inf", below)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		removed += n
	}

	if removed > 0 {
		logger.Infof(ctx, "metrics: cleanup removed %d records older than %s", removed, time.UnixMilli(cutoff).Format(time.RFC3339))
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("metrics: cleanup: %w", errors.Join(errs...))
	}
	return removed, nil
}

// GetStats aggregates record counts and the oldest and newest timestamps.
// Memory usage is read from the store's INFO output when available.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("metrics: stats: %w", err)
	}

	stats := &Stats{ByKey: make(map[string]int64, len(keys))}
	var (
		oldest, newest float64
		found          bool
	)
	for _, key := range keys {
		n, err := s.kv.ZCard(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("metrics: stats %s: %w", key, err)
		}
		if n == 0 {
			continue
		}
		stats.Keys++
		stats.TotalRecords += n
		stats.ByKey[key] = n

		first, err := s.kv.ZRangeWithScores(ctx, key, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("metrics: stats %s: %w", key, err)
		}
		last, err := s.kv.ZRangeWithScores(ctx, key, -1, -1)
		if err != nil {
			return nil, fmt.Errorf("metrics: stats %s: %w", key, err)
		}
		if len(first) == 0 || len(last) == 0 {
			continue
		}
		if !found || first[0].Score < oldest {
			oldest = first[0].Score
		}
		if !found || last[0].Score > newest {
			newest = last[0].Score
		}
		found = true
	}
	if found {
		stats.Oldest = time.UnixMilli(int64(oldest))
		stats.Newest = time.UnixMilli(int64(newest))
	}

	stats.MemoryBytes = s.memoryUsage(ctx)
	return stats, nil
}

func (s *Store) memoryUsage(ctx context.Context) int64 {
	info, err := s.kv.Info(ctx, "memory")
	if err != nil {
		logger.Debugf(ctx, "metrics: memory info unavailable: %v", err)
		return 0
	}
	v, ok := store.ParseInfoField(info, "used_memory")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
