package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ncobase/relay/data/connection"
	"github.com/ncobase/relay/data/metrics"
	"github.com/redis/go-redis/v9"
)

const scanCount = 500

// Redis implements KeyValueStore on a go-redis command client.
type Redis struct {
	rc        *redis.Client
	collector metrics.Collector
}

var _ KeyValueStore = (*Redis)(nil)

// NewRedis creates a store over rc. A nil collector disables command metrics.
func NewRedis(rc *redis.Client, collector metrics.Collector) *Redis {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Redis{rc: rc, collector: collector}
}

// Client returns the underlying Redis client
func (r *Redis) Client() *redis.Client {
	return r.rc
}

// classify maps client errors onto the store error taxonomy.
func (r *Redis) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	return connection.Wrap("redis", op, err)
}

func (r *Redis) record(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		r.collector.RedisCommand(op, nil)
	} else {
		r.collector.RedisCommand(op, err)
	}
	return r.classify(op, err)
}

func (r *Redis) ready(op string) error {
	if r.rc == nil {
		err := errors.New("redis client is nil")
		r.collector.RedisCommand(op, err)
		return connection.Wrap("redis", op, err)
	}
	return nil
}

// Get returns the value stored at key, or ErrNotFound.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if err := r.ready("get"); err != nil {
		return nil, err
	}
	val, err := r.rc.Get(ctx, key).Bytes()
	if err = r.record("get", err); err != nil {
		return nil, err
	}
	return val, nil
}

// MGet retrieves multiple keys in one round trip
func (r *Redis) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if err := r.ready("mget"); err != nil {
		return nil, err
	}
	values, err := r.rc.MGet(ctx, keys...).Result()
	if err = r.record("mget", err); err != nil {
		return nil, err
	}

	out := make([][]byte, len(values))
	for i, val := range values {
		if s, ok := val.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// Set writes value with the store's native expiry. ttl <= 0 keeps the key forever.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.ready("set"); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return r.record("set", r.rc.Set(ctx, key, value, ttl).Err())
}

// SetBatch writes items through one pipeline
func (r *Redis) SetBatch(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := r.ready("pipeline_set"); err != nil {
		return err
	}

	pipe := r.rc.Pipeline()
	for _, item := range items {
		ttl := item.TTL
		if ttl < 0 {
			ttl = 0
		}
		pipe.Set(ctx, item.Key, item.Value, ttl)
	}
	_, err := pipe.Exec(ctx)
	return r.record("pipeline_set", err)
}

// Delete removes keys and reports how many existed
func (r *Redis) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	if err := r.ready("del"); err != nil {
		return 0, err
	}
	n, err := r.rc.Del(ctx, keys...).Result()
	if err = r.record("del", err); err != nil {
		return 0, err
	}
	return n, nil
}

// Exists checks if key exists; expired keys never exist.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	if err := r.ready("exists"); err != nil {
		return false, err
	}
	n, err := r.rc.Exists(ctx, key).Result()
	if err = r.record("exists", err); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Expire sets expiration for key, false when the key does not exist
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := r.ready("expire"); err != nil {
		return false, err
	}
	ok, err := r.rc.PExpire(ctx, key, ttl).Result()
	if err = r.record("expire", err); err != nil {
		return false, err
	}
	return ok, nil
}

// TTL returns the remaining time to live. Missing keys yield ErrNotFound and
// keys without expiry yield -1.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := r.ready("ttl"); err != nil {
		return 0, err
	}
	d, err := r.rc.PTTL(ctx, key).Result()
	if err = r.record("ttl", err); err != nil {
		return 0, err
	}
	switch d {
	case -2, -2 * time.Millisecond:
		return 0, ErrNotFound
	case -1, -1 * time.Millisecond:
		return -1, nil
	}
	return d, nil
}

// KeysByPrefix enumerates keys starting with prefix using SCAN.
func (r *Redis) KeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := r.ready("scan"); err != nil {
		return nil, err
	}

	pattern := escapeGlob(prefix) + "*"
	seen := make(map[string]struct{})
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.rc.Scan(ctx, cursor, pattern, scanCount).Result()
		if err = r.record("scan", err); err != nil {
			return nil, err
		}
		for _, k := range batch {
			// SCAN may return a key more than once
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Flush removes every key of the selected database.
func (r *Redis) Flush(ctx context.Context) error {
	if err := r.ready("flushdb"); err != nil {
		return err
	}
	return r.record("flushdb", r.rc.FlushDB(ctx).Err())
}

// ZAdd adds members to the sorted set at key
func (r *Redis) ZAdd(ctx context.Context, key string, members ...Member) error {
	if len(members) == 0 {
		return nil
	}
	if err := r.ready("zadd"); err != nil {
		return err
	}
	return r.record("zadd", r.rc.ZAdd(ctx, key, toZ(members)...).Err())
}

// ZAddBatch adds members to several sorted sets through one pipeline
func (r *Redis) ZAddBatch(ctx context.Context, entries map[string][]Member) error {
	if len(entries) == 0 {
		return nil
	}
	if err := r.ready("pipeline_zadd"); err != nil {
		return err
	}
	pipe := r.rc.Pipeline()
	for key, members := range entries {
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, toZ(members)...)
		}
	}
	_, err := pipe.Exec(ctx)
	return r.record("pipeline_zadd", err)
}

// ZRangeByScore returns members with score in [min, max], ascending.
// min and max use the backend syntax ("-inf", "+inf", "(123").
func (r *Redis) ZRangeByScore(ctx context.Context, key, min, max string, limit int64) ([]string, error) {
	if err := r.ready("zrangebyscore"); err != nil {
		return nil, err
	}
	opt := &redis.ZRangeBy{Min: min, Max: max}
	if limit > 0 {
		opt.Count = limit
	}
	members, err := r.rc.ZRangeByScore(ctx, key, opt).Result()
	if err = r.record("zrangebyscore", err); err != nil {
		return nil, err
	}
	return members, nil
}

// ZRangeWithScores returns members by rank with their scores
func (r *Redis) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	if err := r.ready("zrange"); err != nil {
		return nil, err
	}
	zs, err := r.rc.ZRangeWithScores(ctx, key, start, stop).Result()
	if err = r.record("zrange", err); err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(zs))
	for _, z := range zs {
		out = append(out, Member{Member: fmt.Sprint(z.Member), Score: z.Score})
	}
	return out, nil
}

// ZRemRangeByScore removes members with score in [min, max]
func (r *Redis) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	if err := r.ready("zremrangebyscore"); err != nil {
		return 0, err
	}
	n, err := r.rc.ZRemRangeByScore(ctx, key, min, max).Result()
	if err = r.record("zremrangebyscore", err); err != nil {
		return 0, err
	}
	return n, nil
}

// ZCard returns the sorted set cardinality
func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	if err := r.ready("zcard"); err != nil {
		return 0, err
	}
	n, err := r.rc.ZCard(ctx, key).Result()
	if err = r.record("zcard", err); err != nil {
		return 0, err
	}
	return n, nil
}

// Publish sends payload on channel, returning the number of receivers
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if err := r.ready("publish"); err != nil {
		return 0, err
	}
	n, err := r.rc.Publish(ctx, channel, payload).Result()
	if err = r.record("publish", err); err != nil {
		return 0, err
	}
	return n, nil
}

// Info returns the raw INFO text for section
func (r *Redis) Info(ctx context.Context, section string) (string, error) {
	if err := r.ready("info"); err != nil {
		return "", err
	}
	var cmd *redis.StringCmd
	if section == "" {
		cmd = r.rc.Info(ctx)
	} else {
		cmd = r.rc.Info(ctx, section)
	}
	s, err := cmd.Result()
	if err = r.record("info", err); err != nil {
		return "", err
	}
	return s, nil
}

// Ping checks the command connection and reports pool size
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.ready("ping"); err != nil {
		return err
	}
	err := r.record("ping", r.rc.Ping(ctx).Err())
	if stats := r.rc.PoolStats(); stats != nil {
		r.collector.RedisConnections(int(stats.TotalConns))
	}
	return err
}

func toZ(members []Member) []redis.Z {
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	return zs
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes the SCAN MATCH metacharacters in s.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

// ParseInfoField extracts a "name:value" line from INFO output.
func ParseInfoField(info, name string) (string, bool) {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, name+":"); ok {
			return v, true
		}
	}
	return "", false
}
