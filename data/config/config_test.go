package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigDefaults(t *testing.T) {
	v := viper.New()
	v.Set("data.redis.addr", "localhost:6379")

	cfg := GetConfig(v)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, TransportRedis, cfg.Messaging.Transport)
	assert.Equal(t, 5*time.Second, cfg.Messaging.PublishTimeout)
	assert.Equal(t, 3, cfg.Messaging.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Messaging.RetryDelay)
	assert.Equal(t, "relay_metrics", cfg.Metrics.KeyPrefix)
	assert.Equal(t, 5*time.Second, cfg.Redis.DialTimeout)
}

func TestRetryAttemptsZeroIsKept(t *testing.T) {
	v := viper.New()
	v.Set("data.redis.addr", "localhost:6379")
	v.Set("data.messaging.retry_attempts", 0)

	cfg := GetConfig(v)
	assert.Equal(t, 0, cfg.Messaging.RetryAttempts)
}

func TestRedisValidate(t *testing.T) {
	tests := []struct {
		name    string
		redis   Redis
		wantErr bool
	}{
		{name: "missing", redis: Redis{}, wantErr: true},
		{name: "url", redis: Redis{URL: "redis://:secret@localhost:6379/2"}},
		{name: "bad scheme", redis: Redis{URL: "http://localhost:6379"}, wantErr: true},
		{name: "addr", redis: Redis{Addr: "127.0.0.1:6379"}},
		{name: "addr without port", redis: Redis{Addr: "localhost"}, wantErr: true},
		{name: "inverted backoff", redis: Redis{Addr: "localhost:6379", MinRetryBackoff: time.Second, MaxRetryBackoff: time.Millisecond}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.redis.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedisOptionsFromURL(t *testing.T) {
	r := Redis{URL: "redis://user:pw@cache.local:6380/3", DialTimeout: time.Second, PoolSize: 4}
	opts, err := r.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.local:6380", opts.Addr)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, time.Second, opts.DialTimeout)
	assert.Equal(t, 4, opts.PoolSize)
}

func TestTransportRequiresBackend(t *testing.T) {
	v := viper.New()
	v.Set("data.redis.addr", "localhost:6379")
	v.Set("data.messaging.transport", "kafka")
	assert.Error(t, GetConfig(v).Validate())

	v.Set("data.kafka.brokers", []string{"localhost:9092"})
	assert.NoError(t, GetConfig(v).Validate())

	v.Set("data.messaging.transport", "carrier-pigeon")
	assert.Error(t, GetConfig(v).Validate())
}

func TestLookupHelpers(t *testing.T) {
	v := viper.New()
	v.Set("str", "")
	v.Set("int", "42")
	v.Set("bool", "false")
	v.Set("dur", "250ms")
	v.Set("secs", 600)
	v.Set("secs_str", "90m")
	v.Set("bad", "soon")

	assert.Equal(t, "fallback", GetString(v, "str", "fallback"))
	assert.Equal(t, "unset", GetString(v, "missing", "unset"))
	assert.Equal(t, 42, GetInt(v, "int", 1))
	assert.False(t, GetBool(v, "bool", true))
	assert.Equal(t, 250*time.Millisecond, GetDuration(v, "dur", time.Second))
	assert.Equal(t, 10*time.Minute, GetSeconds(v, "secs", time.Hour))
	assert.Equal(t, 90*time.Minute, GetSeconds(v, "secs_str", time.Hour))
	assert.Equal(t, time.Second, GetDuration(v, "bad", time.Second))
}
