package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ncobase/relay/ecode"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// Redis redis config struct
type Redis struct {
	URL             string        `json:"url" yaml:"url"`
	Addr            string        `json:"addr" yaml:"addr"`
	Username        string        `json:"username" yaml:"username"`
	Password        string        `json:"password" yaml:"password"`
	Db              int           `json:"db" yaml:"db"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	DialTimeout     time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	PoolSize        int           `json:"pool_size" yaml:"pool_size"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries"`
	MinRetryBackoff time.Duration `json:"min_retry_backoff" yaml:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `json:"max_retry_backoff" yaml:"max_retry_backoff"`
}

// getRedisConfigs reads Redis configurations
func getRedisConfigs(v *viper.Viper) *Redis {
	return &Redis{
		URL:             v.GetString("data.redis.url"),
		Addr:            v.GetString("data.redis.addr"),
		Username:        v.GetString("data.redis.username"),
		Password:        v.GetString("data.redis.password"),
		Db:              v.GetInt("data.redis.db"),
		ReadTimeout:     GetDuration(v, "data.redis.read_timeout", 3*time.Second),
		WriteTimeout:    GetDuration(v, "data.redis.write_timeout", 3*time.Second),
		DialTimeout:     GetDuration(v, "data.redis.dial_timeout", 5*time.Second),
		PoolSize:        GetInt(v, "data.redis.pool_size", 10),
		MaxRetries:      GetInt(v, "data.redis.max_retries", 3),
		MinRetryBackoff: GetDuration(v, "data.redis.min_retry_backoff", 8*time.Millisecond),
		MaxRetryBackoff: GetDuration(v, "data.redis.max_retry_backoff", 512*time.Millisecond),
	}
}

// Validate fails fast when the connection target is absent or malformed.
func (r *Redis) Validate() error {
	switch {
	case r.URL != "":
		if _, err := redis.ParseURL(r.URL); err != nil {
			return fmt.Errorf("data.redis.url: %w", err)
		}
	case r.Addr != "":
		if _, _, err := net.SplitHostPort(r.Addr); err != nil {
			return fmt.Errorf("data.redis.addr: %w", err)
		}
	default:
		return errors.New(ecode.FieldIsRequired("data.redis.url or data.redis.addr"))
	}
	if r.MaxRetryBackoff > 0 && r.MinRetryBackoff > r.MaxRetryBackoff {
		return errors.New(ecode.FieldIsInvalidf("data.redis.min_retry_backoff", r.MinRetryBackoff))
	}
	return nil
}

// Options builds go-redis client options. Values set explicitly on the config
// override the ones carried by the URL.
func (r *Redis) Options() (*redis.Options, error) {
	opts := &redis.Options{}
	if r.URL != "" {
		parsed, err := redis.ParseURL(r.URL)
		if err != nil {
			return nil, fmt.Errorf("data.redis.url: %w", err)
		}
		opts = parsed
	} else {
		opts.Addr = r.Addr
		opts.DB = r.Db
	}
	if r.Username != "" {
		opts.Username = r.Username
	}
	if r.Password != "" {
		opts.Password = r.Password
	}
	if r.Db != 0 {
		opts.DB = r.Db
	}
	opts.ReadTimeout = r.ReadTimeout
	opts.WriteTimeout = r.WriteTimeout
	opts.DialTimeout = r.DialTimeout
	opts.PoolSize = r.PoolSize
	opts.MaxRetries = r.MaxRetries
	opts.MinRetryBackoff = r.MinRetryBackoff
	opts.MaxRetryBackoff = r.MaxRetryBackoff
	return opts, nil
}
