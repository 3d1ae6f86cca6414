package connection

import (
	"context"
	"errors"

	"github.com/ncobase/relay/data/config"
	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
)

// newRedisClient creates a new Redis client and verifies it with PING.
func newRedisClient(ctx context.Context, conf *config.Redis, name string) (*redis.Client, error) {
	if conf == nil {
		return nil, errors.New("redis configuration is nil")
	}

	opts, err := conf.Options()
	if err != nil {
		return nil, err
	}
	opts.ClientName = name
	// Explicitly disable maintenance notifications
	// This prevents the client from sending CLIENT MAINT_NOTIFICATIONS ON
	opts.MaintNotificationsConfig = &maintnotifications.Config{
		Mode: maintnotifications.ModeDisabled,
	}

	rc := redis.NewClient(opts)

	timeout, cancelFunc := context.WithTimeout(ctx, conf.DialTimeout)
	defer cancelFunc()
	if err := rc.Ping(timeout).Err(); err != nil {
		_ = rc.Close()
		return nil, newConnectionError("redis", "ping", err)
	}

	return rc, nil
}
