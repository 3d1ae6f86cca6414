package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ncobase/relay/data/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(addr string) *config.Config {
	v := viper.New()
	v.Set("data.redis.addr", addr)
	v.Set("data.redis.dial_timeout", time.Second)
	v.Set("data.redis.max_retries", 0)
	return config.GetConfig(v)
}

func TestNewOpensSeparateClients(t *testing.T) {
	mr := miniredis.RunT(t)

	conns, err := New(context.Background(), testConfig(mr.Addr()))
	require.NoError(t, err)
	defer conns.Close()

	require.NotNil(t, conns.RC)
	require.NotNil(t, conns.Sub)
	assert.NotSame(t, conns.RC, conns.Sub)
	assert.NoError(t, conns.Ping(context.Background()))
	assert.NoError(t, conns.PingKafka())
	assert.NoError(t, conns.PingRabbitMQ())
}

func TestNewFailsFastWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), testConfig(addr))
	require.Error(t, err)

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "redis", connErr.Backend)
}

func TestNewRejectsMissingTarget(t *testing.T) {
	_, err := New(context.Background(), config.GetConfig(viper.New()))
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)

	conns, err := New(context.Background(), testConfig(mr.Addr()))
	require.NoError(t, err)

	assert.Empty(t, conns.Close())
	assert.Nil(t, conns.Close())
	assert.Error(t, conns.Ping(context.Background()))
}
