package data

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ncobase/relay/data/connection"
	"github.com/ncobase/relay/data/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestData(t *testing.T) (*Data, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	d := NewWithConnections(connection.NewWithClients(rc, sub), WithMetricsCollector(metrics.NewDataCollector()))
	t.Cleanup(func() { d.Close() })
	return d, mr
}

func TestHealthReportsEveryComponent(t *testing.T) {
	d, _ := newTestData(t)

	health := d.Health(context.Background())
	assert.Equal(t, "healthy", health["status"])

	services := health["services"].(map[string]any)
	assert.Contains(t, services, "redis")
	assert.Contains(t, services, "redis_subscriber")
}

func TestHealthDegradedWhenRedisDown(t *testing.T) {
	d, mr := newTestData(t)
	mr.Close()

	health := d.Health(context.Background())
	assert.Equal(t, "degraded", health["status"])

	r := health["services"].(map[string]any)["redis"].(metrics.HealthResult)
	assert.False(t, r.Healthy)
	assert.NotEmpty(t, r.Error)
}

func TestStatsUseCollector(t *testing.T) {
	d, _ := newTestData(t)
	require.NoError(t, d.Store.Set(context.Background(), "k", []byte("v"), 0))

	stats := d.GetStats()
	redisStats := stats["redis"].(map[string]any)
	assert.Equal(t, int64(1), redisStats["commands"])
}

func TestCloseIsIdempotent(t *testing.T) {
	d, _ := newTestData(t)
	assert.Empty(t, d.Close())
	assert.Nil(t, d.Close())
	assert.Nil(t, d.GetRedis())
}
