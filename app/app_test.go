package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ncobase/relay/cache"
	"github.com/ncobase/relay/config"
	"github.com/ncobase/relay/data"
	"github.com/ncobase/relay/data/connection"
	dmetrics "github.com/ncobase/relay/data/metrics"
	"github.com/ncobase/relay/metrics"
	"github.com/ncobase/relay/monitor"
	"github.com/ncobase/relay/pubsub"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, addr string, extra map[string]any) *config.Config {
	t.Helper()
	v := config.New()
	v.Set("app_name", "relay-test")
	v.Set("data.redis.addr", addr)
	v.Set("data.messaging.retry_delay", "10ms")
	v.Set("monitor.interval", "20ms")
	for k, val := range extra {
		v.Set(k, val)
	}
	cfg := config.FromViper(v)
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, extra map[string]any) (*App, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	d := data.NewWithConnections(connection.NewWithClients(rc, sub),
		data.WithMetricsCollector(dmetrics.NewDataCollector()))
	t.Cleanup(func() { d.Close() })

	a, err := NewWithData(testConfig(t, mr.Addr(), extra), d)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a, mr
}

func TestComponentsShareOneStore(t *testing.T) {
	a, mr := newTestApp(t, map[string]any{"cache.namespace": "agents"})
	ctx := context.Background()

	require.NoError(t, a.Cache.Set(ctx, "status", map[string]string{"state": "idle"}))
	assert.True(t, mr.Exists("agents:status"))

	require.NoError(t, a.Metrics.Store(ctx, metrics.Record{Name: "latency", Type: metrics.Gauge, Value: 12}))
	assert.True(t, mr.Exists("relay_metrics:gauge:latency"))

	stats := a.Stats()
	assert.Equal(t, cache.Stats{}, stats["cache"])
	redisStats := stats["redis"].(map[string]any)
	assert.Positive(t, redisStats["commands"])
}

func TestRelayOverRedis(t *testing.T) {
	a, mr := newTestApp(t, nil)
	ctx := context.Background()
	assert.Equal(t, "redis", a.Relay.Transport().Name())

	got := make(chan string, 1)
	require.NoError(t, a.Relay.Subscribe(ctx, "agents", func(_ context.Context, m *pubsub.Message) error {
		got <- m.Source()
		return nil
	}))
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("agents")["agents"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err := a.Relay.Publish(ctx, "agents", map[string]int{"x": 1})
	require.NoError(t, err)

	select {
	case src := <-got:
		assert.Equal(t, "relay-test", src)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBreakerWrapsTransport(t *testing.T) {
	a, _ := newTestApp(t, map[string]any{"data.messaging.breaker": true})
	bt, ok := a.Relay.Transport().(*pubsub.BreakerTransport)
	require.True(t, ok)
	assert.Equal(t, gobreaker.StateClosed, bt.State())
}

func TestStartRunsMonitor(t *testing.T) {
	a, _ := newTestApp(t, nil)
	ctx := context.Background()

	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool {
		recs, err := a.Metrics.Retrieve(ctx, metrics.Query{Name: monitor.MetricHeapUsed, Type: metrics.Gauge})
		return err == nil && len(recs) > 0
	}, 2*time.Second, 10*time.Millisecond)

	recs, _ := a.Metrics.Retrieve(ctx, metrics.Query{Name: monitor.MetricHeapUsed, Type: metrics.Gauge})
	src, _ := recs[0].Label("source")
	assert.Equal(t, "relay-test", src)
	assert.Equal(t, true, a.Stats()["memory_sampling"])

	require.NoError(t, a.Stop(ctx))
	require.NoError(t, a.Stop(ctx))
	assert.Error(t, a.Start(ctx))

	_, err := a.Relay.Publish(ctx, "agents", 1)
	assert.ErrorIs(t, err, pubsub.ErrRelayClosed)
}

func TestMonitorDisabled(t *testing.T) {
	a, _ := newTestApp(t, map[string]any{"monitor.enabled": false})
	assert.Nil(t, a.Monitor)
	require.NoError(t, a.Start(context.Background()))
}

func TestStartRunsRedisMonitor(t *testing.T) {
	a, _ := newTestApp(t, map[string]any{
		"monitor.enabled":                                    false,
		"monitor.redis.enabled":                              true,
		"monitor.redis.interval":                             "20ms",
		"monitor.redis.thresholds.connected_clients.warning": 1,
	})
	require.NotNil(t, a.Redis)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool {
		recs, err := a.Metrics.Retrieve(ctx, metrics.Query{Name: monitor.MetricRedisConnectedClients, Type: metrics.Gauge})
		return err == nil && len(recs) > 0
	}, 2*time.Second, 10*time.Millisecond)

	stats := a.Stats()
	assert.Equal(t, true, stats["redis_sampling"])
	assert.Equal(t, 1, stats["redis_alerts"])

	require.NoError(t, a.Stop(ctx))
	assert.False(t, a.Redis.IsEnabled())
}

func TestRedisMonitorDisabledByDefault(t *testing.T) {
	a, _ := newTestApp(t, nil)
	assert.Nil(t, a.Redis)
	assert.NotContains(t, a.Stats(), "redis_sampling")
}

func TestHealth(t *testing.T) {
	a, mr := newTestApp(t, nil)
	ctx := context.Background()

	assert.Equal(t, "healthy", a.Health(ctx)["status"])
	mr.Close()
	assert.Equal(t, "degraded", a.Health(ctx)["status"])
}

func TestNewOpensConnections(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr(), map[string]any{"monitor.enabled": false})

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, a.Cache.Set(context.Background(), "k", "v"))
	res, err := a.Cache.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", res.Value())

	require.NoError(t, a.Stop(context.Background()))
	assert.Nil(t, a.Data.GetRedis())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	v := config.New()
	_, err := New(context.Background(), config.FromViper(v))
	assert.Error(t, err)
}
