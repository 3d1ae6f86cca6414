package data

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ncobase/relay/data/config"
	"github.com/ncobase/relay/data/connection"
	"github.com/ncobase/relay/data/metrics"
	"github.com/ncobase/relay/data/store"
	"github.com/ncobase/relay/logging/logger"
	"github.com/redis/go-redis/v9"
)

// Data represents the data layer implementation
type Data struct {
	Conn  *connection.Connections
	Store *store.Redis

	collector     metrics.Collector
	healthMonitor *metrics.HealthMonitor
	closed        bool
	mu            sync.RWMutex
}

// Option function type for configuring Data
type Option func(*Data)

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(collector metrics.Collector) Option {
	return func(d *Data) {
		if collector != nil {
			d.collector = collector
		}
	}
}

// New opens the configured connections and builds the data layer on top.
// The returned cleanup closes every connection and logs close errors.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Data, func(), error) {
	conn, err := connection.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	d := NewWithConnections(conn, opts...)

	cleanup := func() {
		if errs := d.Close(); len(errs) > 0 {
			logger.Errorf(context.Background(), "data cleanup errors: %v", errors.Join(errs...))
		}
	}
	return d, cleanup, nil
}

// NewWithConnections builds the data layer on already opened connections.
func NewWithConnections(conn *connection.Connections, opts ...Option) *Data {
	d := &Data{
		Conn:      conn,
		collector: metrics.NoOpCollector{},
	}
	for _, opt := range opts {
		opt(d)
	}

	var rc *redis.Client
	if conn != nil {
		rc = conn.RC
	}
	d.Store = store.NewRedis(rc, d.collector)

	d.healthMonitor = metrics.NewHealthMonitor(d.collector)
	d.registerHealthCheckers()

	return d
}

// registerHealthCheckers registers components for health monitoring
func (d *Data) registerHealthCheckers() {
	d.healthMonitor.RegisterComponent(metrics.HealthCheckFunc{
		ComponentName: "redis",
		Fn:            d.Store.Ping,
	})

	if d.Conn == nil {
		return
	}
	if d.Conn.Sub != nil {
		d.healthMonitor.RegisterComponent(metrics.HealthCheckFunc{
			ComponentName: "redis_subscriber",
			Fn:            func(ctx context.Context) error { return d.Conn.Sub.Ping(ctx).Err() },
		})
	}
	if d.Conn.KFK != nil {
		d.healthMonitor.RegisterComponent(metrics.HealthCheckFunc{
			ComponentName: "kafka",
			Fn:            func(context.Context) error { return d.Conn.PingKafka() },
		})
	}
	if d.Conn.RMQ != nil {
		d.healthMonitor.RegisterComponent(metrics.HealthCheckFunc{
			ComponentName: "rabbitmq",
			Fn:            func(context.Context) error { return d.Conn.PingRabbitMQ() },
		})
	}
}

// GetRedis returns the Redis command client
func (d *Data) GetRedis() *redis.Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.Conn == nil {
		return nil
	}
	return d.Conn.RC
}

// GetSubscriber returns the Redis client reserved for subscriptions
func (d *Data) GetSubscriber() *redis.Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.Conn == nil {
		return nil
	}
	return d.Conn.Sub
}

// GetMetricsCollector returns the metrics collector
func (d *Data) GetMetricsCollector() metrics.Collector {
	return d.collector
}

// Health checks every registered component.
func (d *Data) Health(ctx context.Context) map[string]any {
	results := d.healthMonitor.CheckAll(ctx)

	status := "healthy"
	services := make(map[string]any, len(results))
	for _, r := range results {
		services[r.Name] = r
		if !r.Healthy {
			status = "degraded"
		}
	}

	return map[string]any{
		"status":    status,
		"timestamp": time.Now(),
		"services":  services,
	}
}

// GetStats returns data layer statistics
func (d *Data) GetStats() map[string]any {
	if dc, ok := d.collector.(*metrics.DataCollector); ok {
		return dc.GetStats()
	}
	return map[string]any{
		"status":    "metrics_unavailable",
		"timestamp": time.Now(),
	}
}

// Close closes all data connections
func (d *Data) Close() []error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	if d.Conn != nil {
		errs = d.Conn.Close()
	}
	return errs
}
