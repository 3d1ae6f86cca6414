// Package app wires the data layer, cache, metrics store, pub/sub relay and
// memory monitor into one process with a single start/stop lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ncobase/relay/cache"
	"github.com/ncobase/relay/config"
	"github.com/ncobase/relay/data"
	dc "github.com/ncobase/relay/data/config"
	dmetrics "github.com/ncobase/relay/data/metrics"
	"github.com/ncobase/relay/logging/logger"
	"github.com/ncobase/relay/logging/observes"
	"github.com/ncobase/relay/metrics"
	"github.com/ncobase/relay/monitor"
	"github.com/ncobase/relay/pubsub"
	"github.com/ncobase/relay/version"
)

// App owns every component and the connections beneath them
type App struct {
	Config  *config.Config
	Data    *data.Data
	Cache   *cache.Cache
	Metrics *metrics.Store
	Relay   *pubsub.Relay
	Monitor *monitor.Detector
	Redis   *monitor.RedisMonitor

	cleanups []func()
	started  bool
	stopped  bool
	mu       sync.Mutex
}

// New sets up logging, error reporting and tracing, opens the configured
// connections and builds every component.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var cleanups []func()
	undo := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	logCleanup, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	cleanups = append(cleanups, logCleanup)
	logger.SetVersion(version.GetVersionInfo().Version)

	if s := cfg.Observes.Sentry; s.DSN != "" {
		if err := observes.NewSentry(&observes.SentryOptions{
			Dsn:         s.DSN,
			Name:        cfg.AppName,
			Release:     s.Release,
			Environment: s.Environment,
			SampleRate:  s.SampleRate,
		}); err != nil {
			undo()
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
		logger.AddHook(observes.NewSentryHook())
		cleanups = append(cleanups, func() { observes.FlushSentry(2 * time.Second) })
	}

	if tc := cfg.Observes.Tracer; tc != nil && tc.Endpoint != "" {
		shutdown, err := observes.NewTracer(ctx, &observes.TracerOption{
			Endpoint:           tc.Endpoint,
			Name:               tc.ServiceName,
			Version:            version.GetVersionInfo().Version,
			Environment:        tc.Environment,
			SamplingRate:       tc.SamplingRate,
			BatchTimeout:       tc.BatchTimeout,
			ExportTimeout:      tc.ExportTimeout,
			MaxExportBatchSize: tc.MaxExportBatchSize,
		})
		if err != nil {
			undo()
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		cleanups = append(cleanups, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Errorf(ctx, "failed to shut down tracer: %v", err)
			}
		})
	}

	collector := dmetrics.NewDataCollector()
	d, dataCleanup, err := data.New(ctx, cfg.Data, data.WithMetricsCollector(collector))
	if err != nil {
		undo()
		return nil, fmt.Errorf("failed to initialize data layer: %w", err)
	}
	cleanups = append(cleanups, dataCleanup)

	a, err := build(cfg, d)
	if err != nil {
		undo()
		return nil, err
	}
	a.cleanups = cleanups
	return a, nil
}

// NewWithData builds the components on an existing data layer. The caller
// keeps ownership of d and its connections.
func NewWithData(cfg *config.Config, d *data.Data) (*App, error) {
	return build(cfg, d)
}

func build(cfg *config.Config, d *data.Data) (*App, error) {
	a := &App{Config: cfg, Data: d}

	a.Cache = cache.New(d.Store,
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithDefaultNamespace(cfg.Cache.Namespace),
	)

	a.Metrics = metrics.New(d.Store, metrics.WithKeyPrefix(cfg.Data.Metrics.KeyPrefix))

	transport, err := newTransport(cfg.Data, d)
	if err != nil {
		return nil, err
	}
	m := cfg.Data.Messaging
	a.Relay = pubsub.NewRelay(transport,
		pubsub.WithSource(cfg.AppName),
		pubsub.WithPublishTimeout(m.PublishTimeout),
		pubsub.WithRetry(m.RetryAttempts, m.RetryDelay),
		pubsub.WithCollector(d.GetMetricsCollector()),
	)

	if cfg.Monitor.Enabled {
		a.Monitor, err = monitor.New(a.Metrics, &monitor.Config{
			Interval:     cfg.Monitor.Interval,
			MaxSnapshots: cfg.Monitor.MaxSnapshots,
			Source:       cfg.AppName,
			MemoryLimit:  cfg.Monitor.MemoryLimit,
		})
		if err != nil {
			_ = a.Relay.Close()
			return nil, fmt.Errorf("failed to create memory monitor: %w", err)
		}
	}

	if rc := cfg.Monitor.Redis; rc != nil && rc.Enabled {
		a.Redis, err = monitor.NewRedis(d.Store, a.Metrics, &monitor.RedisConfig{
			Interval:   rc.Interval,
			Source:     cfg.AppName,
			Thresholds: redisThresholds(rc.Thresholds),
		})
		if err != nil {
			_ = a.Relay.Close()
			return nil, fmt.Errorf("failed to create redis monitor: %w", err)
		}
	}

	return a, nil
}

// redisThresholdMetrics maps config threshold names onto gauges
var redisThresholdMetrics = map[string]string{
	"used_memory":       monitor.MetricRedisUsedMemory,
	"fragmentation":     monitor.MetricRedisFragmentation,
	"connected_clients": monitor.MetricRedisConnectedClients,
	"blocked_clients":   monitor.MetricRedisBlockedClients,
}

func redisThresholds(in map[string]config.RedisAlertThreshold) map[string]monitor.Threshold {
	out := make(map[string]monitor.Threshold, len(in))
	for name, th := range in {
		if metric, ok := redisThresholdMetrics[name]; ok {
			out[metric] = monitor.Threshold{Warning: th.Warning, Critical: th.Critical}
		}
	}
	return out
}

// newTransport selects the relay transport named by the messaging config
func newTransport(cfg *dc.Config, d *data.Data) (pubsub.Transport, error) {
	var (
		t   pubsub.Transport
		err error
	)

	switch cfg.Messaging.Transport {
	case dc.TransportKafka:
		t, err = pubsub.NewKafkaTransport(cfg.Kafka)
	case dc.TransportRabbitMQ:
		if d.Conn == nil {
			return nil, errors.New("rabbitmq transport selected but no connection is open")
		}
		t, err = pubsub.NewRabbitMQTransport(d.Conn.RMQ, cfg.RabbitMQ.Exchange)
	default:
		t = pubsub.NewRedisTransport(d.Store, d.GetSubscriber())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s transport: %w", cfg.Messaging.Transport, err)
	}

	if cfg.Messaging.Breaker {
		t = pubsub.NewBreakerTransport(t, pubsub.DefaultBreakerSettings())
	}
	return t, nil
}

// Start launches the background loops: metric retention, memory sampling
// and Redis sampling
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return errors.New("app: already stopped")
	}
	if a.started {
		return nil
	}

	if mc := a.Config.Data.Metrics; mc.CleanupInterval > 0 {
		if err := a.Metrics.StartRetention(ctx, mc.CleanupInterval, mc.Retention); err != nil {
			return err
		}
	}
	if a.Monitor != nil {
		a.Monitor.Start(ctx)
	}
	if a.Redis != nil {
		a.Redis.Start(ctx)
	}

	a.started = true
	logger.Infof(ctx, "%s started, transport %s", a.Config.AppName, a.Relay.Transport().Name())
	return nil
}

// Stop stops the background loops, closes the relay and releases every
// resource New acquired. It is safe to call more than once.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil
	}
	a.stopped = true

	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	if a.Redis != nil {
		a.Redis.Stop()
	}
	a.Metrics.Stop()

	err := a.Relay.Close()
	if err != nil {
		logger.Errorf(ctx, "failed to close relay: %v", err)
	}

	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
	return err
}

// Health reports backend health
func (a *App) Health(ctx context.Context) map[string]any {
	return a.Data.Health(ctx)
}

// Stats combines data layer counters with cache hit rates
func (a *App) Stats() map[string]any {
	stats := a.Data.GetStats()
	stats["cache"] = a.Cache.Stats()
	if a.Monitor != nil {
		stats["memory_snapshots"] = len(a.Monitor.Snapshots())
		stats["memory_sampling"] = a.Monitor.IsEnabled()
	}
	if a.Redis != nil {
		stats["redis_sampling"] = a.Redis.IsEnabled()
		if last := a.Redis.Last(); last != nil {
			stats["redis_alerts"] = len(last.Alerts)
		}
	}
	return stats
}
