package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ncobase/relay/data/store"
	"github.com/ncobase/relay/logging/logger"
	"github.com/ncobase/relay/metrics"
	"github.com/sirupsen/logrus"
)

// Gauges recorded from the Redis INFO output
const (
	MetricRedisUsedMemory       = "redis_used_memory_bytes"
	MetricRedisPeakMemory       = "redis_peak_memory_bytes"
	MetricRedisFragmentation    = "redis_mem_fragmentation_ratio"
	MetricRedisConnectedClients = "redis_connected_clients"
	MetricRedisBlockedClients   = "redis_blocked_clients"
	MetricRedisOpsPerSec        = "redis_ops_per_sec"
)

// redisFields maps INFO fields onto gauges
var redisFields = []struct {
	field, metric, unit string
}{
	{"used_memory", MetricRedisUsedMemory, "bytes"},
	{"used_memory_peak", MetricRedisPeakMemory, "bytes"},
	{"mem_fragmentation_ratio", MetricRedisFragmentation, "ratio"},
	{"connected_clients", MetricRedisConnectedClients, "clients"},
	{"blocked_clients", MetricRedisBlockedClients, "clients"},
	{"instantaneous_ops_per_sec", MetricRedisOpsPerSec, "ops/s"},
}

// Alert levels
const (
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Threshold raises an alert when a gauge reaches Warning or Critical.
// A zero bound is not checked.
type Threshold struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// Alert is one threshold crossing
type Alert struct {
	Metric    string    `json:"metric"`
	Level     string    `json:"level"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisConfig contains configuration for the Redis monitor
type RedisConfig struct {
	Interval   time.Duration        `json:"interval"`
	Source     string               `json:"source"`
	Thresholds map[string]Threshold `json:"thresholds"` // keyed by gauge name
}

// DefaultRedisThresholds alert on fragmentation and client pressure
func DefaultRedisThresholds() map[string]Threshold {
	return map[string]Threshold{
		MetricRedisFragmentation:    {Warning: 1.5, Critical: 3},
		MetricRedisConnectedClients: {Warning: 8000, Critical: 10000},
		MetricRedisBlockedClients:   {Warning: 10, Critical: 50},
	}
}

// DefaultRedisConfig samples once a minute
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Interval:   time.Minute,
		Source:     "relay",
		Thresholds: DefaultRedisThresholds(),
	}
}

// InfoSource returns raw INFO text. An empty section asks for the default set.
type InfoSource interface {
	Info(ctx context.Context, section string) (string, error)
}

// RedisSample is one parsed INFO reading. Values holds only the gauges the
// server reported.
type RedisSample struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
	Alerts    []Alert            `json:"alerts,omitempty"`
}

// RedisOption configures a RedisMonitor
type RedisOption func(*RedisMonitor)

// WithAlertHandler is called for every alert raised by Sample
func WithAlertHandler(fn func(context.Context, Alert)) RedisOption {
	return func(m *RedisMonitor) {
		m.onAlert = fn
	}
}

// WithRedisClock sets the time source for samples
func WithRedisClock(now func() time.Time) RedisOption {
	return func(m *RedisMonitor) {
		if now != nil {
			m.now = now
		}
	}
}

// RedisMonitor samples Redis server health into gauges and raises
// threshold alerts.
type RedisMonitor struct {
	config   *RedisConfig
	source   InfoSource
	recorder Recorder
	onAlert  func(context.Context, Alert)
	now      func() time.Time

	last *RedisSample
	mu   sync.RWMutex

	loop loop
}

// NewRedis creates a Redis monitor reading from source. A nil recorder
// keeps the alerts but records nothing.
func NewRedis(source InfoSource, recorder Recorder, config *RedisConfig, opts ...RedisOption) (*RedisMonitor, error) {
	if source == nil {
		return nil, errors.New("monitor: redis info source is nil")
	}
	if config == nil {
		config = DefaultRedisConfig()
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("invalid config: sampling interval must be positive, got %v", config.Interval)
	}
	for name, th := range config.Thresholds {
		if th.Warning > 0 && th.Critical > 0 && th.Critical < th.Warning {
			return nil, fmt.Errorf("invalid config: %s critical %v is below warning %v", name, th.Critical, th.Warning)
		}
	}

	m := &RedisMonitor{
		config:   config,
		source:   source,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Sample reads INFO, checks thresholds and records the gauges. The sample
// is returned even when recording fails.
func (m *RedisMonitor) Sample(ctx context.Context) (*RedisSample, error) {
	info, err := m.source.Info(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("monitor: redis info: %w", err)
	}

	sample := &RedisSample{Timestamp: m.now(), Values: parseRedisInfo(info)}
	sample.Alerts = m.check(sample)

	m.mu.Lock()
	m.last = sample
	m.mu.Unlock()

	for _, a := range sample.Alerts {
		entry := logger.Component(ctx, "redis_monitor").WithFields(logrus.Fields{
			"metric":    a.Metric,
			"value":     a.Value,
			"threshold": a.Threshold,
			"source":    m.config.Source,
		})
		if a.Level == LevelCritical {
			entry.Error("redis threshold crossed")
		} else {
			entry.Warn("redis threshold crossed")
		}
		if m.onAlert != nil {
			m.onAlert(ctx, a)
		}
	}

	if m.recorder == nil || len(sample.Values) == 0 {
		return sample, nil
	}
	if err := m.recorder.StoreBatch(ctx, m.records(sample)); err != nil {
		return sample, fmt.Errorf("monitor: record redis sample: %w", err)
	}
	return sample, nil
}

func parseRedisInfo(info string) map[string]float64 {
	values := make(map[string]float64, len(redisFields))
	for _, f := range redisFields {
		raw, ok := store.ParseInfoField(info, f.field)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		values[f.metric] = v
	}
	return values
}

// check compares each reported gauge with its threshold, critical first
func (m *RedisMonitor) check(s *RedisSample) []Alert {
	var alerts []Alert
	for _, f := range redisFields {
		v, ok := s.Values[f.metric]
		if !ok {
			continue
		}
		th, ok := m.config.Thresholds[f.metric]
		if !ok {
			continue
		}
		a := Alert{Metric: f.metric, Value: v, Timestamp: s.Timestamp}
		switch {
		case th.Critical > 0 && v >= th.Critical:
			a.Level, a.Threshold = LevelCritical, th.Critical
		case th.Warning > 0 && v >= th.Warning:
			a.Level, a.Threshold = LevelWarning, th.Warning
		default:
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts
}

func (m *RedisMonitor) records(s *RedisSample) []metrics.Record {
	labels := []metrics.Label{{Name: "source", Value: m.config.Source}}
	records := make([]metrics.Record, 0, len(s.Values))
	for _, f := range redisFields {
		v, ok := s.Values[f.metric]
		if !ok {
			continue
		}
		records = append(records, metrics.Record{
			Name:      f.metric,
			Type:      metrics.Gauge,
			Value:     v,
			Unit:      f.unit,
			Labels:    labels,
			Timestamp: s.Timestamp,
		})
	}
	return records
}

// Last returns the most recent sample, nil before the first one
func (m *RedisMonitor) Last() *RedisSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Start samples every interval until ctx is done or Stop is called
func (m *RedisMonitor) Start(ctx context.Context) {
	m.loop.start(ctx, m.config.Interval, func(ctx context.Context) {
		if _, err := m.Sample(ctx); err != nil {
			logger.Errorf(ctx, "monitor: redis sample failed: %v", err)
		}
	})
}

// Stop stops sampling and waits for the loop to exit
func (m *RedisMonitor) Stop() {
	m.loop.stop()
}

// IsEnabled returns if sampling is running
func (m *RedisMonitor) IsEnabled() bool {
	return m.loop.running()
}
