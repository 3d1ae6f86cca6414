package config

import (
	"fmt"
	"time"

	dc "github.com/ncobase/relay/data/config"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Monitor memory leak detector config
type Monitor struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Interval     time.Duration `json:"interval" yaml:"interval" validate:"gt=0"`
	MaxSnapshots int           `json:"max_snapshots" yaml:"max_snapshots" validate:"gte=2"`
	MemoryLimit  uint64        `json:"memory_limit" yaml:"memory_limit"`
	Redis        *RedisMonitor `json:"redis" yaml:"redis" validate:"-"`
}

// RedisMonitor Redis INFO sampling config
type RedisMonitor struct {
	Enabled    bool                          `json:"enabled" yaml:"enabled"`
	Interval   time.Duration                 `json:"interval" yaml:"interval" validate:"gt=0"`
	Thresholds map[string]RedisAlertThreshold `json:"thresholds" yaml:"thresholds" validate:"-"`
}

// RedisAlertThreshold warning and critical bounds of one Redis gauge
type RedisAlertThreshold struct {
	Warning  float64 `json:"warning" yaml:"warning"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// redisThresholdDefaults are keyed by the name used under
// monitor.redis.thresholds
var redisThresholdDefaults = map[string]RedisAlertThreshold{
	"used_memory":       {},
	"fragmentation":     {Warning: 1.5, Critical: 3},
	"connected_clients": {Warning: 8000, Critical: 10000},
	"blocked_clients":   {Warning: 10, Critical: 50},
}

func getMonitorConfig(v *viper.Viper) *Monitor {
	return &Monitor{
		Enabled:      dc.GetBool(v, "monitor.enabled", true),
		Interval:     dc.GetDuration(v, "monitor.interval", 5*time.Minute),
		MaxSnapshots: dc.GetInt(v, "monitor.max_snapshots", 12),
		MemoryLimit:  dc.Lookup(v, "monitor.memory_limit", uint64(0), cast.ToUint64E),
		Redis:        getRedisMonitorConfig(v),
	}
}

func getRedisMonitorConfig(v *viper.Viper) *RedisMonitor {
	thresholds := make(map[string]RedisAlertThreshold, len(redisThresholdDefaults))
	for name, def := range redisThresholdDefaults {
		prefix := "monitor.redis.thresholds." + name
		thresholds[name] = RedisAlertThreshold{
			Warning:  dc.GetFloat64(v, prefix+".warning", def.Warning),
			Critical: dc.GetFloat64(v, prefix+".critical", def.Critical),
		}
	}
	return &RedisMonitor{
		Enabled:    dc.GetBool(v, "monitor.redis.enabled", false),
		Interval:   dc.GetDuration(v, "monitor.redis.interval", time.Minute),
		Thresholds: thresholds,
	}
}

// Validate validates monitor settings
func (m *Monitor) Validate() error {
	if m.Enabled {
		if err := validateStruct("monitor", m); err != nil {
			return err
		}
	}
	if m.Redis != nil {
		return m.Redis.Validate()
	}
	return nil
}

// Validate validates Redis monitor settings
func (r *RedisMonitor) Validate() error {
	if !r.Enabled {
		return nil
	}
	if err := validateStruct("monitor.redis", r); err != nil {
		return err
	}
	for name, th := range r.Thresholds {
		if th.Warning > 0 && th.Critical > 0 && th.Critical < th.Warning {
			return fmt.Errorf("monitor.redis.thresholds.%s.critical must be greater than or equal to warning", name)
		}
	}
	return nil
}
