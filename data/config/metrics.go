package config

import (
	"errors"
	"time"

	"github.com/ncobase/relay/ecode"
	"github.com/spf13/viper"
)

// Metrics data metrics config
type Metrics struct {
	KeyPrefix       string        `yaml:"key_prefix" json:"key_prefix"`
	Retention       time.Duration `yaml:"retention" json:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// getMetricsConfig returns metrics config
func getMetricsConfig(v *viper.Viper) *Metrics {
	return &Metrics{
		KeyPrefix:       GetString(v, "data.metrics.key_prefix", "relay_metrics"),
		Retention:       GetDuration(v, "data.metrics.retention", 7*24*time.Hour),
		CleanupInterval: GetDuration(v, "data.metrics.cleanup_interval", time.Hour),
	}
}

// Validate validates metrics settings
func (m *Metrics) Validate() error {
	if m.KeyPrefix == "" {
		return errors.New(ecode.FieldIsRequired("data.metrics.key_prefix"))
	}
	if m.Retention <= 0 {
		return errors.New(ecode.FieldIsInvalidf("data.metrics.retention", m.Retention))
	}
	return nil
}
