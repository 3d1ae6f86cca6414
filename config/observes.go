package config

import (
	"time"

	dc "github.com/ncobase/relay/data/config"
	"github.com/spf13/viper"
)

// Sentry config struct
type Sentry struct {
	DSN         string  `json:"dsn" yaml:"dsn"`
	Environment string  `json:"environment" yaml:"environment"`
	Release     string  `json:"release" yaml:"release"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// getSentryConfig get sentry config
func getSentryConfig(v *viper.Viper) *Sentry {
	dsn := v.GetString("observes.sentry.dsn")
	if dsn == "" {
		dsn = v.GetString("observes.sentry.endpoint")
	}
	return &Sentry{
		DSN:         dsn,
		Environment: dc.GetString(v, "observes.sentry.environment", v.GetString("run_mode")),
		Release:     v.GetString("observes.sentry.release"),
		SampleRate:  dc.GetFloat64(v, "observes.sentry.sample_rate", 1.0),
	}
}

// Tracer OpenTelemetry exporter config. Tracing is off without an endpoint.
type Tracer struct {
	Endpoint           string        `json:"endpoint" yaml:"endpoint"`
	ServiceName        string        `json:"service_name" yaml:"service_name"`
	Environment        string        `json:"environment" yaml:"environment"`
	SamplingRate       float64       `json:"sampling_rate" yaml:"sampling_rate"`
	MaxExportBatchSize int           `json:"max_export_batch_size" yaml:"max_export_batch_size"`
	BatchTimeout       time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
	ExportTimeout      time.Duration `json:"export_timeout" yaml:"export_timeout"`
}

func getTracerConfig(v *viper.Viper) *Tracer {
	return &Tracer{
		Endpoint:           v.GetString("observes.tracer.endpoint"),
		ServiceName:        dc.GetString(v, "observes.tracer.service_name", dc.GetString(v, "app_name", "relay")),
		Environment:        dc.GetString(v, "observes.tracer.environment", v.GetString("run_mode")),
		SamplingRate:       dc.GetFloat64(v, "observes.tracer.sampling_rate", 1.0),
		MaxExportBatchSize: dc.GetInt(v, "observes.tracer.max_export_batch_size", 512),
		BatchTimeout:       dc.GetDuration(v, "observes.tracer.batch_timeout", 5*time.Second),
		ExportTimeout:      dc.GetDuration(v, "observes.tracer.export_timeout", 30*time.Second),
	}
}

// Observes config struct
type Observes struct {
	Sentry *Sentry
	Tracer *Tracer
}

// get Observes config
func getObservesConfig(v *viper.Viper) *Observes {
	return &Observes{
		Sentry: getSentryConfig(v),
		Tracer: getTracerConfig(v),
	}
}
