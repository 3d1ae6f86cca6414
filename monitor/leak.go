// Package monitor samples process memory and Redis server health, flags
// sustained heap growth and raises threshold alerts.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ncobase/relay/logging/logger"
	"github.com/ncobase/relay/metrics"
	"github.com/sirupsen/logrus"
)

// Metric names recorded on every sample
const (
	MetricHeapUsed           = "memory_heap_used_bytes"
	MetricRetained           = "memory_retained_bytes"
	MetricHeapGrowthRate     = "memory_heap_growth_rate"
	MetricRetainedGrowthRate = "memory_retained_growth_rate"
	MetricLeakSuspected      = "memory_leak_suspected"
	MetricLeakRate           = "memory_leak_rate_mb_per_hour"
)

// Config contains configuration for the leak detector
type Config struct {
	Interval     time.Duration `json:"interval"`      // Sampling interval
	MaxSnapshots int           `json:"max_snapshots"` // Ring buffer length
	Source       string        `json:"source"`        // Value of the source label
	MemoryLimit  uint64        `json:"memory_limit"`  // Bytes available to the heap, 0 if unknown
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("sampling interval must be positive, got %v", c.Interval)
	}
	if c.MaxSnapshots < 2 {
		return fmt.Errorf("max snapshots must be at least 2, got %d", c.MaxSnapshots)
	}
	return nil
}

// DefaultConfig returns one hour of history at five minute sampling
func DefaultConfig() *Config {
	return &Config{
		Interval:     5 * time.Minute,
		MaxSnapshots: 12,
		Source:       "relay",
	}
}

// Snapshot is one memory sample
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	HeapUsed  uint64    `json:"heap_used"`
	Retained  uint64    `json:"retained"`
}

// Report is the outcome of one sample
type Report struct {
	Snapshot
	HeapGrowthRate     float64 `json:"heap_growth_rate"`     // percent vs previous snapshot
	RetainedGrowthRate float64 `json:"retained_growth_rate"` // percent vs previous snapshot
	LeakSuspected      bool    `json:"leak_suspected"`
	Window             int     `json:"window"`
	// LeakRateMBPerHour is the heap growth between the first and last
	// snapshot of the window, in MiB per hour. Negative when shrinking.
	LeakRateMBPerHour float64 `json:"leak_rate_mb_per_hour"`
	// TimeToExhaustion projects when the heap reaches MemoryLimit at the
	// current leak rate. Zero when there is no limit or no growth.
	TimeToExhaustion time.Duration `json:"time_to_exhaustion"`
}

// Sampler reads the current heap usage and retained size in bytes
type Sampler func() (heapUsed, retained uint64)

// ReadMemStats samples the Go runtime: live heap objects and heap spans in use.
func ReadMemStats() (heapUsed, retained uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc, ms.HeapInuse
}

// Recorder stores metric records
type Recorder interface {
	StoreBatch(ctx context.Context, records []metrics.Record) error
}

// Option configures a Detector
type Option func(*Detector)

// WithSampler replaces the runtime sampler
func WithSampler(s Sampler) Option {
	return func(d *Detector) {
		if s != nil {
			d.sampler = s
		}
	}
}

// WithClock sets the time source for snapshots
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// Detector keeps a bounded window of memory snapshots
type Detector struct {
	config   *Config
	recorder Recorder
	sampler  Sampler
	now      func() time.Time

	snapshots []Snapshot
	mu        sync.Mutex

	loop loop
}

// New creates a detector. A nil recorder keeps the analysis but records nothing.
func New(recorder Recorder, config *Config, opts ...Option) (*Detector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Detector{
		config:    config,
		recorder:  recorder,
		sampler:   ReadMemStats,
		now:       time.Now,
		snapshots: make([]Snapshot, 0, config.MaxSnapshots),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Sample takes a snapshot, updates the window and records the gauges.
// The report is returned even when recording fails.
func (d *Detector) Sample(ctx context.Context) (*Report, error) {
	heap, retained := d.sampler()
	snap := Snapshot{Timestamp: d.now(), HeapUsed: heap, Retained: retained}

	d.mu.Lock()
	var prev *Snapshot
	if n := len(d.snapshots); n > 0 {
		p := d.snapshots[n-1]
		prev = &p
	}
	if len(d.snapshots) == d.config.MaxSnapshots {
		copy(d.snapshots, d.snapshots[1:])
		d.snapshots = d.snapshots[:len(d.snapshots)-1]
	}
	d.snapshots = append(d.snapshots, snap)
	report := &Report{
		Snapshot:      snap,
		LeakSuspected: monotonic(d.snapshots),
		Window:        len(d.snapshots),
	}
	report.LeakRateMBPerHour = leakRate(d.snapshots[0], snap)
	d.mu.Unlock()
	report.TimeToExhaustion = exhaustion(heap, d.config.MemoryLimit, report.LeakRateMBPerHour)

	if prev != nil {
		report.HeapGrowthRate = growthRate(prev.HeapUsed, heap)
		report.RetainedGrowthRate = growthRate(prev.Retained, retained)
	}

	if report.LeakSuspected {
		logger.Component(ctx, "monitor").WithFields(logrus.Fields{
			"window":      report.Window,
			"heap_used":   heap,
			"growth_rate": report.HeapGrowthRate,
			"leak_rate":   report.LeakRateMBPerHour,
			"exhaustion":  report.TimeToExhaustion.String(),
			"source":      d.config.Source,
		}).Warn("heap grew across every snapshot in the window")
	}

	if d.recorder == nil {
		return report, nil
	}
	if err := d.recorder.StoreBatch(ctx, d.records(report)); err != nil {
		return report, fmt.Errorf("monitor: record snapshot: %w", err)
	}
	return report, nil
}

func (d *Detector) records(r *Report) []metrics.Record {
	labels := []metrics.Label{{Name: "source", Value: d.config.Source}}
	leak := 0.0
	if r.LeakSuspected {
		leak = 1
	}

	gauge := func(name string, v float64, unit string) metrics.Record {
		return metrics.Record{
			Name:      name,
			Type:      metrics.Gauge,
			Value:     v,
			Unit:      unit,
			Labels:    labels,
			Timestamp: r.Timestamp,
		}
	}
	return []metrics.Record{
		gauge(MetricHeapUsed, float64(r.HeapUsed), "bytes"),
		gauge(MetricRetained, float64(r.Retained), "bytes"),
		gauge(MetricHeapGrowthRate, r.HeapGrowthRate, "percent"),
		gauge(MetricRetainedGrowthRate, r.RetainedGrowthRate, "percent"),
		gauge(MetricLeakSuspected, leak, ""),
		gauge(MetricLeakRate, r.LeakRateMBPerHour, "MB/h"),
	}
}

const mib = 1024 * 1024

// leakRate is the heap change from first to last in MiB per hour
func leakRate(first, last Snapshot) float64 {
	elapsed := last.Timestamp.Sub(first.Timestamp).Hours()
	if elapsed <= 0 {
		return 0
	}
	return (float64(last.HeapUsed) - float64(first.HeapUsed)) / mib / elapsed
}

// exhaustion projects how long until heap reaches limit at rate MiB/hour
func exhaustion(heap, limit uint64, rate float64) time.Duration {
	if limit == 0 || rate <= 0 || heap >= limit {
		return 0
	}
	hours := float64(limit-heap) / mib / rate
	return time.Duration(hours * float64(time.Hour))
}

// growthRate is the percent change from prev to cur, 0 when prev is 0.
func growthRate(prev, cur uint64) float64 {
	if prev == 0 {
		return 0
	}
	return (float64(cur) - float64(prev)) / float64(prev) * 100
}

// monotonic reports whether heap usage strictly increased between every
// consecutive pair of snapshots.
func monotonic(s []Snapshot) bool {
	if len(s) < 2 {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i].HeapUsed <= s[i-1].HeapUsed {
			return false
		}
	}
	return true
}

// Snapshots returns a copy of the window, oldest first
func (d *Detector) Snapshots() []Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Snapshot(nil), d.snapshots...)
}

// Start samples every interval until ctx is done or Stop is called
func (d *Detector) Start(ctx context.Context) {
	d.loop.start(ctx, d.config.Interval, func(ctx context.Context) {
		if _, err := d.Sample(ctx); err != nil {
			logger.Errorf(ctx, "monitor: sample failed: %v", err)
		}
	})
}

// Stop stops sampling and waits for the loop to exit
func (d *Detector) Stop() {
	d.loop.stop()
}

// IsEnabled returns if sampling is running
func (d *Detector) IsEnabled() bool {
	return d.loop.running()
}
