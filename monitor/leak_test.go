package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ncobase/relay/data/store"
	"github.com/ncobase/relay/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequence returns a sampler replaying heap values; retained is heap/2.
func sequence(values ...uint64) Sampler {
	var mu sync.Mutex
	i := 0
	return func() (uint64, uint64) {
		mu.Lock()
		defer mu.Unlock()
		v := values[i%len(values)]
		i++
		return v, v / 2
	}
}

type recorderFunc func(ctx context.Context, records []metrics.Record) error

func (f recorderFunc) StoreBatch(ctx context.Context, records []metrics.Record) error {
	return f(ctx, records)
}

func newDetector(t *testing.T, max int, s Sampler) *Detector {
	t.Helper()
	d, err := New(nil, &Config{Interval: time.Minute, MaxSnapshots: max, Source: "test"}, WithSampler(s))
	require.NoError(t, err)
	return d
}

func TestInvalidConfig(t *testing.T) {
	testCases := []struct {
		name   string
		config *Config
	}{
		{name: "zero interval", config: &Config{Interval: 0, MaxSnapshots: 12}},
		{name: "negative interval", config: &Config{Interval: -time.Second, MaxSnapshots: 12}},
		{name: "single snapshot", config: &Config{Interval: time.Second, MaxSnapshots: 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(nil, tc.config)
			if err == nil {
				t.Error("expected error for invalid config")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	d, err := New(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d.config.Interval)
	assert.Equal(t, 12, d.config.MaxSnapshots)

	r, err := d.Sample(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, r.HeapUsed)
	assert.NotZero(t, r.Retained)
}

func TestGrowthRates(t *testing.T) {
	d := newDetector(t, 12, sequence(100, 150, 120))
	ctx := context.Background()

	r, err := d.Sample(ctx)
	require.NoError(t, err)
	assert.Zero(t, r.HeapGrowthRate)
	assert.Zero(t, r.RetainedGrowthRate)
	assert.False(t, r.LeakSuspected)

	r, _ = d.Sample(ctx)
	assert.InDelta(t, 50.0, r.HeapGrowthRate, 1e-9)
	assert.InDelta(t, 50.0, r.RetainedGrowthRate, 1e-9)
	assert.True(t, r.LeakSuspected)

	r, _ = d.Sample(ctx)
	assert.InDelta(t, -20.0, r.HeapGrowthRate, 1e-9)
	assert.False(t, r.LeakSuspected)
}

func TestGrowthRateFromZero(t *testing.T) {
	d := newDetector(t, 4, sequence(0, 10))
	_, _ = d.Sample(context.Background())
	r, _ := d.Sample(context.Background())
	assert.Zero(t, r.HeapGrowthRate)
}

func TestLeakPatternRequiresEveryStepToIncrease(t *testing.T) {
	d := newDetector(t, 3, sequence(10, 20, 20, 30, 40, 50))
	ctx := context.Background()

	var flags []bool
	for range 6 {
		r, err := d.Sample(ctx)
		require.NoError(t, err)
		flags = append(flags, r.LeakSuspected)
	}

	// windows: [10] [10 20] [10 20 20] [20 20 30] [20 30 40] [30 40 50]
	assert.Equal(t, []bool{false, true, false, false, true, true}, flags)
}

func TestRingEvictsOldest(t *testing.T) {
	d := newDetector(t, 3, sequence(1, 2, 3, 4, 5))
	for range 5 {
		_, _ = d.Sample(context.Background())
	}

	snaps := d.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, uint64(3), snaps[0].HeapUsed)
	assert.Equal(t, uint64(5), snaps[2].HeapUsed)

	snaps[0].HeapUsed = 99
	assert.Equal(t, uint64(3), d.Snapshots()[0].HeapUsed)
}

func TestLeakRateAndExhaustion(t *testing.T) {
	const mb = 1024 * 1024
	t0 := time.UnixMilli(1_700_000_000_000)
	now := t0
	d, err := New(nil, &Config{Interval: time.Minute, MaxSnapshots: 3, MemoryLimit: 200 * mb},
		WithSampler(sequence(100*mb, 110*mb, 120*mb, 130*mb)),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	r, err := d.Sample(ctx)
	require.NoError(t, err)
	assert.Zero(t, r.LeakRateMBPerHour)
	assert.Zero(t, r.TimeToExhaustion)

	now = now.Add(30 * time.Minute)
	r, _ = d.Sample(ctx)
	assert.InDelta(t, 20.0, r.LeakRateMBPerHour, 1e-9)
	// 90 MiB left at 20 MiB/h
	assert.Equal(t, 4*time.Hour+30*time.Minute, r.TimeToExhaustion)

	now = now.Add(30 * time.Minute)
	_, _ = d.Sample(ctx)
	now = now.Add(time.Hour)
	r, _ = d.Sample(ctx)
	// window is [110 120 130] over 1.5h
	assert.InDelta(t, 20.0/1.5, r.LeakRateMBPerHour, 1e-9)
}

func TestLeakRateWithoutLimitOrGrowth(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	d, err := New(nil, &Config{Interval: time.Minute, MaxSnapshots: 4},
		WithSampler(sequence(50<<20, 40<<20)),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, _ = d.Sample(context.Background())
	now = now.Add(time.Hour)
	r, _ := d.Sample(context.Background())
	assert.InDelta(t, -10.0, r.LeakRateMBPerHour, 1e-9)
	assert.Zero(t, r.TimeToExhaustion)
}

func TestSampleRecordsGauges(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	t0 := time.UnixMilli(1_700_000_000_000)
	now := t0
	ms := metrics.New(store.NewRedis(rc, nil), metrics.WithClock(func() time.Time { return now }))

	d, err := New(ms, &Config{Interval: time.Minute, MaxSnapshots: 12, Source: "api"},
		WithSampler(sequence(1000, 1100)),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = d.Sample(ctx)
	require.NoError(t, err)
	now = now.Add(5 * time.Minute)
	_, err = d.Sample(ctx)
	require.NoError(t, err)

	heap, err := ms.Retrieve(ctx, metrics.Query{Name: MetricHeapUsed, Type: metrics.Gauge})
	require.NoError(t, err)
	require.Len(t, heap, 2)
	assert.Equal(t, 1000.0, heap[0].Value)
	assert.Equal(t, 1100.0, heap[1].Value)
	assert.Equal(t, "bytes", heap[1].Unit)
	src, _ := heap[1].Label("source")
	assert.Equal(t, "api", src)

	growth, err := ms.Retrieve(ctx, metrics.Query{Name: MetricHeapGrowthRate, Type: metrics.Gauge, Start: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, growth, 1)
	assert.InDelta(t, 10.0, growth[0].Value, 1e-9)

	leak, err := ms.Retrieve(ctx, metrics.Query{Name: MetricLeakSuspected, Type: metrics.Gauge, Labels: map[string]string{"source": "api"}})
	require.NoError(t, err)
	require.Len(t, leak, 2)
	assert.Equal(t, 0.0, leak[0].Value)
	assert.Equal(t, 1.0, leak[1].Value)

	retained, err := ms.Retrieve(ctx, metrics.Query{Name: MetricRetained, Type: metrics.Gauge})
	require.NoError(t, err)
	assert.Len(t, retained, 2)

	rate, err := ms.Retrieve(ctx, metrics.Query{Name: MetricLeakRate, Type: metrics.Gauge})
	require.NoError(t, err)
	require.Len(t, rate, 2)
	assert.InDelta(t, 100.0/(1024*1024)*12, rate[1].Value, 1e-9)
	assert.Equal(t, "MB/h", rate[1].Unit)
}

func TestSampleReturnsReportWhenRecordingFails(t *testing.T) {
	boom := errors.New("store down")
	rec := recorderFunc(func(context.Context, []metrics.Record) error { return boom })

	d, err := New(rec, &Config{Interval: time.Minute, MaxSnapshots: 12}, WithSampler(sequence(5)))
	require.NoError(t, err)

	r, err := d.Sample(context.Background())
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, r)
	assert.Equal(t, uint64(5), r.HeapUsed)
	assert.Len(t, d.Snapshots(), 1)
}

func TestStartStop(t *testing.T) {
	var mu sync.Mutex
	var batches int
	rec := recorderFunc(func(_ context.Context, records []metrics.Record) error {
		mu.Lock()
		defer mu.Unlock()
		batches++
		assert.Len(t, records, 6)
		return nil
	})

	d, err := New(rec, &Config{Interval: 10 * time.Millisecond, MaxSnapshots: 4}, WithSampler(sequence(1, 2)))
	require.NoError(t, err)

	if d.IsEnabled() {
		t.Error("detector should not be enabled before Start()")
	}
	d.Start(context.Background())
	assert.True(t, d.IsEnabled())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return batches >= 3
	}, 2*time.Second, 5*time.Millisecond)

	d.Stop()
	assert.False(t, d.IsEnabled())

	mu.Lock()
	after := batches
	mu.Unlock()
	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, batches)
	mu.Unlock()

	d.Stop()
}
