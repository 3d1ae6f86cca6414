package metrics

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HealthMonitor monitors data layer component health
type HealthMonitor struct {
	collector  Collector
	components map[string]HealthChecker
	timeout    time.Duration
	mu         sync.RWMutex
}

// HealthChecker interface for health checking
type HealthChecker interface {
	Check(ctx context.Context) error
	Name() string
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) error
}

func (f HealthCheckFunc) Check(ctx context.Context) error { return f.Fn(ctx) }
func (f HealthCheckFunc) Name() string                    { return f.ComponentName }

// HealthResult is the outcome of one component check.
type HealthResult struct {
	Name       string `json:"name"`
	Healthy    bool   `json:"healthy"`
	ResponseMs int64  `json:"response_ms"`
	Error      string `json:"error,omitempty"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(collector Collector) *HealthMonitor {
	if collector == nil {
		collector = NoOpCollector{}
	}
	return &HealthMonitor{
		collector:  collector,
		components: make(map[string]HealthChecker),
		timeout:    3 * time.Second,
	}
}

// RegisterComponent registers a component for health monitoring
func (h *HealthMonitor) RegisterComponent(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[checker.Name()] = checker
}

// CheckAll performs health check on all registered components, ordered by name.
func (h *HealthMonitor) CheckAll(ctx context.Context) []HealthResult {
	h.mu.RLock()
	checkers := make([]HealthChecker, 0, len(h.components))
	for _, checker := range h.components {
		checkers = append(checkers, checker)
	}
	h.mu.RUnlock()

	sort.Slice(checkers, func(i, j int) bool { return checkers[i].Name() < checkers[j].Name() })

	results := make([]HealthResult, 0, len(checkers))
	for _, checker := range checkers {
		results = append(results, h.checkComponent(ctx, checker))
	}
	return results
}

// checkComponent performs the actual health check
func (h *HealthMonitor) checkComponent(ctx context.Context, checker HealthChecker) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := checker.Check(checkCtx)
	result := HealthResult{
		Name:       checker.Name(),
		Healthy:    err == nil,
		ResponseMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	h.collector.HealthCheck(result.Name, result.Healthy)
	return result
}
