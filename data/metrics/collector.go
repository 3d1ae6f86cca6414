package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector interface for data layer metrics
type Collector interface {
	RedisCommand(command string, err error)
	RedisConnections(count int)
	MQPublish(system string, err error)
	MQConsume(system string, err error)
	HealthCheck(component string, healthy bool)
}

// NoOpCollector implements Collector with no-op methods
type NoOpCollector struct{}

func (NoOpCollector) RedisCommand(string, error) {}
func (NoOpCollector) RedisConnections(int)       {}
func (NoOpCollector) MQPublish(string, error)    {}
func (NoOpCollector) MQConsume(string, error)    {}
func (NoOpCollector) HealthCheck(string, bool)   {}

// DataCollector collects data layer metrics
type DataCollector struct {
	// Redis metrics
	redisCommands    atomic.Int64
	redisErrors      atomic.Int64
	redisConnections atomic.Int32

	// Message metrics
	mqPublished     atomic.Int64
	mqPublishErrors atomic.Int64
	mqConsumed      atomic.Int64
	mqConsumeErrors atomic.Int64

	// Per command and per system breakdown
	commands   map[string]*atomic.Int64
	systems    map[string]*atomic.Int64
	breakdowns sync.RWMutex

	// Health metrics
	healthChecks map[string]*atomic.Bool
	healthMu     sync.RWMutex

	lastRedisCommand atomic.Value // time.Time
	lastMQOperation  atomic.Value // time.Time
}

// NewDataCollector creates a new data collector
func NewDataCollector() *DataCollector {
	c := &DataCollector{
		commands:     make(map[string]*atomic.Int64),
		systems:      make(map[string]*atomic.Int64),
		healthChecks: make(map[string]*atomic.Bool),
	}

	now := time.Now()
	c.lastRedisCommand.Store(now)
	c.lastMQOperation.Store(now)

	return c
}

// RedisCommand records Redis command metrics
func (c *DataCollector) RedisCommand(command string, err error) {
	c.redisCommands.Add(1)
	c.lastRedisCommand.Store(time.Now())
	if err != nil {
		c.redisErrors.Add(1)
	}
	c.counter(c.commands, command).Add(1)
}

// RedisConnections records Redis connection count
func (c *DataCollector) RedisConnections(count int) {
	c.redisConnections.Store(int32(count))
}

// MQPublish records message publish metrics
func (c *DataCollector) MQPublish(system string, err error) {
	c.mqPublished.Add(1)
	c.lastMQOperation.Store(time.Now())
	if err != nil {
		c.mqPublishErrors.Add(1)
	}
	c.counter(c.systems, "publish:"+system).Add(1)
}

// MQConsume records message consume metrics
func (c *DataCollector) MQConsume(system string, err error) {
	c.mqConsumed.Add(1)
	c.lastMQOperation.Store(time.Now())
	if err != nil {
		c.mqConsumeErrors.Add(1)
	}
	c.counter(c.systems, "consume:"+system).Add(1)
}

// HealthCheck records health check results
func (c *DataCollector) HealthCheck(component string, healthy bool) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	b, ok := c.healthChecks[component]
	if !ok {
		b = &atomic.Bool{}
		c.healthChecks[component] = b
	}
	b.Store(healthy)
}

func (c *DataCollector) counter(m map[string]*atomic.Int64, name string) *atomic.Int64 {
	c.breakdowns.RLock()
	v, ok := m[name]
	c.breakdowns.RUnlock()
	if ok {
		return v
	}

	c.breakdowns.Lock()
	defer c.breakdowns.Unlock()
	if v, ok = m[name]; !ok {
		v = &atomic.Int64{}
		m[name] = v
	}
	return v
}

// CommandCounts returns a copy of the per command counters, sorted by name.
func (c *DataCollector) CommandCounts() map[string]int64 {
	c.breakdowns.RLock()
	defer c.breakdowns.RUnlock()

	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]int64, len(names))
	for _, name := range names {
		out[name] = c.commands[name].Load()
	}
	return out
}

// GetStats returns current statistics
func (c *DataCollector) GetStats() map[string]any {
	c.healthMu.RLock()
	health := make(map[string]bool, len(c.healthChecks))
	for component, status := range c.healthChecks {
		health[component] = status.Load()
	}
	c.healthMu.RUnlock()

	c.breakdowns.RLock()
	systems := make(map[string]int64, len(c.systems))
	for name, v := range c.systems {
		systems[name] = v.Load()
	}
	c.breakdowns.RUnlock()

	return map[string]any{
		"redis": map[string]any{
			"commands":     c.redisCommands.Load(),
			"errors":       c.redisErrors.Load(),
			"connections":  c.redisConnections.Load(),
			"by_command":   c.CommandCounts(),
			"last_command": c.lastRedisCommand.Load(),
		},
		"messaging": map[string]any{
			"published":      c.mqPublished.Load(),
			"publish_errors": c.mqPublishErrors.Load(),
			"consumed":       c.mqConsumed.Load(),
			"consume_errors": c.mqConsumeErrors.Load(),
			"by_system":      systems,
			"last_operation": c.lastMQOperation.Load(),
		},
		"health": health,
	}
}
