// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds    float64                       `json:"uptimeSeconds"`
	Operations       map[string]*OperationSnapshot `json:"operations"`
	Retries          map[string]int64              `json:"retries"`
	Timeouts         map[string]int64              `json:"timeouts"`
	Degradations     map[string]int64              `json:"degradations"`
	BreakerStates    map[string]string             `json:"breakerStates"`
	ScoringAnomalies int64                         `json:"scoringAnomalies"`
}

// Operation names for the collector.
const (
	OpRelationalFetch = "relational_fetch"
	OpVectorSearch    = "vector_search"
	OpGraphTraverse   = "graph_traverse"
	OpGraphStructure  = "graph_structure"
	OpLookup          = "lookup"
)

// Operations lists every timed operation in export order.
var Operations = []string{
	OpRelationalFetch,
	OpVectorSearch,
	OpGraphTraverse,
	OpGraphStructure,
	OpLookup,
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu           sync.RWMutex
	startTime    time.Time
	ops          map[string]*OperationMetrics
	retries      map[string]int64
	timeouts     map[string]int64
	degradations map[string]int64
	breakers     map[string]string
	anomalies    int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime:    time.Now(),
		ops:          make(map[string]*OperationMetrics),
		retries:      make(map[string]int64),
		timeouts:     make(map[string]int64),
		degradations: make(map[string]int64),
		breakers:     make(map[string]string),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.record(op, duration, false)
}

// RecordResult records timing for an operation and counts it as an error
// when err is non-nil.
func (c *Collector) RecordResult(op string, duration time.Duration, err error) {
	c.record(op, duration, err != nil)
}

func (c *Collector) record(op string, duration time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration
	if failed {
		m.Errors++
	}

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// IncRetry counts a retried store call.
func (c *Collector) IncRetry(store string) {
	c.mu.Lock()
	c.retries[store]++
	c.mu.Unlock()
}

// IncTimeout counts a timed-out store call attempt.
func (c *Collector) IncTimeout(store string) {
	c.mu.Lock()
	c.timeouts[store]++
	c.mu.Unlock()
}

// IncDegradation counts a lookup stage that fell back to a degraded result.
func (c *Collector) IncDegradation(stage string) {
	c.mu.Lock()
	c.degradations[stage]++
	c.mu.Unlock()
}

// IncScoringAnomaly counts a non-finite score replaced by the neutral score.
func (c *Collector) IncScoringAnomaly() {
	c.mu.Lock()
	c.anomalies++
	c.mu.Unlock()
}

// SetBreakerState records the current circuit breaker state of a store.
func (c *Collector) SetBreakerState(store, state string) {
	c.mu.Lock()
	c.breakers[store] = state
	c.mu.Unlock()
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	return &OperationSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops := make(map[string]*OperationSnapshot, len(c.ops))
	for name, m := range c.ops {
		if snap := snapshotOp(m); snap != nil {
			ops[name] = snap
		}
	}

	return Snapshot{
		UptimeSeconds:    time.Since(c.startTime).Seconds(),
		Operations:       ops,
		Retries:          copyCounts(c.retries),
		Timeouts:         copyCounts(c.timeouts),
		Degradations:     copyCounts(c.degradations),
		BreakerStates:    copyStates(c.breakers),
		ScoringAnomalies: c.anomalies,
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyStates(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// sortedKeys returns map keys in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
