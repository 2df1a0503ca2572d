package app

import (
	"sync"
	"time"

	"attestd/go-agent/pkg/models"
)

type opMetric struct {
	Count   int
	Errors  int
	TotalNs int64
	MaxNs   int64
	LastNs  int64
}

// opMetricsState tracks per-operation counters and latencies for the
// metrics_get surface. Prometheus covers scraping; this covers local
// diagnostics over RPC.
type opMetricsState struct {
	mu            sync.RWMutex
	opMetrics     map[string]*opMetric
	lastUpdatedAt time.Time
}

func newOpMetricsState() *opMetricsState {
	return &opMetricsState{opMetrics: map[string]*opMetric{}}
}

func (m *opMetricsState) RecordOp(operation string, started time.Time) {
	latency := time.Since(started).Nanoseconds()
	m.mu.Lock()
	defer m.mu.Unlock()
	metric, ok := m.opMetrics[operation]
	if !ok {
		metric = &opMetric{}
		m.opMetrics[operation] = metric
	}
	metric.Count++
	metric.TotalNs += latency
	metric.LastNs = latency
	if latency > metric.MaxNs {
		metric.MaxNs = latency
	}
	m.lastUpdatedAt = time.Now().UTC()
}

func (m *opMetricsState) RecordOpError(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric, ok := m.opMetrics[operation]
	if !ok {
		metric = &opMetric{}
		m.opMetrics[operation] = metric
	}
	metric.Errors++
	m.lastUpdatedAt = time.Now().UTC()
}

func (m *opMetricsState) Snapshot() (map[string]models.OperationMetric, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opStats := make(map[string]models.OperationMetric, len(m.opMetrics))
	for name, metric := range m.opMetrics {
		avg := int64(0)
		if metric.Count > 0 {
			avg = metric.TotalNs / int64(metric.Count) / int64(time.Millisecond)
		}
		opStats[name] = models.OperationMetric{
			Count:         metric.Count,
			Errors:        metric.Errors,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  metric.MaxNs / int64(time.Millisecond),
			LastLatencyMs: metric.LastNs / int64(time.Millisecond),
		}
	}
	return opStats, m.lastUpdatedAt
}
