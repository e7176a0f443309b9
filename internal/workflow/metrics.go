package workflow

import (
	"sync"
	"time"
)

// Metrics aggregates analysis outcomes across workflows.
type Metrics struct {
	mu              sync.Mutex
	total           int64
	succeededCount  int64
	failedCount     int64
	discardedCount  int64
	totalProcessing time.Duration
}

// MetricsSummary represents aggregated analysis insights.
type MetricsSummary struct {
	TotalRequests              int64   `json:"total_requests"`
	SuccessfulRequests         int64   `json:"successful_requests"`
	FailedRequests             int64   `json:"failed_requests"`
	DiscardedResults           int64   `json:"discarded_results"`
	SuccessRate                float64 `json:"success_rate"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

func (m *Metrics) started() {
	m.mu.Lock()
	m.total++
	m.mu.Unlock()
}

func (m *Metrics) succeeded(elapsed time.Duration) {
	m.mu.Lock()
	m.succeededCount++
	m.totalProcessing += elapsed
	m.mu.Unlock()
}

func (m *Metrics) failed() {
	m.mu.Lock()
	m.failedCount++
	m.mu.Unlock()
}

func (m *Metrics) discarded() {
	m.mu.Lock()
	m.discardedCount++
	m.mu.Unlock()
}

// Summary returns a point-in-time view of the counters.
func (m *Metrics) Summary() MetricsSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := MetricsSummary{
		TotalRequests:      m.total,
		SuccessfulRequests: m.succeededCount,
		FailedRequests:     m.failedCount,
		DiscardedResults:   m.discardedCount,
	}
	if m.total > 0 {
		summary.SuccessRate = float64(m.succeededCount) / float64(m.total)
	}
	if m.succeededCount > 0 {
		summary.AverageProcessingLatencyMs = float64(m.totalProcessing.Milliseconds()) / float64(m.succeededCount)
	}
	return summary
}
