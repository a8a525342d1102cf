package gateway

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultMetricsBufferSize is the default number of request records kept.
const DefaultMetricsBufferSize = 10000

// RequestMetrics records one forwarded request.
type RequestMetrics struct {
	ID           string        `json:"id"`
	BackendID    string        `json:"backendId"`
	RuleID       string        `json:"ruleId,omitempty"`
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"statusCode"`
	Latency      time.Duration `json:"latencyNs"`
	RequestSize  int64         `json:"requestSize"`
	ResponseSize int64         `json:"responseSize"`
	Timestamp    time.Time     `json:"timestamp"`
	Error        string        `json:"error,omitempty"`
}

// Succeeded reports whether the request reached the backend and got a
// non-5xx answer.
func (m *RequestMetrics) Succeeded() bool {
	return m.Error == "" && m.StatusCode > 0 && m.StatusCode < 500
}

// metricsBuffer is a fixed-size ring of the most recent request records.
type metricsBuffer struct {
	mu      sync.Mutex
	records []RequestMetrics
	next    int
	full    bool
}

func newMetricsBuffer(size int) *metricsBuffer {
	if size <= 0 {
		size = DefaultMetricsBufferSize
	}
	return &metricsBuffer{records: make([]RequestMetrics, size)}
}

func (b *metricsBuffer) add(m RequestMetrics) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records[b.next] = m
	b.next++
	if b.next == len(b.records) {
		b.next = 0
		b.full = true
	}
}

// snapshot returns the stored records, oldest first.
func (b *metricsBuffer) snapshot() []RequestMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		return append([]RequestMetrics(nil), b.records[:b.next]...)
	}
	out := make([]RequestMetrics, 0, len(b.records))
	out = append(out, b.records[b.next:]...)
	return append(out, b.records[:b.next]...)
}

// RequestStats summarizes the records in the buffer.
type RequestStats struct {
	Count       int           `json:"count"`
	SuccessRate float64       `json:"successRate"`
	AvgLatency  time.Duration `json:"avgLatencyNs"`
	P50Latency  time.Duration `json:"p50LatencyNs"`
	P95Latency  time.Duration `json:"p95LatencyNs"`
	P99Latency  time.Duration `json:"p99LatencyNs"`
}

func summarize(records []RequestMetrics) RequestStats {
	if len(records) == 0 {
		return RequestStats{}
	}

	latencies := make([]time.Duration, len(records))
	var total time.Duration
	succeeded := 0
	for i := range records {
		latencies[i] = records[i].Latency
		total += records[i].Latency
		if records[i].Succeeded() {
			succeeded++
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	n := len(records)
	return RequestStats{
		Count:       n,
		SuccessRate: float64(succeeded) / float64(n),
		AvgLatency:  total / time.Duration(n),
		P50Latency:  percentile(latencies, 0.50),
		P95Latency:  percentile(latencies, 0.95),
		P99Latency:  percentile(latencies, 0.99),
	}
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
