package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks the monitor's own tick-loop performance, trimmed
// from the teacher's SystemMetrics to the counters the position monitor
// actually produces (tick/exit latency, positions processed, exits,
// errors) after dropping the gateway-pool/risk/balance multi-user stats
// that had no counterpart left in this domain.
type SystemMetrics struct {
	mu sync.RWMutex

	TickLatency *LatencyHistogram
	ExitLatency *LatencyHistogram

	positionsProcessed uint64
	exitsExecuted      uint64
	signalsEvaluated   uint64
	errorsCount        uint64

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with a sliding window and lazy
// stats computation, unchanged from the teacher's implementation.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		TickLatency: NewLatencyHistogram(1000),
		ExitLatency: NewLatencyHistogram(1000),
		lastUpdate:  time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99, using lazy computation.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementPositionsProcessed counts one completed per-position tick.
func (m *SystemMetrics) IncrementPositionsProcessed() {
	atomic.AddUint64(&m.positionsProcessed, 1)
}

// IncrementExits counts one executed close.
func (m *SystemMetrics) IncrementExits() {
	atomic.AddUint64(&m.exitsExecuted, 1)
}

// IncrementSignalsEvaluated counts one LLM exit-signal evaluation.
func (m *SystemMetrics) IncrementSignalsEvaluated() {
	atomic.AddUint64(&m.signalsEvaluated, 1)
}

// IncrementErrors counts one tick-loop error.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// MetricsSnapshot is a point-in-time view of SystemMetrics, served by the
// ops API's /metrics endpoint.
type MetricsSnapshot struct {
	TickLatency        LatencyStats `json:"tick_latency"`
	ExitLatency        LatencyStats `json:"exit_latency"`
	PositionsProcessed uint64       `json:"positions_processed"`
	ExitsExecuted      uint64       `json:"exits_executed"`
	SignalsEvaluated   uint64       `json:"signals_evaluated"`
	ErrorsCount        uint64       `json:"errors_count"`
	GoroutineCount     int          `json:"goroutine_count"`
	HeapAlloc          uint64       `json:"heap_alloc_bytes"`
	HeapSys            uint64       `json:"heap_sys_bytes"`
	Timestamp          time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		TickLatency:        m.TickLatency.Stats(),
		ExitLatency:        m.ExitLatency.Stats(),
		PositionsProcessed: atomic.LoadUint64(&m.positionsProcessed),
		ExitsExecuted:      atomic.LoadUint64(&m.exitsExecuted),
		SignalsEvaluated:   atomic.LoadUint64(&m.signalsEvaluated),
		ErrorsCount:        atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:     runtime.NumGoroutine(),
		HeapAlloc:          memStats.HeapAlloc,
		HeapSys:            memStats.HeapSys,
		Timestamp:          time.Now(),
	}
}

// Timer measures an operation's duration and records it into a histogram.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to the histogram and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
