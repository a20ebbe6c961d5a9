// Package monitor periodically samples the account ledger and the event
// router for operator visibility, independent of any particular transport.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// LatencyHistogram tracks latency samples over a sliding window, with lazy
// stats recomputation so a busy hot path never pays for sorting on every
// sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, 0, size), maxSize: size, dirty: true}
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

// Stats returns min, max, avg, p50, p95, p99, recomputing only when dirty.
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
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min: sorted[0], Max: sorted[n-1], Avg: sum / float64(n),
		P50: sorted[n/2], P95: sorted[int(float64(n)*0.95)], P99: sorted[int(float64(n)*0.99)],
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

// Timer measures an operation's elapsed time and records it to a histogram.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to h on Stop.
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

// MarketSnapshot is one market's ledger state, as exposed to the operator
// API. Router counters are reported separately in RouterSnapshot.
type MarketSnapshot struct {
	Market       string  `json:"market"`
	AvailableKRW float64 `json:"available_krw"`
	ReservedKRW  float64 `json:"reserved_krw"`
	CoinBalance  float64 `json:"coin_balance"`
	RealizedPnL  float64 `json:"realized_pnl"`
}

// RouterSnapshot is a point-in-time read of the router's routing counters.
type RouterSnapshot struct {
	FastPathSuccess uint64 `json:"fast_path_success"`
	Fallback        uint64 `json:"fallback"`
	ParseFailures   uint64 `json:"parse_failures"`
	Conflicts       uint64 `json:"conflicts"`
	UnknownMarket   uint64 `json:"unknown_market"`
	Total           uint64 `json:"total"`
}

// MetricsSnapshot is a full point-in-time read exposed to operators.
type MetricsSnapshot struct {
	OrderLatency     LatencyStats     `json:"order_latency"`
	OrdersProcessed  uint64           `json:"orders_processed"`
	SignalsGenerated uint64           `json:"signals_generated"`
	ErrorsCount      uint64           `json:"errors_count"`
	Markets          []MarketSnapshot `json:"markets"`
	Router           RouterSnapshot   `json:"router"`
	GoroutineCount   int              `json:"goroutine_count"`
	HeapAlloc        uint64           `json:"heap_alloc_bytes"`
	Timestamp        time.Time        `json:"timestamp"`
}

// EngineMetrics is the operator-facing metrics surface: it owns an order
// latency histogram and counters that callers record into, and polls the
// account manager and router for ledger/routing counters on a ticker. The
// engine and strategy packages do not record into it themselves.
type EngineMetrics struct {
	OrderLatency *LatencyHistogram

	ordersProcessed  atomic.Uint64
	signalsGenerated atomic.Uint64
	errorsCount      atomic.Uint64

	mu      sync.RWMutex
	markets []MarketSnapshot
	router  RouterSnapshot
}

// NewEngineMetrics builds an EngineMetrics ready to Run.
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{OrderLatency: NewLatencyHistogram(1000)}
}

// IncrementOrders increments the processed-orders counter.
func (m *EngineMetrics) IncrementOrders() { m.ordersProcessed.Add(1) }

// IncrementSignals increments the generated-signals counter.
func (m *EngineMetrics) IncrementSignals() { m.signalsGenerated.Add(1) }

// IncrementErrors increments the error counter.
func (m *EngineMetrics) IncrementErrors() { m.errorsCount.Add(1) }

// Snapshot returns a point-in-time read for the operator API.
func (m *EngineMetrics) Snapshot() MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	markets := make([]MarketSnapshot, len(m.markets))
	copy(markets, m.markets)
	rt := m.router
	m.mu.RUnlock()

	return MetricsSnapshot{
		OrderLatency:     m.OrderLatency.Stats(),
		OrdersProcessed:  m.ordersProcessed.Load(),
		SignalsGenerated: m.signalsGenerated.Load(),
		ErrorsCount:      m.errorsCount.Load(),
		Markets:          markets,
		Router:           rt,
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        mem.HeapAlloc,
		Timestamp:        time.Now(),
	}
}
