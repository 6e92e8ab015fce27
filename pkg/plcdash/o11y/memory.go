package o11y

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryMetrics is an in-process MetricsProvider that keeps the current value
// of every instrument. It ignores labels. Useful for tests and for the
// "plcdash run --stats" summary.
type MemoryMetrics struct {
	counters   sync.Map // map[string]*memoryCounter
	histograms sync.Map // map[string]*memoryHistogram
	gauges     sync.Map // map[string]*memoryGauge
}

func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{}
}

func (m *MemoryMetrics) Counter(name string) Counter {
	c, _ := m.counters.LoadOrStore(name, &memoryCounter{})
	return c.(*memoryCounter)
}

func (m *MemoryMetrics) Histogram(name string) Histogram {
	h, _ := m.histograms.LoadOrStore(name, &memoryHistogram{})
	return h.(*memoryHistogram)
}

func (m *MemoryMetrics) Gauge(name string) Gauge {
	g, _ := m.gauges.LoadOrStore(name, &memoryGauge{})
	return g.(*memoryGauge)
}

// CounterValue returns the current value of a counter, or 0 if it was never created.
func (m *MemoryMetrics) CounterValue(name string) int64 {
	if c, ok := m.counters.Load(name); ok {
		return atomic.LoadInt64(&c.(*memoryCounter).value)
	}
	return 0
}

// HistogramValues returns a copy of the values recorded by a histogram.
func (m *MemoryMetrics) HistogramValues(name string) []float64 {
	h, ok := m.histograms.Load(name)
	if !ok {
		return nil
	}
	hist := h.(*memoryHistogram)
	hist.mu.Lock()
	defer hist.mu.Unlock()
	return append([]float64(nil), hist.values...)
}

// GaugeValue returns the last value set on a gauge.
func (m *MemoryMetrics) GaugeValue(name string) float64 {
	g, ok := m.gauges.Load(name)
	if !ok {
		return 0
	}
	gauge := g.(*memoryGauge)
	gauge.mu.Lock()
	defer gauge.mu.Unlock()
	return gauge.value
}

// Snapshot returns all counter values keyed by name.
func (m *MemoryMetrics) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	m.counters.Range(func(key, value any) bool {
		out[key.(string)] = atomic.LoadInt64(&value.(*memoryCounter).value)
		return true
	})
	return out
}

type memoryCounter struct {
	value int64
}

func (c *memoryCounter) Add(ctx context.Context, value int64, labels ...Label) {
	atomic.AddInt64(&c.value, value)
}

type memoryHistogram struct {
	mu     sync.Mutex
	values []float64
}

func (h *memoryHistogram) Record(ctx context.Context, value float64, labels ...Label) {
	h.mu.Lock()
	h.values = append(h.values, value)
	h.mu.Unlock()
}

type memoryGauge struct {
	mu    sync.Mutex
	value float64
}

func (g *memoryGauge) Set(ctx context.Context, value float64, labels ...Label) {
	g.mu.Lock()
	g.value = value
	g.mu.Unlock()
}
