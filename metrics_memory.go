package mqttv3

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryMetrics keeps metrics in memory. It is meant for tests and for
// applications that export values themselves.
type MemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*memoryCounter
	gauges     map[string]*memoryGauge
	histograms map[string]*memoryHistogram
}

// NewMemoryMetrics creates an empty in-memory registry.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*memoryCounter),
		gauges:     make(map[string]*memoryGauge),
		histograms: make(map[string]*memoryHistogram),
	}
}

// metricKey joins name and labels sorted by label name.
func metricKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	var b strings.Builder
	b.WriteString(name)
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

// lookup returns the metric stored under key, creating it with create on first use.
func lookup[M any](mu *sync.RWMutex, store map[string]M, key string, create func() M) M {
	mu.RLock()
	m, ok := store[key]
	mu.RUnlock()
	if ok {
		return m
	}

	mu.Lock()
	defer mu.Unlock()

	if m, ok := store[key]; ok {
		return m
	}
	m = create()
	store[key] = m
	return m
}

func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return lookup(&m.mu, m.counters, metricKey(name, labels), func() *memoryCounter {
		return &memoryCounter{}
	})
}

func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return lookup(&m.mu, m.gauges, metricKey(name, labels), func() *memoryGauge {
		return &memoryGauge{}
	})
}

func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return lookup(&m.mu, m.histograms, metricKey(name, labels), func() *memoryHistogram {
		return &memoryHistogram{}
	})
}

// CounterValue returns the value of a counter, zero if it was never created.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.counters[metricKey(name, labels)]; ok {
		return c.Value()
	}
	return 0
}

// GaugeValue returns the value of a gauge, zero if it was never created.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if g, ok := m.gauges[metricKey(name, labels)]; ok {
		return g.Value()
	}
	return 0
}

// HistogramCount returns the number of observations of a histogram.
func (m *MemoryMetrics) HistogramCount(name string, labels MetricLabels) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if h, ok := m.histograms[metricKey(name, labels)]; ok {
		return h.Count()
	}
	return 0
}

// atomicFloat is a float64 updated with compare-and-swap.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat) store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

type memoryCounter struct {
	value atomicFloat
}

func (c *memoryCounter) Inc() { c.value.add(1) }

// Add ignores negative deltas; counters never decrease.
func (c *memoryCounter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.value.add(delta)
}

func (c *memoryCounter) Value() float64 { return c.value.load() }

type memoryGauge struct {
	value atomicFloat
}

func (g *memoryGauge) Set(value float64) { g.value.store(value) }
func (g *memoryGauge) Inc()              { g.value.add(1) }
func (g *memoryGauge) Dec()              { g.value.add(-1) }
func (g *memoryGauge) Add(delta float64) { g.value.add(delta) }
func (g *memoryGauge) Sub(delta float64) { g.value.add(-delta) }
func (g *memoryGauge) Value() float64    { return g.value.load() }

type memoryHistogram struct {
	count atomic.Uint64
	sum   atomicFloat
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.add(value)
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

func (h *memoryHistogram) Count() uint64 { return h.count.Load() }
func (h *memoryHistogram) Sum() float64  { return h.sum.load() }
