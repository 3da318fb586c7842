package mqttv3

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryMetrics(t *testing.T) {
	t.Run("counter operations", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		counter := metrics.Counter("test_counter", nil)

		counter.Inc()
		assert.Equal(t, float64(1), counter.Value())

		counter.Add(5)
		assert.Equal(t, float64(6), counter.Value())

		counter.Add(0.5)
		assert.Equal(t, float64(6.5), counter.Value())

		counter.Add(-10)
		assert.Equal(t, float64(6.5), counter.Value(), "counters never decrease")
	})

	t.Run("gauge operations", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		gauge := metrics.Gauge("test_gauge", nil)

		gauge.Set(100)
		gauge.Inc()
		assert.Equal(t, float64(101), gauge.Value())

		gauge.Dec()
		gauge.Add(50)
		gauge.Sub(30)
		assert.Equal(t, float64(120), gauge.Value())
	})

	t.Run("histogram operations", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		histogram := metrics.Histogram("test_histogram", nil)

		histogram.Observe(1.5)
		histogram.Observe(2.5)
		histogram.ObserveDuration(3 * time.Second)

		assert.Equal(t, uint64(3), histogram.Count())
		assert.Equal(t, float64(7.0), histogram.Sum())
	})

	t.Run("same name and labels share a metric", func(t *testing.T) {
		metrics := NewMemoryMetrics()

		metrics.Counter("packets", MetricLabels{"type": "PUBLISH", "dir": "in"}).Inc()
		metrics.Counter("packets", MetricLabels{"dir": "in", "type": "PUBLISH"}).Inc()
		metrics.Counter("packets", MetricLabels{"type": "PUBACK", "dir": "in"}).Inc()

		assert.Equal(t, float64(2), metrics.CounterValue("packets", MetricLabels{"type": "PUBLISH", "dir": "in"}))
		assert.Equal(t, float64(1), metrics.CounterValue("packets", MetricLabels{"type": "PUBACK", "dir": "in"}))
		assert.Zero(t, metrics.CounterValue("packets", nil))
	})

	t.Run("lookups of unknown metrics", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		assert.Zero(t, metrics.CounterValue("missing", nil))
		assert.Zero(t, metrics.GaugeValue("missing", nil))
		assert.Zero(t, metrics.HistogramCount("missing", nil))
	})
}

func TestMemoryMetricsConcurrency(t *testing.T) {
	metrics := NewMemoryMetrics()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				metrics.Counter("concurrent", MetricLabels{"k": "v"}).Inc()
				metrics.Gauge("concurrent", nil).Add(1)
				metrics.Histogram("concurrent", nil).Observe(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(100), metrics.CounterValue("concurrent", MetricLabels{"k": "v"}))
	assert.Equal(t, float64(100), metrics.GaugeValue("concurrent", nil))
	assert.Equal(t, uint64(100), metrics.HistogramCount("concurrent", nil))
}

func TestMetricKey(t *testing.T) {
	assert.Equal(t, "test", metricKey("test", nil))
	assert.Equal(t, "test", metricKey("test", MetricLabels{}))
	assert.Equal(t, "test|a=1|b=2", metricKey("test", MetricLabels{"b": "2", "a": "1"}))
}

func BenchmarkMemoryCounter(b *testing.B) {
	metrics := NewMemoryMetrics()
	counter := metrics.Counter("bench", nil)

	b.ReportAllocs()

	for b.Loop() {
		counter.Inc()
	}
}

func BenchmarkMemoryCounterLookup(b *testing.B) {
	metrics := NewMemoryMetrics()
	labels := MetricLabels{LabelPacketType: "PUBLISH"}

	b.ReportAllocs()

	for b.Loop() {
		metrics.Counter(MetricPacketsSent, labels).Inc()
	}
}

func BenchmarkMemoryCounterConcurrent(b *testing.B) {
	metrics := NewMemoryMetrics()
	counter := metrics.Counter("bench", nil)

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			counter.Inc()
		}
	})
}
