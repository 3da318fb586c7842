package mqttv3

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// PrometheusMetrics exports metrics through a Prometheus registerer.
//
// A metric name is bound to the label names of its first use; later calls
// with a different label set get a no-op metric and are not exported.
type PrometheusMetrics struct {
	registerer prometheus.Registerer
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labelNames map[string][]string
}

// NewPrometheusMetrics registers metrics on reg, or on the default
// registerer when reg is nil.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		registerer: reg,
		buckets:    prometheus.DefBuckets,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelNames: make(map[string][]string),
	}
}

// bind returns the label names for name, recording them on first use.
func (p *PrometheusMetrics) bind(name string, labels MetricLabels) ([]string, bool) {
	names := slices.Sorted(maps.Keys(labels))
	if bound, ok := p.labelNames[name]; ok {
		return bound, slices.Equal(bound, names)
	}
	p.labelNames[name] = names
	return names, true
}

func (p *PrometheusMetrics) Counter(name string, labels MetricLabels) Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	names, ok := p.bind(name, labels)
	if !ok {
		return noOpCounter{}
	}

	vec, exists := p.counters[name]
	if !exists {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help(name)}, names)
		vec = registerOrExisting(p.registerer, vec)
		p.counters[name] = vec
	}

	return &promCounter{c: vec.With(prometheus.Labels(labels))}
}

func (p *PrometheusMetrics) Gauge(name string, labels MetricLabels) Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	names, ok := p.bind(name, labels)
	if !ok {
		return noOpGauge{}
	}

	vec, exists := p.gauges[name]
	if !exists {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help(name)}, names)
		vec = registerOrExisting(p.registerer, vec)
		p.gauges[name] = vec
	}

	return &promGauge{g: vec.With(prometheus.Labels(labels))}
}

func (p *PrometheusMetrics) Histogram(name string, labels MetricLabels) Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	names, ok := p.bind(name, labels)
	if !ok {
		return noOpHistogram{}
	}

	vec, exists := p.histograms[name]
	if !exists {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help(name),
			Buckets: p.buckets,
		}, names)
		vec = registerOrExisting(p.registerer, vec)
		p.histograms[name] = vec
	}

	obs := vec.With(prometheus.Labels(labels))
	return &promHistogram{h: obs.(prometheus.Histogram)}
}

// registerOrExisting registers c, returning the collector already
// registered under the same descriptor if there is one.
func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	return c
}

func help(name string) string {
	return "MQTT client metric " + name + "."
}

type promCounter struct {
	c prometheus.Counter
}

func (c *promCounter) Inc()              { c.c.Inc() }
func (c *promCounter) Add(delta float64) { c.c.Add(delta) }

func (c *promCounter) Value() float64 {
	var m dto.Metric
	if err := c.c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

type promGauge struct {
	g prometheus.Gauge
}

func (g *promGauge) Set(value float64) { g.g.Set(value) }
func (g *promGauge) Inc()              { g.g.Inc() }
func (g *promGauge) Dec()              { g.g.Dec() }
func (g *promGauge) Add(delta float64) { g.g.Add(delta) }
func (g *promGauge) Sub(delta float64) { g.g.Sub(delta) }

func (g *promGauge) Value() float64 {
	var m dto.Metric
	if err := g.g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

type promHistogram struct {
	h prometheus.Histogram
}

func (h *promHistogram) Observe(value float64) { h.h.Observe(value) }

func (h *promHistogram) ObserveDuration(d time.Duration) { h.h.Observe(d.Seconds()) }

func (h *promHistogram) Count() uint64 {
	var m dto.Metric
	if err := h.h.Write(&m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

func (h *promHistogram) Sum() float64 {
	var m dto.Metric
	if err := h.h.Write(&m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleSum()
}
