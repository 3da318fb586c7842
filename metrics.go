package mqttv3

import (
	"strconv"
	"time"
)

// MetricType is the kind of a metric.
type MetricType int

const (
	MetricTypeCounter MetricType = iota
	MetricTypeGauge
	MetricTypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case MetricTypeCounter:
		return "counter"
	case MetricTypeGauge:
		return "gauge"
	case MetricTypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// MetricLabels are label pairs attached to a metric.
type MetricLabels map[string]string

// Metrics creates or looks up metrics by name and labels.
// Implementations must return the same metric for the same name and labels.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
	Value() float64
}

// Histogram tracks a distribution of observations.
type Histogram interface {
	Observe(value float64)
	// ObserveDuration records d in seconds.
	ObserveDuration(d time.Duration)
	Count() uint64
	Sum() float64
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) Counter(_ string, _ MetricLabels) Counter     { return noOpCounter{} }
func (NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge         { return noOpGauge{} }
func (NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram { return noOpHistogram{} }

type noOpCounter struct{}

func (noOpCounter) Inc()           {}
func (noOpCounter) Add(_ float64)  {}
func (noOpCounter) Value() float64 { return 0 }

type noOpGauge struct{}

func (noOpGauge) Set(_ float64)  {}
func (noOpGauge) Inc()           {}
func (noOpGauge) Dec()           {}
func (noOpGauge) Add(_ float64)  {}
func (noOpGauge) Sub(_ float64)  {}
func (noOpGauge) Value() float64 { return 0 }

type noOpHistogram struct{}

func (noOpHistogram) Observe(_ float64)               {}
func (noOpHistogram) ObserveDuration(_ time.Duration) {}
func (noOpHistogram) Count() uint64                   { return 0 }
func (noOpHistogram) Sum() float64                    { return 0 }

// Client metric names.
const (
	MetricConnected          = "mqtt_client_connected"
	MetricConnectsTotal      = "mqtt_client_connects_total"
	MetricConnectFailures    = "mqtt_client_connect_failures_total"
	MetricDisconnectsTotal   = "mqtt_client_disconnects_total"
	MetricPacketsSent        = "mqtt_client_packets_sent_total"
	MetricPacketsReceived    = "mqtt_client_packets_received_total"
	MetricBytesSent          = "mqtt_client_bytes_sent_total"
	MetricBytesReceived      = "mqtt_client_bytes_received_total"
	MetricMessagesPublished  = "mqtt_client_messages_published_total"
	MetricMessagesDelivered  = "mqtt_client_messages_delivered_total"
	MetricProtocolViolations = "mqtt_client_protocol_violations_total"
	MetricInflightOutgoing   = "mqtt_client_inflight_outgoing"
	MetricInflightIncoming   = "mqtt_client_inflight_incoming"
	MetricPublishLatency     = "mqtt_client_publish_latency_seconds"
)

// Metric label names.
const (
	LabelPacketType = "packet_type"
	LabelQoS        = "qos"
	LabelFatal      = "fatal"
)

// ClientMetrics records the client's standard metrics on top of a Metrics backend.
type ClientMetrics struct {
	metrics Metrics
}

// NewClientMetrics wraps m; a nil m records nothing.
func NewClientMetrics(m Metrics) *ClientMetrics {
	if m == nil {
		m = NoOpMetrics{}
	}
	return &ClientMetrics{metrics: m}
}

// Connected records an accepted CONNACK.
func (c *ClientMetrics) Connected() {
	c.metrics.Gauge(MetricConnected, nil).Set(1)
	c.metrics.Counter(MetricConnectsTotal, nil).Inc()
}

// ConnectFailed records a refused or timed out handshake.
func (c *ClientMetrics) ConnectFailed() {
	c.metrics.Counter(MetricConnectFailures, nil).Inc()
}

// Disconnected records the end of a connection.
func (c *ClientMetrics) Disconnected() {
	c.metrics.Gauge(MetricConnected, nil).Set(0)
	c.metrics.Counter(MetricDisconnectsTotal, nil).Inc()
}

// PacketSent records an outbound packet of n bytes.
func (c *ClientMetrics) PacketSent(t PacketType, n int) {
	c.metrics.Counter(MetricPacketsSent, MetricLabels{LabelPacketType: t.String()}).Inc()
	c.metrics.Counter(MetricBytesSent, nil).Add(float64(n))
}

// PacketReceived records an inbound packet of n bytes.
func (c *ClientMetrics) PacketReceived(t PacketType, n int) {
	c.metrics.Counter(MetricPacketsReceived, MetricLabels{LabelPacketType: t.String()}).Inc()
	c.metrics.Counter(MetricBytesReceived, nil).Add(float64(n))
}

// MessagePublished records a completed publish and its latency.
func (c *ClientMetrics) MessagePublished(qos QoS, latency time.Duration) {
	c.metrics.Counter(MetricMessagesPublished, MetricLabels{LabelQoS: qosLabel(qos)}).Inc()
	c.metrics.Histogram(MetricPublishLatency, MetricLabels{LabelQoS: qosLabel(qos)}).ObserveDuration(latency)
}

// MessageDelivered records a message handed to the application.
func (c *ClientMetrics) MessageDelivered(qos QoS) {
	c.metrics.Counter(MetricMessagesDelivered, MetricLabels{LabelQoS: qosLabel(qos)}).Inc()
}

// ProtocolViolation records a violation by the broker.
func (c *ClientMetrics) ProtocolViolation(fatal bool) {
	label := "false"
	if fatal {
		label = "true"
	}
	c.metrics.Counter(MetricProtocolViolations, MetricLabels{LabelFatal: label}).Inc()
}

// Inflight sets the in-flight exchange gauges.
func (c *ClientMetrics) Inflight(outgoing, incoming int) {
	c.metrics.Gauge(MetricInflightOutgoing, nil).Set(float64(outgoing))
	c.metrics.Gauge(MetricInflightIncoming, nil).Set(float64(incoming))
}

func qosLabel(qos QoS) string {
	return strconv.Itoa(int(qos))
}
