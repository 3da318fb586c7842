package mqttv3

import (
	"crypto/tls"
	"time"

	"golang.org/x/time/rate"
)

// BackoffStrategy computes the wait before reconnect attempt number attempt
// (1-based) given the previous wait and the error that ended the last attempt.
type BackoffStrategy func(attempt int, previous time.Duration, err error) time.Duration

// Defaults applied when no option overrides them.
const (
	DefaultKeepAlive      uint16        = 60
	DefaultConnectTimeout time.Duration = 10 * time.Second
	DefaultEventBuffer    int           = 256
	DefaultMaxPacketSize  uint32        = 4 * 1024 * 1024
)

type clientOptions struct {
	clientID     string
	clientIDSet  bool
	username     string
	password     []byte
	keepAlive    uint16
	cleanSession bool
	will         *Will

	tlsConfig            *tls.Config
	proxy                *ProxyConfig
	proxyFromEnvironment bool
	dialer               Dialer

	connectTimeout time.Duration
	writeTimeout   time.Duration
	retryInterval  time.Duration

	autoReconnect    bool
	maxReconnects    int
	reconnectBackoff time.Duration
	maxBackoff       time.Duration
	backoffStrategy  BackoffStrategy

	resubscribe   bool
	maxPacketSize uint32
	eventBuffer   int
	publishLimit  *rate.Limiter

	logger  Logger
	metrics Metrics
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		keepAlive:        DefaultKeepAlive,
		cleanSession:     true,
		connectTimeout:   DefaultConnectTimeout,
		writeTimeout:     5 * time.Second,
		maxReconnects:    -1,
		reconnectBackoff: time.Second,
		maxBackoff:       time.Minute,
		resubscribe:      true,
		maxPacketSize:    DefaultMaxPacketSize,
		eventBuffer:      DefaultEventBuffer,
		logger:           NewNoOpLogger(),
		metrics:          NoOpMetrics{},
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithClientID sets the client identifier. An empty identifier asks the
// broker to assign one and requires a clean session; when no identifier is
// configured at all a random one is generated.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.clientID = id
		o.clientIDSet = true
	}
}

// WithCredentials sets the username and password sent in CONNECT.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithKeepAlive sets the keep-alive interval in seconds; zero disables it.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) {
		o.keepAlive = seconds
	}
}

// WithCleanSession controls whether the broker discards session state on connect.
func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) {
		o.cleanSession = clean
	}
}

// WithWill sets the message the broker publishes if the client disappears.
func WithWill(topic string, payload []byte, qos QoS, retain bool) Option {
	return func(o *clientOptions) {
		o.will = &Will{Topic: topic, Payload: payload, QoS: qos, Retain: retain}
	}
}

// WithTLS sets the TLS configuration for tls, wss and quic URLs.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.tlsConfig = config
	}
}

// WithProxy tunnels TCP, TLS and WebSocket connections through a proxy.
func WithProxy(config ProxyConfig) Option {
	return func(o *clientOptions) {
		o.proxy = &config
	}
}

// WithProxyFromEnvironment uses HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
func WithProxyFromEnvironment() Option {
	return func(o *clientOptions) {
		o.proxyFromEnvironment = true
	}
}

// WithDialer replaces URL based dialing. The address passed to Dial is
// handed to d unchanged.
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) {
		o.dialer = d
	}
}

// WithConnectTimeout bounds dialing plus the wait for CONNACK.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithWriteTimeout bounds each packet write; zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.writeTimeout = d
	}
}

// WithRetryInterval re-sends unacknowledged publishes on a live connection.
// By default they are only re-sent when a persistent session is resumed.
func WithRetryInterval(d time.Duration) Option {
	return func(o *clientOptions) {
		o.retryInterval = d
	}
}

// WithAutoReconnect reconnects with backoff after the connection is lost.
func WithAutoReconnect(enabled bool) Option {
	return func(o *clientOptions) {
		o.autoReconnect = enabled
	}
}

// WithMaxReconnects limits consecutive reconnect attempts; -1 means unlimited.
func WithMaxReconnects(n int) Option {
	return func(o *clientOptions) {
		o.maxReconnects = n
	}
}

// WithReconnectBackoff sets the first reconnect wait and its cap.
func WithReconnectBackoff(initial, limit time.Duration) Option {
	return func(o *clientOptions) {
		o.reconnectBackoff = initial
		o.maxBackoff = limit
	}
}

// WithBackoffStrategy replaces the doubling backoff.
func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(o *clientOptions) {
		o.backoffStrategy = strategy
	}
}

// WithResubscribe controls whether registered subscriptions are re-issued
// when the broker reports no session after a reconnect. Enabled by default.
func WithResubscribe(enabled bool) Option {
	return func(o *clientOptions) {
		o.resubscribe = enabled
	}
}

// WithMaxPacketSize rejects inbound packets whose remaining length exceeds
// size. Zero or a value past the protocol limit disables the check.
func WithMaxPacketSize(size uint32) Option {
	return func(o *clientOptions) {
		if size > maxVarint {
			size = 0
		}
		o.maxPacketSize = size
	}
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithPublishRateLimit allows at most perSecond publishes per second with
// the given burst. Publish waits for a token.
func WithPublishRateLimit(perSecond float64, burst int) Option {
	return func(o *clientOptions) {
		o.publishLimit = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics backend.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

func applyOptions(opts ...Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// nextBackoff doubles the previous wait up to the configured cap.
func (o *clientOptions) nextBackoff(attempt int, previous time.Duration, err error) time.Duration {
	if o.backoffStrategy != nil {
		return o.backoffStrategy(attempt, previous, err)
	}
	if previous <= 0 {
		return o.reconnectBackoff
	}
	next := previous * 2
	if o.maxBackoff > 0 && next > o.maxBackoff {
		next = o.maxBackoff
	}
	return next
}
