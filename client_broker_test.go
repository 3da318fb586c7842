package mqttv3

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	mochimqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokerConfig describes a broker the interop scenarios run against.
type brokerConfig struct {
	name      string
	addr      string
	tlsConfig *tls.Config
	username  string
	password  string
	skip      string
}

func (b *brokerConfig) shouldSkip(t *testing.T) {
	if b.skip != "" {
		t.Skip(b.skip)
	}
}

// connect creates a client connected to the broker.
func (b *brokerConfig) connect(t *testing.T, prefix string, extraOpts ...Option) *Client {
	t.Helper()

	opts := []Option{
		WithClientID(fmt.Sprintf("mqttv3-%s-%d", prefix, time.Now().UnixNano())),
		WithConnectTimeout(10 * time.Second),
	}
	if b.tlsConfig != nil {
		opts = append(opts, WithTLS(b.tlsConfig))
	}
	if b.username != "" {
		opts = append(opts, WithCredentials(b.username, b.password))
	}
	opts = append(opts, extraOpts...)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := DialContext(ctx, b.addr, opts...)
	require.NoError(t, err, "failed to connect to %s", b.addr)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// uniqueTopic returns a topic no other run publishes to.
func uniqueTopic(suffix string) string {
	return fmt.Sprintf("mqttv3/test/%d/%s", time.Now().UnixNano(), suffix)
}

// nextMessage waits for a message on topic, skipping other events.
func nextMessage(t *testing.T, c *Client, topic string, timeout time.Duration) *Message {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-c.Events():
			require.True(t, ok, "events closed")
			if ev, ok := e.(MessageEvent); ok && ev.Message.Topic == topic {
				return ev.Message
			}
		case <-deadline:
			t.Fatalf("timeout waiting for message on %s", topic)
			return nil
		}
	}
}

// noMessage asserts nothing arrives on topic for d.
func noMessage(t *testing.T, c *Client, topic string, d time.Duration) {
	t.Helper()

	deadline := time.After(d)
	for {
		select {
		case e, ok := <-c.Events():
			if !ok {
				return
			}
			if ev, ok := e.(MessageEvent); ok && ev.Message.Topic == topic {
				t.Fatalf("unexpected message on %s", topic)
			}
		case <-deadline:
			return
		}
	}
}

func subscribe(t *testing.T, c *Client, filter string, qos QoS) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := c.Subscribe(ctx, Subscription{TopicFilter: filter, QoS: qos})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Failed)
}

func publish(t *testing.T, c *Client, topic string, payload []byte, qos QoS, retain bool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Publish(ctx, topic, payload, qos, retain))
}

// testPublishSubscribe round-trips a message at every QoS level.
func testPublishSubscribe(t *testing.T, broker brokerConfig) {
	for _, qos := range []QoS{QoS0, QoS1, QoS2} {
		t.Run(qos.String(), func(t *testing.T) {
			topic := uniqueTopic(fmt.Sprintf("qos%d", qos))
			payload := []byte("hello " + qos.String())

			client := broker.connect(t, "pubsub")
			subscribe(t, client, topic, qos)
			publish(t, client, topic, payload, qos, false)

			msg := nextMessage(t, client, topic, 10*time.Second)
			assert.Equal(t, payload, msg.Payload)
			assert.Equal(t, qos, msg.QoS)
			assert.False(t, msg.Retain)
		})
	}
}

func testWildcards(t *testing.T, broker brokerConfig) {
	base := uniqueTopic("wildcard")

	client := broker.connect(t, "wildcard")
	subscribe(t, client, base+"/+/temp", QoS1)

	publish(t, client, base+"/kitchen/temp", []byte("21"), QoS1, false)
	publish(t, client, base+"/kitchen/humidity", []byte("40"), QoS1, false)

	msg := nextMessage(t, client, base+"/kitchen/temp", 10*time.Second)
	assert.Equal(t, []byte("21"), msg.Payload)
	noMessage(t, client, base+"/kitchen/humidity", 500*time.Millisecond)
}

func testUnsubscribe(t *testing.T, broker brokerConfig) {
	topic := uniqueTopic("unsubscribe")

	client := broker.connect(t, "unsub")
	subscribe(t, client, topic, QoS1)

	publish(t, client, topic, []byte("first"), QoS1, false)
	nextMessage(t, client, topic, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Unsubscribe(ctx, topic))

	publish(t, client, topic, []byte("second"), QoS1, false)
	noMessage(t, client, topic, time.Second)
}

func testRetained(t *testing.T, broker brokerConfig) {
	topic := uniqueTopic("retained")

	publisher := broker.connect(t, "retain-pub")
	publish(t, publisher, topic, []byte("last known"), QoS1, true)

	subscriber := broker.connect(t, "retain-sub")
	subscribe(t, subscriber, topic, QoS1)

	msg := nextMessage(t, subscriber, topic, 10*time.Second)
	assert.Equal(t, []byte("last known"), msg.Payload)
	assert.True(t, msg.Retain)

	// an empty retained message clears it
	publish(t, publisher, topic, nil, QoS1, true)
}

func testLargePayload(t *testing.T, broker brokerConfig) {
	topic := uniqueTopic("large")
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096)

	client := broker.connect(t, "large")
	subscribe(t, client, topic, QoS1)
	publish(t, client, topic, payload, QoS1, false)

	msg := nextMessage(t, client, topic, 15*time.Second)
	assert.Equal(t, payload, msg.Payload)
}

func testKeepAlive(t *testing.T, broker brokerConfig) {
	client := broker.connect(t, "keepalive", WithKeepAlive(1))

	time.Sleep(3 * time.Second)
	assert.True(t, client.IsConnected())
}

// interopScenarios run against every broker.
var interopScenarios = []struct {
	name string
	run  func(*testing.T, brokerConfig)
}{
	{"PublishSubscribe", testPublishSubscribe},
	{"Wildcards", testWildcards},
	{"Unsubscribe", testUnsubscribe},
	{"Retained", testRetained},
	{"LargePayload", testLargePayload},
	{"KeepAlive", testKeepAlive},
}

func runInterop(t *testing.T, brokers []brokerConfig) {
	for _, scenario := range interopScenarios {
		t.Run(scenario.name, func(t *testing.T) {
			for _, broker := range brokers {
				t.Run(broker.name, func(t *testing.T) {
					broker.shouldSkip(t)
					scenario.run(t, broker)
				})
			}
		})
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}

var (
	localBrokerOnce  sync.Once
	localBrokers     []brokerConfig
	localBrokerError error
)

// startLocalBroker runs an in-process broker with TCP and WebSocket
// listeners, shared by every test in the package run.
func startLocalBroker(t *testing.T) []brokerConfig {
	t.Helper()

	localBrokerOnce.Do(func() {
		tcpAddr, wsAddr := freeAddr(t), freeAddr(t)

		server := mochimqtt.New(nil)
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			localBrokerError = err
			return
		}

		if err := server.AddListener(listeners.NewTCP(listeners.Config{ID: "mqttv3-test-tcp", Address: tcpAddr})); err != nil {
			localBrokerError = err
			return
		}
		if err := server.AddListener(listeners.NewWebsocket(listeners.Config{ID: "mqttv3-test-ws", Address: wsAddr})); err != nil {
			localBrokerError = err
			return
		}

		go func() {
			_ = server.Serve()
		}()

		ready := func(addr string) bool {
			conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
			if err != nil {
				return false
			}
			conn.Close()
			return true
		}
		deadline := time.Now().Add(5 * time.Second)
		for !ready(tcpAddr) || !ready(wsAddr) {
			if time.Now().After(deadline) {
				localBrokerError = fmt.Errorf("broker did not start on %s and %s", tcpAddr, wsAddr)
				return
			}
			time.Sleep(20 * time.Millisecond)
		}

		localBrokers = []brokerConfig{
			{name: "local/tcp", addr: "tcp://" + tcpAddr},
			{name: "local/ws", addr: "ws://" + wsAddr + "/"},
		}
	})

	require.NoError(t, localBrokerError)
	return localBrokers
}

func TestBrokerInterop(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a broker")
	}

	runInterop(t, startLocalBroker(t))
}

func TestBrokerPersistentSession(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a broker")
	}

	broker := startLocalBroker(t)[0]
	topic := uniqueTopic("persistent")
	clientID := fmt.Sprintf("mqttv3-persistent-%d", time.Now().UnixNano())

	first := broker.connect(t, "persistent", WithClientID(clientID), WithCleanSession(false))
	subscribe(t, first, topic, QoS1)
	require.NoError(t, first.Close())

	publisher := broker.connect(t, "persistent-pub")
	publish(t, publisher, topic, []byte("while away"), QoS1, false)

	second := broker.connect(t, "persistent", WithClientID(clientID), WithCleanSession(false))
	ev := waitEvent[ConnectedEvent](t, second)
	assert.True(t, ev.SessionPresent)

	msg := nextMessage(t, second, topic, 10*time.Second)
	assert.Equal(t, []byte("while away"), msg.Payload)
	assert.Equal(t, QoS1, msg.QoS)
}

func TestBrokerWill(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a broker")
	}

	broker := startLocalBroker(t)[0]
	willTopic := uniqueTopic("will")

	watcher := broker.connect(t, "will-watcher")
	subscribe(t, watcher, willTopic, QoS1)

	var (
		mu   sync.Mutex
		conn Conn
	)
	dialer := DialerFunc(func(ctx context.Context, address string) (Conn, error) {
		c, err := (&URLDialer{}).Dial(ctx, address)
		mu.Lock()
		conn = c
		mu.Unlock()
		return c, err
	})

	broker.connect(t, "will-client",
		WithWill(willTopic, []byte("gone"), QoS1, false),
		WithDialer(dialer),
	)

	// drop the transport without DISCONNECT
	mu.Lock()
	require.NotNil(t, conn)
	conn.Close()
	mu.Unlock()

	msg := nextMessage(t, watcher, willTopic, 10*time.Second)
	assert.Equal(t, []byte("gone"), msg.Payload)
}

func TestBrokerCleanDisconnectSuppressesWill(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a broker")
	}

	broker := startLocalBroker(t)[0]
	willTopic := uniqueTopic("will-clean")

	watcher := broker.connect(t, "will-watcher")
	subscribe(t, watcher, willTopic, QoS1)

	client := broker.connect(t, "will-clean", WithWill(willTopic, []byte("gone"), QoS1, false))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Disconnect(ctx))

	noMessage(t, watcher, willTopic, time.Second)
}
