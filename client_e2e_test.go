//go:build e2e

package mqttv3

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Public MQTT brokers for e2e testing.
// Run with: go test -tags=e2e -v -run TestE2E
//
// Broker documentation:
// - https://www.emqx.com/en/mqtt/public-mqtt-broker
// - https://www.hivemq.com/mqtt/public-mqtt-broker/
// - https://test.mosquitto.org/
var publicBrokers = []brokerConfig{
	{name: "emqx/tcp:1883", addr: "tcp://broker.emqx.io:1883"},
	{name: "emqx/tls:8883", addr: "tls://broker.emqx.io:8883", tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12}},
	{name: "emqx/ws:8083", addr: "ws://broker.emqx.io:8083/mqtt"},
	{name: "emqx/wss:8084", addr: "wss://broker.emqx.io:8084/mqtt", tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12}},
	{name: "emqx/quic:14567", addr: "quic://broker.emqx.io:14567", tlsConfig: &tls.Config{MinVersion: tls.VersionTLS13}},

	{name: "hivemq/tcp:1883", addr: "tcp://broker.hivemq.com:1883"},
	{name: "hivemq/tls:8883", addr: "tls://broker.hivemq.com:8883", tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12}},
	{name: "hivemq/ws:8000", addr: "ws://broker.hivemq.com:8000/mqtt"},

	// Auth credentials: rw/readwrite, ro/readonly, wo/writeonly
	{name: "mosquitto/tcp:1883", addr: "tcp://test.mosquitto.org:1883"},
	{name: "mosquitto/tcp:1884-auth", addr: "tcp://test.mosquitto.org:1884", username: "rw", password: "readwrite"},
	{name: "mosquitto/tls:8883", addr: "tls://test.mosquitto.org:8883", tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: true}},
	{name: "mosquitto/tls:8884-cert", addr: "tls://test.mosquitto.org:8884", tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12}, skip: "requires client certificate"},
	{name: "mosquitto/tls:8886-letsencrypt", addr: "tls://test.mosquitto.org:8886", tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12}},
	{name: "mosquitto/tls:8887-expired", addr: "tls://test.mosquitto.org:8887", tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12}, skip: "deliberately expired certificate"},
	{name: "mosquitto/ws:8080", addr: "ws://test.mosquitto.org:8080/"},
	{name: "mosquitto/ws:8090-auth", addr: "ws://test.mosquitto.org:8090/", username: "rw", password: "readwrite"},
}

func TestE2EConnect(t *testing.T) {
	for _, broker := range publicBrokers {
		t.Run(broker.name, func(t *testing.T) {
			broker.shouldSkip(t)

			client := broker.connect(t, "connect")
			assert.True(t, client.IsConnected())
			assert.NotEmpty(t, client.ClientID())

			assert.NoError(t, client.Close())
			assert.False(t, client.IsConnected())
		})
	}
}

func TestE2EInterop(t *testing.T) {
	runInterop(t, publicBrokers)
}
