// Package mqttv3 provides an SDK for MQTT 3.1.1 clients.
//
// This package implements the MQTT Version 3.1.1 OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Features
//
//   - All 14 MQTT 3.1.1 control packet types
//   - Incremental frame decoder that accepts input in arbitrary chunks
//   - QoS 0, 1, 2 message flows with duplicate suppression and retransmission
//   - Topic matching with wildcard support (+, #)
//   - A protocol session that performs no I/O and takes time as an input
//   - Transport: TCP, TLS, WebSocket, QUIC, Unix sockets, HTTP and SOCKS5 proxies
//   - Pluggable logging (zap) and metrics (Prometheus)
//
// # Packet Types
//
// The package provides structs for all MQTT 3.1.1 control packets:
//
//   - ConnectPacket, ConnackPacket: Connection establishment
//   - PublishPacket, PubackPacket, PubrecPacket, PubrelPacket, PubcompPacket: Message delivery
//   - SubscribePacket, SubackPacket: Topic subscription
//   - UnsubscribePacket, UnsubackPacket: Topic unsubscription
//   - PingreqPacket, PingrespPacket: Keep-alive
//   - DisconnectPacket: Connection termination
//
// Use ReadPacket and WritePacket on blocking connections:
//
//	pkt, n, err := mqttv3.ReadPacket(conn, maxPacketSize)
//	n, err := mqttv3.WritePacket(conn, packet, maxPacketSize)
//
// or a Decoder when bytes arrive in pieces:
//
//	dec := mqttv3.NewDecoder(maxPacketSize)
//	dec.Write(chunk)
//	for {
//	    pkt, err := dec.Decode()
//	    if errors.Is(err, mqttv3.ErrIncomplete) {
//	        break
//	    }
//	    ...
//	}
//
// # Session
//
// Session holds the protocol state of one client: the connection state,
// in-flight QoS 1 and QoS 2 exchanges, pending requests, subscriptions and
// keep-alive timing. Each input (a user request, a received packet or a
// timer tick) takes the current time and returns an Output listing the
// packets to write and the events to deliver. Session never blocks and
// never reads the clock, so it can be driven by any I/O model.
//
// # Client
//
// Client runs a Session over a transport:
//
//	client, err := mqttv3.Dial("tcp://localhost:1883",
//	    mqttv3.WithClientID("my-client"),
//	    mqttv3.WithKeepAlive(60),
//	)
//	defer client.Close()
//
//	client.Subscribe(ctx, mqttv3.Subscription{TopicFilter: "sensors/#", QoS: mqttv3.QoS1})
//	client.Publish(ctx, "sensors/t1", []byte("21.5"), mqttv3.QoS1, false)
//
//	for e := range client.Events() {
//	    if m, ok := e.(mqttv3.MessageEvent); ok {
//	        fmt.Printf("%s: %s\n", m.Message.Topic, m.Message.Payload)
//	    }
//	}
//
// The transport is chosen by URL scheme: tcp:// or mqtt://, tls://, ssl://
// or mqtts://, ws:// or wss://, quic:// and unix://.
//
// # Error Handling
//
// Sentinel errors are compared with errors.Is. Typed errors carry details
// and are extracted with errors.As:
//
//	var refused *mqttv3.ConnectError
//	if errors.As(err, &refused) {
//	    log.Printf("broker refused: %s", refused.Code)
//	}
//
//	if errors.Is(err, mqttv3.ErrConnectionLost) {
//	    // retry later
//	}
package mqttv3
