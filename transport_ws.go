package mqttv3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSubprotocol is the subprotocol MQTT brokers expect on WebSocket.
const WebSocketSubprotocol = "mqtt"

// ErrTextFrame is returned when a broker sends a text WebSocket message.
var ErrTextFrame = errors.New("websocket: MQTT requires binary messages")

// WSConn exposes a WebSocket connection as a byte stream. MQTT packets may
// span WebSocket messages and a message may carry several packets.
type WSConn struct {
	conn    *websocket.Conn
	current io.Reader
	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Read reads across message boundaries.
func (c *WSConn) Read(b []byte) (int, error) {
	for {
		if c.current == nil {
			messageType, r, err := c.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				return 0, ErrTextFrame
			}
			c.current = r
		}

		n, err := c.current.Read(b)
		if errors.Is(err, io.EOF) {
			c.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends b as one binary message.
func (c *WSConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *WSConn) Close() error         { return c.conn.Close() }
func (c *WSConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *WSConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *WSConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

func (c *WSConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *WSConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// WSDialer connects to brokers over WebSocket.
type WSDialer struct {
	Dialer *websocket.Dialer
	// Header is sent with the upgrade request.
	Header http.Header
}

// NewWSDialer creates a dialer negotiating the mqtt subprotocol.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			Subprotocols:     []string{WebSocketSubprotocol},
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// SetProxy routes the upgrade request through proxyURL.
func (d *WSDialer) SetProxy(proxyURL *url.URL) {
	d.Dialer.Proxy = http.ProxyURL(proxyURL)
}

// Dial connects to a ws:// or wss:// URL.
func (d *WSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, address, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket upgrade: %s: %w", resp.Status, err)
		}
		return nil, err
	}

	if conn.Subprotocol() != WebSocketSubprotocol {
		conn.Close()
		return nil, fmt.Errorf("websocket: broker selected subprotocol %q", conn.Subprotocol())
	}

	return newWSConn(conn), nil
}
