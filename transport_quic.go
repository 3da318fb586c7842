package mqttv3

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICALPN is the ALPN protocol negotiated for MQTT over QUIC.
const QUICALPN = "mqtt"

// QUICConn carries MQTT over the first bidirectional stream of a QUIC connection.
type QUICConn struct {
	conn   *quic.Conn
	stream *quic.Stream

	closeOnce sync.Once
	closeErr  error
}

func (c *QUICConn) Read(b []byte) (int, error)  { return c.stream.Read(b) }
func (c *QUICConn) Write(b []byte) (int, error) { return c.stream.Write(b) }

// Close closes the stream and then the connection. It is safe to call more than once.
func (c *QUICConn) Close() error {
	c.closeOnce.Do(func() {
		c.stream.CancelRead(0)
		if err := c.stream.Close(); err != nil {
			c.closeErr = err
		}
		if err := c.conn.CloseWithError(0, ""); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func (c *QUICConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *QUICConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *QUICConn) SetDeadline(t time.Time) error      { return c.stream.SetDeadline(t) }
func (c *QUICConn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c *QUICConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }

// QUICDialer connects to brokers over QUIC. QUIC always runs TLS 1.3.
type QUICDialer struct {
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
}

// NewQUICDialer creates a dialer; a nil tlsConfig uses system roots.
func NewQUICDialer(tlsConfig *tls.Config) *QUICDialer {
	return &QUICDialer{TLSConfig: tlsConfig}
}

// Dial connects to host:port and opens the MQTT stream.
func (d *QUICDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var config *tls.Config
	if d.TLSConfig != nil {
		config = d.TLSConfig.Clone()
	} else {
		config = &tls.Config{}
	}
	if config.MinVersion < tls.VersionTLS13 {
		config.MinVersion = tls.VersionTLS13
	}
	if len(config.NextProtos) == 0 {
		config.NextProtos = []string{QUICALPN}
	}

	conn, err := quic.DialAddr(ctx, address, config, d.QUICConfig)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, err
	}

	return &QUICConn{conn: conn, stream: stream}, nil
}
