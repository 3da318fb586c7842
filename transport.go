package mqttv3

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// ErrUnsupportedScheme is returned for a broker URL with an unknown scheme.
var ErrUnsupportedScheme = errors.New("unsupported scheme")

// Conn is a byte stream to a broker.
type Conn interface {
	net.Conn
}

// Dialer establishes broker connections.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, address string) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, address string) (Conn, error) {
	return f(ctx, address)
}

// TCPDialer connects over plain TCP, optionally through a proxy.
type TCPDialer struct {
	Timeout time.Duration
	Proxy   *ProxyDialer
}

// Dial connects to host:port.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	if d.Proxy != nil {
		return d.Proxy.DialContext(ctx, "tcp", address)
	}

	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects over TLS, optionally through a proxy.
type TLSDialer struct {
	Config  *tls.Config
	Timeout time.Duration
	Proxy   *ProxyDialer
}

// Dial connects to host:port and completes the TLS handshake.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	config := d.Config
	if config == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if d.Proxy == nil {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: d.Timeout},
			Config:    config,
		}
		return dialer.DialContext(ctx, "tcp", address)
	}

	raw, err := d.Proxy.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	if config.ServerName == "" {
		if host, _, err := net.SplitHostPort(address); err == nil {
			config = config.Clone()
			config.ServerName = host
		}
	}

	conn := tls.Client(raw, config)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return conn, nil
}

// URLDialer dials broker URLs, choosing the transport by scheme:
//
//	tcp://, mqtt://           plain TCP (default port 1883)
//	tls://, ssl://, mqtts://  TLS (default port 8883)
//	ws://, wss://             WebSocket with the mqtt subprotocol
//	quic://                   QUIC (default port 8883)
//	unix:///path              Unix domain socket
//
// A URL without a scheme is treated as tcp://.
type URLDialer struct {
	TLSConfig *tls.Config
	Timeout   time.Duration

	// Proxy tunnels TCP and TLS connections; WebSocket connections use it
	// as their HTTP proxy.
	Proxy *ProxyConfig
	// ProxyFromEnvironment reads HTTP_PROXY, HTTPS_PROXY and NO_PROXY
	// when Proxy is nil.
	ProxyFromEnvironment bool
}

// Dial connects to the broker at rawURL.
func (d *URLDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	u, err := parseBrokerURL(rawURL)
	if err != nil {
		return nil, err
	}

	proxyDialer, err := d.resolveProxy(u.String())
	if err != nil {
		return nil, fmt.Errorf("proxy configuration: %w", err)
	}

	var conn Conn
	switch u.Scheme {
	case "tcp", "mqtt":
		conn, err = (&TCPDialer{Timeout: d.Timeout, Proxy: proxyDialer}).Dial(ctx, hostPort(u))
	case "tls", "ssl", "mqtts":
		conn, err = (&TLSDialer{Config: d.TLSConfig, Timeout: d.Timeout, Proxy: proxyDialer}).Dial(ctx, hostPort(u))
	case "ws", "wss":
		ws := NewWSDialer()
		if d.TLSConfig != nil {
			ws.Dialer.TLSClientConfig = d.TLSConfig
		}
		if proxyDialer != nil {
			ws.SetProxy(proxyDialer.URL())
		}
		conn, err = ws.Dial(ctx, u.String())
	case "quic":
		conn, err = NewQUICDialer(d.TLSConfig).Dial(ctx, hostPort(u))
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Host + u.Path
		}
		conn, err = NewUnixDialer().Dial(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return conn, nil
}

// resolveProxy returns nil when no proxy applies to target.
func (d *URLDialer) resolveProxy(target string) (*ProxyDialer, error) {
	if d.Proxy != nil {
		return NewProxyDialer(d.Proxy.URL, d.Proxy.Username, d.Proxy.Password)
	}

	if d.ProxyFromEnvironment {
		proxyURL, err := ProxyFromEnvironment(target)
		if err != nil || proxyURL == nil {
			return nil, err
		}
		return NewProxyDialer(proxyURL.String(), "", "")
	}

	return nil, nil
}

func parseBrokerURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Path == "" && u.Opaque != "") {
		// host:port without a scheme parses as an opaque URL
		u, err = url.Parse("tcp://" + rawURL)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid broker address %q: %w", rawURL, err)
	}
	return u, nil
}

// DefaultPort returns the IANA port for a broker URL scheme.
func DefaultPort(scheme string) string {
	switch scheme {
	case "tcp", "mqtt":
		return "1883"
	case "tls", "ssl", "mqtts", "quic":
		return "8883"
	case "ws":
		return "80"
	case "wss":
		return "443"
	default:
		return ""
	}
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), DefaultPort(u.Scheme))
}
