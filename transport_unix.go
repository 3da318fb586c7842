package mqttv3

import (
	"context"
	"net"
)

// UnixDialer connects to a broker's Unix domain socket.
type UnixDialer struct{}

// NewUnixDialer creates a Unix socket dialer.
func NewUnixDialer() *UnixDialer {
	return &UnixDialer{}
}

// Dial connects to the socket file at address.
func (d *UnixDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "unix", address)
}
