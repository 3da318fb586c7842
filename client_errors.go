package mqttv3

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection lifecycle - check with errors.Is().
var (
	// ErrDisconnected is returned to operations abandoned by a clean disconnect.
	ErrDisconnected = errors.New("disconnected")

	// ErrConnectionLost is returned to operations abandoned by an unexpected teardown.
	ErrConnectionLost = errors.New("connection lost")

	// ErrConnectTimeout is reported when no CONNACK arrives within the connect timeout.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrConnectionRefused is matched by every ConnectError.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrKeepAliveTimeout is reported when the broker does not answer PINGREQ in time.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")
)

// Sentinel errors for CONNACK refusals - check with errors.Is().
var (
	ErrUnacceptableProtocolVersion = errors.New("unacceptable protocol version")
	ErrIdentifierRejected          = errors.New("identifier rejected")
	ErrServerUnavailable           = errors.New("server unavailable")
	ErrBadUsernameOrPassword       = errors.New("bad user name or password")
	ErrNotAuthorized               = errors.New("not authorized")
)

// Sentinel errors for operations - check with errors.Is().
var (
	// ErrNotConnected is returned when an operation requires an active connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by Connect outside the disconnected state.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrClientClosed is returned when an operation is attempted on a closed client.
	ErrClientClosed = errors.New("client closed")

	// ErrProtocolViolation is matched by every ProtocolViolationError.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrSubscribeFailed is returned when the broker rejects every requested filter.
	ErrSubscribeFailed = errors.New("subscribe failed")

	// ErrReconnectFailed is logged when automatic reconnection gives up.
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")
)

// ConnectError reports a CONNACK with a non-zero return code.
// Extract with errors.As().
type ConnectError struct {
	Code ConnackCode
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connection refused: %s", e.Code)
}

// Unwrap returns the sentinel for the refusal code.
func (e *ConnectError) Unwrap() error {
	switch e.Code {
	case ConnectionRefusedVersion:
		return ErrUnacceptableProtocolVersion
	case ConnectionRefusedIdentifier:
		return ErrIdentifierRejected
	case ConnectionRefusedServer:
		return ErrServerUnavailable
	case ConnectionRefusedBadAuth:
		return ErrBadUsernameOrPassword
	case ConnectionRefusedNotAuth:
		return ErrNotAuthorized
	default:
		return nil
	}
}

// Is reports whether target is ErrConnectionRefused.
func (e *ConnectError) Is(target error) bool {
	return target == ErrConnectionRefused
}

// ConnectionLostError wraps the cause of an unexpected teardown.
// It matches ErrConnectionLost and, through Unwrap, the cause itself.
type ConnectionLostError struct {
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause == nil {
		return ErrConnectionLost.Error()
	}
	return "connection lost: " + e.Cause.Error()
}

func (e *ConnectionLostError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrConnectionLost}
	}
	return []error{ErrConnectionLost, e.Cause}
}

// ProtocolViolationError reports a well-formed packet that arrived in a
// context the protocol does not allow. Fatal violations tear the connection down.
type ProtocolViolationError struct {
	Packet   PacketType
	PacketID uint16
	Reason   string
	Fatal    bool
}

func (e *ProtocolViolationError) Error() string {
	if e.PacketID != 0 {
		return fmt.Sprintf("protocol violation: %s id %d: %s", e.Packet, e.PacketID, e.Reason)
	}
	return fmt.Sprintf("protocol violation: %s: %s", e.Packet, e.Reason)
}

// Is reports whether target is ErrProtocolViolation.
func (e *ProtocolViolationError) Is(target error) bool {
	return target == ErrProtocolViolation
}
