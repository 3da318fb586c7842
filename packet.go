package mqttv3

import (
	"errors"
	"fmt"
	"io"
)

// Packet is the interface that all MQTT control packets implement.
//
// The set of implementations is closed: ConnectPacket, ConnackPacket,
// PublishPacket, PubackPacket, PubrecPacket, PubrelPacket, PubcompPacket,
// SubscribePacket, SubackPacket, UnsubscribePacket, UnsubackPacket,
// PingreqPacket, PingrespPacket and DisconnectPacket.
type Packet interface {
	// Type returns the packet type.
	Type() PacketType

	// Encode writes the packet, fixed header included, to the writer.
	// Returns the number of bytes written.
	Encode(w io.Writer) (int, error)

	// Decode reads the packet body from the reader.
	// The fixed header should already be decoded.
	// Returns the number of bytes read.
	Decode(r io.Reader, header FixedHeader) (int, error)

	// Validate validates the packet contents.
	Validate() error
}

// PacketWithID is implemented by packets that carry a packet identifier.
type PacketWithID interface {
	Packet

	// GetPacketID returns the packet identifier.
	GetPacketID() uint16
}

// ErrMalformedPacket is matched by every MalformedPacketError.
var ErrMalformedPacket = errors.New("malformed packet")

// MalformedPacketError reports a packet that cannot be represented on the wire,
// either because it was constructed with an invalid field combination or
// because its bytes do not parse as the declared type.
type MalformedPacketError struct {
	Packet PacketType
	Field  string
	Err    error
}

func (e *MalformedPacketError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed %s packet: %v", e.Packet, e.Err)
	}
	return fmt.Sprintf("malformed %s packet: %s: %v", e.Packet, e.Field, e.Err)
}

func (e *MalformedPacketError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMalformedPacket.
func (e *MalformedPacketError) Is(target error) bool {
	return target == ErrMalformedPacket
}

// malformed wraps err as a MalformedPacketError unless it already is one.
func malformed(t PacketType, field string, err error) error {
	if err == nil {
		return nil
	}

	var me *MalformedPacketError
	if errors.As(err, &me) {
		return err
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = ErrPacketTruncated
	}

	return &MalformedPacketError{Packet: t, Field: field, Err: err}
}

// Packet body errors.
var (
	ErrPacketTruncated        = errors.New("packet body shorter than declared")
	ErrPacketTrailingBytes    = errors.New("packet body longer than its fields")
	ErrInvalidPacketID        = errors.New("packet identifier must be non-zero")
	ErrUnexpectedPacketID     = errors.New("packet identifier not allowed for QoS 0")
	ErrInvalidQoS             = errors.New("invalid QoS level")
	ErrInvalidRemainingLength = errors.New("invalid remaining length for packet type")
	ErrReservedBitSet         = errors.New("reserved bit set")
)

// checkConsumed verifies that a decoder read exactly the declared body.
func checkConsumed(t PacketType, header FixedHeader, n int) error {
	if uint32(n) < header.RemainingLength {
		return &MalformedPacketError{Packet: t, Err: ErrPacketTrailingBytes}
	}
	return nil
}

// Message represents an MQTT application message.
type Message struct {
	// Topic is the topic name the message was published to.
	Topic string

	// Payload is the application message payload.
	Payload []byte

	// QoS is the quality of service the message was delivered with.
	QoS QoS

	// Retain indicates if this is a retained message.
	Retain bool

	// Duplicate is set when the broker flagged the delivery as a possible redelivery.
	Duplicate bool

	// PacketID is the identifier of the delivering PUBLISH, zero for QoS 0.
	PacketID uint16
}

// Clone creates a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}

	clone := *m
	if m.Payload != nil {
		clone.Payload = make([]byte, len(m.Payload))
		copy(clone.Payload, m.Payload)
	}

	return &clone
}
