package mqttv3

import (
	"errors"
	"io"
)

// ConnackCode is the CONNACK return code.
type ConnackCode byte

// CONNACK return codes.
const (
	ConnectionAccepted          ConnackCode = 0x00
	ConnectionRefusedVersion    ConnackCode = 0x01
	ConnectionRefusedIdentifier ConnackCode = 0x02
	ConnectionRefusedServer     ConnackCode = 0x03
	ConnectionRefusedBadAuth    ConnackCode = 0x04
	ConnectionRefusedNotAuth    ConnackCode = 0x05
)

// Valid returns true for the six codes defined by MQTT 3.1.1.
func (c ConnackCode) Valid() bool {
	return c <= ConnectionRefusedNotAuth
}

func (c ConnackCode) String() string {
	switch c {
	case ConnectionAccepted:
		return "connection accepted"
	case ConnectionRefusedVersion:
		return "unacceptable protocol version"
	case ConnectionRefusedIdentifier:
		return "identifier rejected"
	case ConnectionRefusedServer:
		return "server unavailable"
	case ConnectionRefusedBadAuth:
		return "bad user name or password"
	case ConnectionRefusedNotAuth:
		return "not authorized"
	default:
		return "unknown return code"
	}
}

// CONNACK packet errors.
var (
	ErrInvalidConnackFlags = errors.New("invalid CONNACK flags")
	ErrInvalidConnackCode  = errors.New("invalid CONNACK return code")
)

const (
	connackRemainingLength    = 2
	connackFlagSessionPresent = 0x01
)

// ConnackPacket is the broker's answer to CONNECT.
type ConnackPacket struct {
	// SessionPresent indicates the broker resumed a previous session.
	SessionPresent bool

	// ReturnCode is the connection result.
	ReturnCode ConnackCode
}

// Type returns the packet type.
func (p *ConnackPacket) Type() PacketType {
	return PacketCONNACK
}

// Encode writes the packet to the writer.
func (p *ConnackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var flags byte
	if p.SessionPresent {
		flags = connackFlagSessionPresent
	}

	return encodeFrame(w, PacketCONNACK, 0x00, []byte{flags, byte(p.ReturnCode)})
}

// Decode reads the packet from the reader.
func (p *ConnackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNACK {
		return 0, ErrInvalidPacketType
	}

	if header.RemainingLength != connackRemainingLength {
		return 0, malformed(PacketCONNACK, "remaining_length", ErrInvalidRemainingLength)
	}

	var buf [connackRemainingLength]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return n, malformed(PacketCONNACK, "flags", err)
	}

	if buf[0]&^connackFlagSessionPresent != 0 {
		return n, malformed(PacketCONNACK, "flags", ErrInvalidConnackFlags)
	}

	p.SessionPresent = buf[0]&connackFlagSessionPresent != 0
	p.ReturnCode = ConnackCode(buf[1])

	return n, p.Validate()
}

// Validate validates the packet contents.
func (p *ConnackPacket) Validate() error {
	if !p.ReturnCode.Valid() {
		return malformed(PacketCONNACK, "return_code", ErrInvalidConnackCode)
	}

	if p.SessionPresent && p.ReturnCode != ConnectionAccepted {
		return malformed(PacketCONNACK, "session_present", ErrInvalidConnackFlags)
	}

	return nil
}
