package mqttv3

import (
	"errors"
	"io"
)

// CONNECT packet constants.
const (
	protocolName  = "MQTT"
	protocolLevel = 4
)

// Connect flag bits.
const (
	connectFlagReserved     = 0x01
	connectFlagCleanSession = 0x02
	connectFlagWillFlag     = 0x04
	connectFlagWillQoS      = 0x18
	connectFlagWillRetain   = 0x20
	connectFlagPasswordFlag = 0x40
	connectFlagUsernameFlag = 0x80
)

// CONNECT packet errors.
var (
	ErrInvalidProtocolName    = errors.New("invalid protocol name")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol level")
	ErrInvalidConnectFlags    = errors.New("invalid connect flags")
	ErrClientIDRequired       = errors.New("client ID required when clean session is false")
	ErrPasswordWithoutUser    = errors.New("password requires a username")
)

// Will is the message the broker publishes when the client disconnects uncleanly.
type Will struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}

// ConnectPacket opens an MQTT 3.1.1 session.
type ConnectPacket struct {
	// ClientID is the client identifier. Empty requires CleanSession.
	ClientID string

	// CleanSession discards any previous session state on the broker.
	CleanSession bool

	// KeepAlive is the keep alive interval in seconds, zero disables it.
	KeepAlive uint16

	// Will is optional.
	Will *Will

	// Username is sent when non-empty.
	Username string

	// Password is sent when non-nil and requires Username.
	Password []byte
}

// Type returns the packet type.
func (p *ConnectPacket) Type() PacketType {
	return PacketCONNECT
}

func (p *ConnectPacket) flags() byte {
	var flags byte
	if p.CleanSession {
		flags |= connectFlagCleanSession
	}
	if p.Will != nil {
		flags |= connectFlagWillFlag
		flags |= (byte(p.Will.QoS) << 3) & connectFlagWillQoS
		if p.Will.Retain {
			flags |= connectFlagWillRetain
		}
	}
	if p.Username != "" {
		flags |= connectFlagUsernameFlag
	}
	if p.Password != nil {
		flags |= connectFlagPasswordFlag
	}
	return flags
}

// Encode writes the packet to the writer.
func (p *ConnectPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	buf := getBytesBuffer()
	defer putBytesBuffer(buf)

	encodeString(buf, protocolName)
	buf.Write([]byte{protocolLevel, p.flags()})
	encodeUint16(buf, p.KeepAlive)

	if _, err := encodeString(buf, p.ClientID); err != nil {
		return 0, malformed(PacketCONNECT, "client_id", err)
	}

	if p.Will != nil {
		if _, err := encodeString(buf, p.Will.Topic); err != nil {
			return 0, malformed(PacketCONNECT, "will_topic", err)
		}
		if _, err := encodeBinary(buf, p.Will.Payload); err != nil {
			return 0, malformed(PacketCONNECT, "will_payload", err)
		}
	}

	if p.Username != "" {
		if _, err := encodeString(buf, p.Username); err != nil {
			return 0, malformed(PacketCONNECT, "username", err)
		}
	}

	if p.Password != nil {
		if _, err := encodeBinary(buf, p.Password); err != nil {
			return 0, malformed(PacketCONNECT, "password", err)
		}
	}

	return encodeFrame(w, PacketCONNECT, 0x00, buf.Bytes())
}

// Decode reads the packet from the reader.
func (p *ConnectPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNECT {
		return 0, ErrInvalidPacketType
	}

	var totalRead int

	name, n, err := decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, malformed(PacketCONNECT, "protocol_name", err)
	}
	if name != protocolName {
		return totalRead, malformed(PacketCONNECT, "protocol_name", ErrInvalidProtocolName)
	}

	var hdr [2]byte
	n, err = io.ReadFull(r, hdr[:])
	totalRead += n
	if err != nil {
		return totalRead, malformed(PacketCONNECT, "protocol_level", err)
	}
	if hdr[0] != protocolLevel {
		return totalRead, malformed(PacketCONNECT, "protocol_level", ErrInvalidProtocolVersion)
	}

	flags := hdr[1]
	if flags&connectFlagReserved != 0 {
		return totalRead, malformed(PacketCONNECT, "connect_flags", ErrReservedBitSet)
	}
	if flags&connectFlagWillFlag == 0 && flags&(connectFlagWillQoS|connectFlagWillRetain) != 0 {
		return totalRead, malformed(PacketCONNECT, "connect_flags", ErrInvalidConnectFlags)
	}
	if flags&connectFlagPasswordFlag != 0 && flags&connectFlagUsernameFlag == 0 {
		return totalRead, malformed(PacketCONNECT, "connect_flags", ErrPasswordWithoutUser)
	}
	p.CleanSession = flags&connectFlagCleanSession != 0

	p.KeepAlive, n, err = decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, malformed(PacketCONNECT, "keep_alive", err)
	}

	p.ClientID, n, err = decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, malformed(PacketCONNECT, "client_id", err)
	}

	if flags&connectFlagWillFlag != 0 {
		will := &Will{
			QoS:    QoS((flags & connectFlagWillQoS) >> 3),
			Retain: flags&connectFlagWillRetain != 0,
		}

		will.Topic, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, malformed(PacketCONNECT, "will_topic", err)
		}

		will.Payload, n, err = decodeBinary(r)
		totalRead += n
		if err != nil {
			return totalRead, malformed(PacketCONNECT, "will_payload", err)
		}

		p.Will = will
	}

	if flags&connectFlagUsernameFlag != 0 {
		p.Username, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, malformed(PacketCONNECT, "username", err)
		}
	}

	if flags&connectFlagPasswordFlag != 0 {
		p.Password, n, err = decodeBinary(r)
		totalRead += n
		if err != nil {
			return totalRead, malformed(PacketCONNECT, "password", err)
		}
	}

	return totalRead, checkConsumed(PacketCONNECT, header, totalRead)
}

// Validate validates the packet contents.
func (p *ConnectPacket) Validate() error {
	if p.ClientID == "" && !p.CleanSession {
		return malformed(PacketCONNECT, "client_id", ErrClientIDRequired)
	}

	if err := validateString(p.ClientID); err != nil {
		return malformed(PacketCONNECT, "client_id", err)
	}

	if p.Will != nil {
		if !p.Will.QoS.Valid() {
			return malformed(PacketCONNECT, "will_qos", ErrInvalidQoS)
		}
		if err := ValidateTopicName(p.Will.Topic); err != nil {
			return malformed(PacketCONNECT, "will_topic", err)
		}
	}

	if p.Password != nil && p.Username == "" {
		return malformed(PacketCONNECT, "password", ErrPasswordWithoutUser)
	}

	return nil
}
