package mqttv3

import (
	"io"
)

// PublishPacket represents an MQTT PUBLISH packet.
type PublishPacket struct {
	// Topic is the topic name.
	Topic string

	// Payload is the application message. A nil and an empty payload encode
	// identically; decoding always yields a non-nil slice.
	Payload []byte

	// QoS is the quality of service level.
	QoS QoS

	// Retain indicates if the message should be retained.
	Retain bool

	// DUP indicates if this is a retransmission.
	DUP bool

	// PacketID is the packet identifier. It must be zero for QoS 0.
	PacketID uint16
}

// NewPublishPacket creates a validated PUBLISH packet.
func NewPublishPacket(topic string, payload []byte, qos QoS, retain, dup bool, packetID uint16) (*PublishPacket, error) {
	p := &PublishPacket{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retain:   retain,
		DUP:      dup,
		PacketID: packetID,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Type returns the packet type.
func (p *PublishPacket) Type() PacketType {
	return PacketPUBLISH
}

// GetPacketID returns the packet identifier.
func (p *PublishPacket) GetPacketID() uint16 {
	return p.PacketID
}

func (p *PublishPacket) flags() byte {
	var flags byte
	if p.DUP {
		flags |= publishFlagDUP
	}
	flags |= (byte(p.QoS) << 1) & publishFlagQoS
	if p.Retain {
		flags |= publishFlagRetain
	}
	return flags
}

// Encode writes the packet to the writer.
func (p *PublishPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	buf := getBytesBuffer()
	defer putBytesBuffer(buf)

	if _, err := encodeString(buf, p.Topic); err != nil {
		return 0, malformed(PacketPUBLISH, "topic", err)
	}

	if p.QoS > QoS0 {
		encodeUint16(buf, p.PacketID)
	}

	buf.Write(p.Payload)

	return encodeFrame(w, PacketPUBLISH, p.flags(), buf.Bytes())
}

// Decode reads the packet from the reader.
func (p *PublishPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketPUBLISH {
		return 0, ErrInvalidPacketType
	}

	p.DUP = header.DUP()
	p.QoS = header.QoS()
	p.Retain = header.Retain()

	if !p.QoS.Valid() {
		return 0, malformed(PacketPUBLISH, "qos", ErrInvalidQoS)
	}

	var totalRead int

	topic, n, err := decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, malformed(PacketPUBLISH, "topic", err)
	}
	p.Topic = topic

	if p.QoS > QoS0 {
		p.PacketID, n, err = decodeUint16(r)
		totalRead += n
		if err != nil {
			return totalRead, malformed(PacketPUBLISH, "packet_id", err)
		}
	}

	payloadLen := int(header.RemainingLength) - totalRead
	if payloadLen < 0 {
		return totalRead, malformed(PacketPUBLISH, "topic", ErrPacketTruncated)
	}

	p.Payload = make([]byte, payloadLen)
	if payloadLen > 0 {
		n, err = io.ReadFull(r, p.Payload)
		totalRead += n
		if err != nil {
			return totalRead, malformed(PacketPUBLISH, "payload", err)
		}
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *PublishPacket) Validate() error {
	if !p.QoS.Valid() {
		return malformed(PacketPUBLISH, "qos", ErrInvalidQoS)
	}

	if p.QoS == QoS0 {
		if p.PacketID != 0 {
			return malformed(PacketPUBLISH, "packet_id", ErrUnexpectedPacketID)
		}
		if p.DUP {
			return malformed(PacketPUBLISH, "dup", ErrInvalidPacketFlags)
		}
	} else if p.PacketID == 0 {
		return malformed(PacketPUBLISH, "packet_id", ErrInvalidPacketID)
	}

	if err := ValidateTopicName(p.Topic); err != nil {
		return malformed(PacketPUBLISH, "topic", err)
	}

	return nil
}

// ToMessage converts the PUBLISH packet to a Message.
func (p *PublishPacket) ToMessage() *Message {
	return &Message{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       p.QoS,
		Retain:    p.Retain,
		Duplicate: p.DUP,
		PacketID:  p.PacketID,
	}
}

// withDUP returns a copy of the packet flagged as a retransmission.
func (p *PublishPacket) withDUP() *PublishPacket {
	dup := *p
	dup.DUP = p.QoS > QoS0
	return &dup
}
