package mqttv3

import (
	"errors"
	"io"
)

// ErrNoSubscriptions is returned for SUBSCRIBE and UNSUBSCRIBE packets without topic filters.
var ErrNoSubscriptions = errors.New("at least one topic filter required")

// subscriptionOptionsReserved are the upper six bits of the requested QoS byte.
const subscriptionOptionsReserved = 0xFC

// Subscription is a topic filter with the maximum QoS requested for it.
type Subscription struct {
	TopicFilter string
	QoS         QoS
}

// SubscribePacket represents an MQTT SUBSCRIBE packet.
type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription
}

// NewSubscribePacket creates a validated SUBSCRIBE packet.
func NewSubscribePacket(packetID uint16, subs ...Subscription) (*SubscribePacket, error) {
	p := &SubscribePacket{PacketID: packetID, Subscriptions: subs}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Type returns the packet type.
func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

// GetPacketID returns the packet identifier.
func (p *SubscribePacket) GetPacketID() uint16 { return p.PacketID }

// Encode writes the packet to the writer.
func (p *SubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	buf := getBytesBuffer()
	defer putBytesBuffer(buf)

	encodeUint16(buf, p.PacketID)

	for _, sub := range p.Subscriptions {
		if _, err := encodeString(buf, sub.TopicFilter); err != nil {
			return 0, malformed(PacketSUBSCRIBE, "topic_filter", err)
		}
		buf.Write([]byte{byte(sub.QoS)})
	}

	return encodeFrame(w, PacketSUBSCRIBE, flagsRequired, buf.Bytes())
}

// Decode reads the packet from the reader.
func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != flagsRequired {
		return 0, malformed(PacketSUBSCRIBE, "flags", ErrInvalidPacketFlags)
	}

	var totalRead int

	id, n, err := decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, malformed(PacketSUBSCRIBE, "packet_id", err)
	}
	p.PacketID = id

	p.Subscriptions = nil
	for totalRead < int(header.RemainingLength) {
		filter, n, err := decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, malformed(PacketSUBSCRIBE, "topic_filter", err)
		}

		var opt [1]byte
		n, err = io.ReadFull(r, opt[:])
		totalRead += n
		if err != nil {
			return totalRead, malformed(PacketSUBSCRIBE, "qos", err)
		}
		if opt[0]&subscriptionOptionsReserved != 0 {
			return totalRead, malformed(PacketSUBSCRIBE, "qos", ErrReservedBitSet)
		}

		p.Subscriptions = append(p.Subscriptions, Subscription{TopicFilter: filter, QoS: QoS(opt[0])})
	}

	return totalRead, p.Validate()
}

// Validate validates the packet contents.
func (p *SubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return malformed(PacketSUBSCRIBE, "packet_id", ErrInvalidPacketID)
	}
	if len(p.Subscriptions) == 0 {
		return malformed(PacketSUBSCRIBE, "subscriptions", ErrNoSubscriptions)
	}
	for _, sub := range p.Subscriptions {
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return malformed(PacketSUBSCRIBE, "topic_filter", err)
		}
		if !sub.QoS.Valid() {
			return malformed(PacketSUBSCRIBE, "qos", ErrInvalidQoS)
		}
	}
	return nil
}
