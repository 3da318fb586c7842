package mqttv3

import "io"

// UnsubscribePacket represents an MQTT UNSUBSCRIBE packet.
type UnsubscribePacket struct {
	PacketID     uint16
	TopicFilters []string
}

// NewUnsubscribePacket creates a validated UNSUBSCRIBE packet.
func NewUnsubscribePacket(packetID uint16, filters ...string) (*UnsubscribePacket, error) {
	p := &UnsubscribePacket{PacketID: packetID, TopicFilters: filters}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Type returns the packet type.
func (p *UnsubscribePacket) Type() PacketType { return PacketUNSUBSCRIBE }

// GetPacketID returns the packet identifier.
func (p *UnsubscribePacket) GetPacketID() uint16 { return p.PacketID }

// Encode writes the packet to the writer.
func (p *UnsubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	buf := getBytesBuffer()
	defer putBytesBuffer(buf)

	encodeUint16(buf, p.PacketID)

	for _, filter := range p.TopicFilters {
		if _, err := encodeString(buf, filter); err != nil {
			return 0, malformed(PacketUNSUBSCRIBE, "topic_filter", err)
		}
	}

	return encodeFrame(w, PacketUNSUBSCRIBE, flagsRequired, buf.Bytes())
}

// Decode reads the packet from the reader.
func (p *UnsubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketUNSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != flagsRequired {
		return 0, malformed(PacketUNSUBSCRIBE, "flags", ErrInvalidPacketFlags)
	}

	var totalRead int

	id, n, err := decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, malformed(PacketUNSUBSCRIBE, "packet_id", err)
	}
	p.PacketID = id

	p.TopicFilters = nil
	for totalRead < int(header.RemainingLength) {
		filter, n, err := decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, malformed(PacketUNSUBSCRIBE, "topic_filter", err)
		}
		p.TopicFilters = append(p.TopicFilters, filter)
	}

	return totalRead, p.Validate()
}

// Validate validates the packet contents.
func (p *UnsubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return malformed(PacketUNSUBSCRIBE, "packet_id", ErrInvalidPacketID)
	}
	if len(p.TopicFilters) == 0 {
		return malformed(PacketUNSUBSCRIBE, "topic_filters", ErrNoSubscriptions)
	}
	for _, filter := range p.TopicFilters {
		if err := ValidateTopicFilter(filter); err != nil {
			return malformed(PacketUNSUBSCRIBE, "topic_filter", err)
		}
	}
	return nil
}
