package mqttv3

import (
	"errors"
	"io"
)

// SubackFailure is the SUBACK return code for a rejected topic filter.
const SubackFailure byte = 0x80

// ErrInvalidSubackCode is returned for SUBACK return codes other than 0, 1, 2 and 0x80.
var ErrInvalidSubackCode = errors.New("invalid SUBACK return code")

// SubackPacket acknowledges a SUBSCRIBE with one return code per requested filter.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []byte
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

// GetPacketID returns the packet identifier.
func (p *SubackPacket) GetPacketID() uint16 { return p.PacketID }

// Encode writes the packet to the writer.
func (p *SubackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	buf := getBytesBuffer()
	defer putBytesBuffer(buf)

	encodeUint16(buf, p.PacketID)
	buf.Write(p.ReturnCodes)

	return encodeFrame(w, PacketSUBACK, 0x00, buf.Bytes())
}

// Decode reads the packet from the reader.
func (p *SubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBACK {
		return 0, ErrInvalidPacketType
	}
	if header.RemainingLength < 3 {
		return 0, malformed(PacketSUBACK, "remaining_length", ErrInvalidRemainingLength)
	}

	id, n, err := decodeUint16(r)
	if err != nil {
		return n, malformed(PacketSUBACK, "packet_id", err)
	}
	p.PacketID = id

	p.ReturnCodes = make([]byte, int(header.RemainingLength)-n)
	n2, err := io.ReadFull(r, p.ReturnCodes)
	n += n2
	if err != nil {
		return n, malformed(PacketSUBACK, "return_codes", err)
	}

	return n, p.Validate()
}

// Validate validates the packet contents.
func (p *SubackPacket) Validate() error {
	if p.PacketID == 0 {
		return malformed(PacketSUBACK, "packet_id", ErrInvalidPacketID)
	}
	if len(p.ReturnCodes) == 0 {
		return malformed(PacketSUBACK, "return_codes", ErrNoSubscriptions)
	}
	for _, code := range p.ReturnCodes {
		if code != SubackFailure && !QoS(code).Valid() {
			return malformed(PacketSUBACK, "return_codes", ErrInvalidSubackCode)
		}
	}
	return nil
}

// Granted reports the QoS granted for the i-th requested filter and
// false when the broker rejected it.
func (p *SubackPacket) Granted(i int) (QoS, bool) {
	code := p.ReturnCodes[i]
	if code == SubackFailure {
		return 0, false
	}
	return QoS(code), true
}
