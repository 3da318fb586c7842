package mqttv3

import "io"

// PingreqPacket is sent by the client to keep the connection alive.
type PingreqPacket struct{}

// Type returns the packet type.
func (p *PingreqPacket) Type() PacketType { return PacketPINGREQ }

// Encode writes the packet to the writer.
func (p *PingreqPacket) Encode(w io.Writer) (int, error) {
	return encodeFrame(w, PacketPINGREQ, 0x00, nil)
}

// Decode reads the packet from the reader.
func (p *PingreqPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return 0, decodeEmpty(header, PacketPINGREQ)
}

// Validate validates the packet contents.
func (p *PingreqPacket) Validate() error {
	return nil
}

// PingrespPacket is the broker's answer to PINGREQ.
type PingrespPacket struct{}

// Type returns the packet type.
func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }

// Encode writes the packet to the writer.
func (p *PingrespPacket) Encode(w io.Writer) (int, error) {
	return encodeFrame(w, PacketPINGRESP, 0x00, nil)
}

// Decode reads the packet from the reader.
func (p *PingrespPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return 0, decodeEmpty(header, PacketPINGRESP)
}

// Validate validates the packet contents.
func (p *PingrespPacket) Validate() error {
	return nil
}

// decodeEmpty checks the header of a packet that has no body.
func decodeEmpty(header FixedHeader, packetType PacketType) error {
	if header.PacketType != packetType {
		return ErrInvalidPacketType
	}
	if header.Flags != 0x00 {
		return malformed(packetType, "flags", ErrInvalidPacketFlags)
	}
	if header.RemainingLength != 0 {
		return malformed(packetType, "remaining_length", ErrInvalidRemainingLength)
	}
	return nil
}
