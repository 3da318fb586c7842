package mqttv3

import (
	"io"
)

// ackRemainingLength is the body size of every packet that carries only a packet identifier.
const ackRemainingLength = 2

// encodeAck encodes a packet whose body is a single packet identifier
// (PUBACK, PUBREC, PUBREL, PUBCOMP, UNSUBACK).
func encodeAck(w io.Writer, packetType PacketType, flags byte, packetID uint16) (int, error) {
	if packetID == 0 {
		return 0, malformed(packetType, "packet_id", ErrInvalidPacketID)
	}

	body := [ackRemainingLength]byte{byte(packetID >> 8), byte(packetID)}
	return encodeFrame(w, packetType, flags, body[:])
}

// decodeAck decodes the packet identifier of an acknowledgment packet.
func decodeAck(r io.Reader, header FixedHeader, packetType PacketType) (uint16, int, error) {
	if header.PacketType != packetType {
		return 0, 0, ErrInvalidPacketType
	}

	if header.RemainingLength != ackRemainingLength {
		return 0, 0, malformed(packetType, "remaining_length", ErrInvalidRemainingLength)
	}

	id, n, err := decodeUint16(r)
	if err != nil {
		return 0, n, malformed(packetType, "packet_id", err)
	}

	if id == 0 {
		return 0, n, malformed(packetType, "packet_id", ErrInvalidPacketID)
	}

	return id, n, nil
}

// validateAckID is the Validate body shared by acknowledgment packets.
func validateAckID(packetType PacketType, id uint16) error {
	if id == 0 {
		return malformed(packetType, "packet_id", ErrInvalidPacketID)
	}
	return nil
}
