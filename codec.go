package mqttv3

import (
	"bytes"
	"errors"
	"io"
)

var (
	ErrPacketTooLarge    = errors.New("mqttv3: packet exceeds maximum size")
	ErrUnknownPacketType = errors.New("mqttv3: unknown packet type")

	// ErrIncomplete is returned by Decoder.Decode while the buffered bytes do
	// not yet hold a complete frame. It is a signal, not a failure.
	ErrIncomplete = errors.New("mqttv3: incomplete packet")
)

// newPacket returns an empty packet of the given type.
func newPacket(t PacketType) (Packet, error) {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK:
		return &PubackPacket{}, nil
	case PacketPUBREC:
		return &PubrecPacket{}, nil
	case PacketPUBREL:
		return &PubrelPacket{}, nil
	case PacketPUBCOMP:
		return &PubcompPacket{}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ:
		return &PingreqPacket{}, nil
	case PacketPINGRESP:
		return &PingrespPacket{}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	default:
		return nil, malformed(t, "packet_type", ErrUnknownPacketType)
	}
}

// decodeBody decodes a complete packet body whose fixed header has been parsed.
func decodeBody(header FixedHeader, body []byte) (Packet, error) {
	if err := header.ValidateFlags(); err != nil {
		return nil, malformed(header.PacketType, "flags", err)
	}

	packet, err := newPacket(header.PacketType)
	if err != nil {
		return nil, err
	}

	reader := getBytesReader(body)
	defer putBytesReader(reader)

	n, err := packet.Decode(reader, header)
	if err != nil {
		return nil, malformed(header.PacketType, "", err)
	}
	if n != len(body) {
		return nil, &MalformedPacketError{Packet: header.PacketType, Err: ErrPacketTrailingBytes}
	}

	if err := packet.Validate(); err != nil {
		return nil, malformed(header.PacketType, "", err)
	}

	return packet, nil
}

// ReadPacket reads a complete MQTT packet from the reader.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func ReadPacket(r io.Reader, maxSize uint32) (Packet, int, error) {
	var header FixedHeader
	n, err := header.Decode(r)
	if err != nil {
		if n == 0 {
			return nil, n, err
		}
		return nil, n, malformed(header.PacketType, "fixed_header", err)
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	body := make([]byte, header.RemainingLength)
	if header.RemainingLength > 0 {
		rn, err := io.ReadFull(r, body)
		n += rn
		if err != nil {
			return nil, n, err
		}
	}

	packet, err := decodeBody(header, body)
	if err != nil {
		return nil, n, err
	}

	return packet, n, nil
}

// WritePacket writes a complete MQTT packet to the writer.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func WritePacket(w io.Writer, packet Packet, maxSize uint32) (int, error) {
	data, err := EncodePacket(packet)
	if err != nil {
		return 0, err
	}

	if maxSize > 0 && uint32(len(data)) > maxSize {
		return 0, ErrPacketTooLarge
	}

	return w.Write(data)
}

// EncodePacket returns the exact wire bytes of packet.
func EncodePacket(packet Packet) ([]byte, error) {
	if err := packet.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := packet.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// encodeFrame writes the fixed header for body followed by body.
func encodeFrame(w io.Writer, packetType PacketType, flags byte, body []byte) (int, error) {
	if len(body) > maxVarint {
		return 0, malformed(packetType, "remaining_length", ErrRemainingLengthTooLarge)
	}

	header := FixedHeader{
		PacketType:      packetType,
		Flags:           flags,
		RemainingLength: uint32(len(body)),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	if len(body) == 0 {
		return total, nil
	}

	n, err := w.Write(body)
	return total + n, err
}

// Decoder turns a byte stream into packets incrementally.
//
// Bytes are appended with Write as they arrive; Decode returns the next packet
// once its whole frame is buffered and ErrIncomplete before that. The fixed
// header of a partial frame is parsed once and remembered, and consumed frames
// are discarded, so the decoder never holds more than one frame plus whatever
// the caller wrote beyond it. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	header  FixedHeader
	hdrLen  int
	maxSize uint32
	err     error
}

// NewDecoder creates a decoder. If maxSize is greater than 0, frames whose
// remaining length exceeds it are rejected before their body is buffered.
func NewDecoder(maxSize uint32) *Decoder {
	return &Decoder{maxSize: maxSize}
}

// Write appends stream bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes held but not yet decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards all buffered bytes and any sticky error.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.hdrLen = 0
	d.err = nil
}

// Decode returns the next complete packet.
//
// It returns ErrIncomplete when more bytes are needed. Any other error is a
// *MalformedPacketError and is sticky: framing can no longer be trusted.
func (d *Decoder) Decode() (Packet, error) {
	if d.err != nil {
		return nil, d.err
	}

	if d.hdrLen == 0 {
		if err := d.decodeHeader(); err != nil {
			if !errors.Is(err, ErrIncomplete) {
				d.err = err
			}
			return nil, err
		}
	}

	frameLen := d.hdrLen + int(d.header.RemainingLength)
	if len(d.buf) < frameLen {
		return nil, ErrIncomplete
	}

	packet, err := decodeBody(d.header, d.buf[d.hdrLen:frameLen])

	d.buf = d.buf[:copy(d.buf, d.buf[frameLen:])]
	d.hdrLen = 0

	if err != nil {
		d.err = err
		return nil, err
	}

	return packet, nil
}

// decodeHeader rejects a bad first byte as soon as it is buffered.
func (d *Decoder) decodeHeader() error {
	if len(d.buf) == 0 {
		return ErrIncomplete
	}

	packetType := PacketType(d.buf[0] >> 4)
	if !packetType.Valid() {
		return malformed(packetType, "packet_type", ErrInvalidPacketType)
	}

	header := FixedHeader{
		PacketType: packetType,
		Flags:      d.buf[0] & 0x0F,
	}

	if err := header.ValidateFlags(); err != nil {
		return malformed(packetType, "flags", err)
	}

	length, n, ok, err := parseVarint(d.buf[1:])
	if err != nil {
		return malformed(packetType, "remaining_length", err)
	}
	if !ok {
		return ErrIncomplete
	}
	header.RemainingLength = length

	if d.maxSize > 0 && length > d.maxSize {
		return malformed(packetType, "remaining_length", ErrPacketTooLarge)
	}

	d.header = header
	d.hdrLen = 1 + n
	return nil
}

// bytesReader wraps a byte slice for io.Reader interface.
type bytesReader struct {
	data []byte
	pos  int
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// bytesBuffer is a simple buffer for encoding.
type bytesBuffer struct {
	data []byte
}

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bytesBuffer) Bytes() []byte {
	return b.data
}
