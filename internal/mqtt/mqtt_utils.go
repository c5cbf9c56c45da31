package mqtt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxRemainingLength is the largest value the 4 byte remaining length can hold.
const MaxRemainingLength = 268435455

// bodyChunkSize caps the buffer allocated up front for a packet body.
const bodyChunkSize = 4096

var (
	ErrRemainingLengthOverflow = errors.New("the remaining length exceeds the 4 byte limit")
	ErrPacketTooLarge          = errors.New("packet exceeds the maximum size")
)

// ProtocolError reports a packet that was framed correctly but whose header
// flags or body are not acceptable. The stream stays in sync after it.
type ProtocolError struct {
	Type PacketType
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %s packet: %v", e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError wraps err as a ProtocolError for packet type pt.
func NewProtocolError(pt PacketType, err error) *ProtocolError {
	return &ProtocolError{Type: pt, Err: err}
}

func UInt16ToByte(number uint16) []byte {
	result := make([]byte, 2)
	binary.BigEndian.PutUint16(result, number)
	return result
}

func ByteToUInt16(bytes []byte) uint16 {
	if len(bytes) == 0 {
		return 0
	}
	if len(bytes) == 1 {
		return uint16(bytes[0])
	}
	return binary.BigEndian.Uint16(bytes)
}

func ReadByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadPacket reads exactly one control packet from r. A packet whose flags
// are invalid for its type is consumed entirely and reported as a
// *ProtocolError together with the packet, so callers may skip it.
func ReadPacket(r io.Reader) (*Packet, error) {
	return ReadPacketLimit(r, 0)
}

// ReadPacketLimit is ReadPacket with a bound on the remaining length. A larger
// packet fails with ErrPacketTooLarge before its body is read. maxSize <= 0
// leaves only the protocol limit.
func ReadPacketLimit(r io.Reader, maxSize int) (*Packet, error) {
	typeAndFlags, err := ReadByte(r)
	if err != nil {
		return nil, err
	}

	remaining, err := DecodeRemainingLength(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	if maxSize > 0 && remaining > maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPacketTooLarge, remaining, maxSize)
	}

	payload, err := readBody(r, remaining)
	if err != nil {
		return nil, err
	}

	header := &FixedHeader{
		Type:            PacketType(typeAndFlags >> 4),
		Flags:           typeAndFlags & 0x0F,
		RemainingLength: remaining,
	}
	packet := &Packet{
		Header: header,
		Payload: &Payload{
			Context:    payload,
			ContextLen: len(payload),
			CurrentPtr: 0,
		},
	}

	if !ValidateFlags(header.Type, header.Flags) {
		return packet, NewProtocolError(header.Type, fmt.Errorf("flags %04b are not valid", header.Flags))
	}

	return packet, nil
}

// readBody reads length bytes. The buffer grows with the bytes that actually
// arrive, not with the length the client announced.
func readBody(r io.Reader, length int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(min(length, bodyChunkSize))
	if _, err := io.CopyN(&buf, r, int64(length)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeRemainingLength(r io.Reader) (int, error) {
	multiplier := 1
	value := 0
	for i := 0; i < 4; i++ {
		encodedByte, err := ReadByte(r)
		if err != nil {
			return 0, err
		}
		value += int(encodedByte&127) * multiplier
		multiplier *= 128
		if (encodedByte & 128) == 0 {
			return value, nil
		}
	}
	return 0, ErrRemainingLengthOverflow
}

func EncodeRemainingLength(x int) []byte {
	if x <= 0 {
		return []byte{0x00}
	}
	var buf [4]byte
	i := 0
	for x > 0 && i < 4 {
		buf[i] = byte(x % 128)
		if x /= 128; x > 0 {
			buf[i] |= 128
		}
		i++
	}
	return buf[:i]
}

// EncodePacket prefixes body with a fixed header for pt and flags.
func EncodePacket(pt PacketType, flags byte, body []byte) []byte {
	length := EncodeRemainingLength(len(body))
	packet := make([]byte, 0, 1+len(length)+len(body))
	packet = append(packet, byte(pt)<<4|flags&0x0F)
	packet = append(packet, length...)
	packet = append(packet, body...)
	return packet
}

func ValidateFlags(pt PacketType, flags byte) bool {
	allowed, ok := allowedFlags[pt]
	if !ok {
		// reserved types carry no flag rules; they are rejected later by type
		return true
	}
	return (flags & ^allowed) == 0
}

func (p *Payload) CheckRemainingLength() bool {
	return p.CurrentPtr < p.ContextLen
}
