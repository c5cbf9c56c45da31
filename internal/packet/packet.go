// Package packet defines the closed set of MQTT control packets the broker
// understands, with decoding from framed packets and encoding to wire bytes.
package packet

import (
	"io"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/mqtt"
)

// Packet is implemented by every control packet variant.
type Packet interface {
	Type() mqtt.PacketType
	// Encode returns the complete wire representation including the fixed header.
	Encode() []byte
}

// Unknown carries any control packet the broker does not act on
// (QoS 2 flow packets, reserved types, server-to-client types sent by a client).
type Unknown struct {
	Header mqtt.FixedHeader
	Body   []byte
}

func (p *Unknown) Type() mqtt.PacketType { return p.Header.Type }

func (p *Unknown) Encode() []byte {
	return mqtt.EncodePacket(p.Header.Type, p.Header.Flags, p.Body)
}

// Decode turns a framed packet into its variant. Body errors are returned as
// *mqtt.ProtocolError.
func Decode(raw *mqtt.Packet) (Packet, error) {
	var (
		result Packet
		err    error
	)
	switch raw.Header.Type {
	case mqtt.CONNECT:
		result, err = ParseConnectPacket(raw)
	case mqtt.CONNACK:
		result, err = ParseConnAckPacket(raw)
	case mqtt.PUBLISH:
		result, err = ParsePublishPacket(raw)
	case mqtt.PUBACK:
		result, err = ParsePubAckPacket(raw)
	case mqtt.SUBSCRIBE:
		result, err = ParseSubscribePacket(raw)
	case mqtt.SUBACK:
		result, err = ParseSubAckPacket(raw)
	case mqtt.UNSUBSCRIBE:
		result, err = ParseUnsubscribePacket(raw)
	case mqtt.UNSUBACK:
		result, err = ParseUnsubAckPacket(raw)
	case mqtt.PINGREQ:
		result = &PingReq{}
	case mqtt.PINGRESP:
		result = &PingResp{}
	case mqtt.DISCONNECT:
		result = &Disconnect{}
	default:
		result = &Unknown{Header: *raw.Header, Body: raw.Payload.Context}
	}
	if err != nil {
		return nil, mqtt.NewProtocolError(raw.Header.Type, err)
	}
	return result, nil
}

// Read reads and decodes the next packet from r. A *mqtt.ProtocolError means
// the packet was consumed and can be skipped; any other error leaves the
// stream unusable.
func Read(r io.Reader) (Packet, error) {
	return ReadLimit(r, 0)
}

// ReadLimit is Read with a maximum remaining length; see mqtt.ReadPacketLimit.
func ReadLimit(r io.Reader, maxSize int) (Packet, error) {
	raw, err := mqtt.ReadPacketLimit(r, maxSize)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}
