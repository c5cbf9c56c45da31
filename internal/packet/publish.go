package packet

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/mqtt"
)

type PublishPacketFlag struct {
	RetryFlag bool
	QoS       byte
	Retain    bool
}

type Publish struct {
	PacketFlag PublishPacketFlag
	Topic      string
	PacketID   uint16
	Payload    []byte
}

func (p *Publish) Type() mqtt.PacketType { return mqtt.PUBLISH }

func (p *Publish) Encode() []byte {
	var flags byte
	if p.PacketFlag.RetryFlag {
		flags |= 0x08
	}
	flags |= (p.PacketFlag.QoS & 0x03) << 1
	if p.PacketFlag.Retain {
		flags |= 0x01
	}
	body := make([]byte, 0, 4+len(p.Topic)+len(p.Payload))
	body = appendString(body, p.Topic)
	if p.PacketFlag.QoS > 0 {
		body = append(body, mqtt.UInt16ToByte(p.PacketID)...)
	}
	body = append(body, p.Payload...)
	return mqtt.EncodePacket(mqtt.PUBLISH, flags, body)
}

// Forward returns the QoS 0 copy of p that is fanned out to subscribers:
// same topic and payload, no packet identifier.
func (p *Publish) Forward() *Publish {
	return &Publish{Topic: p.Topic, Payload: p.Payload}
}

func ParsePublishPacket(packet *mqtt.Packet) (*Publish, error) {
	result := &Publish{
		PacketFlag: PublishPacketFlag{
			RetryFlag: (packet.Header.Flags&0x08)>>3 == 1,
			QoS:       packet.Header.QoS(),
			Retain:    packet.Header.Flags&0x01 == 1,
		},
	}

	if result.PacketFlag.QoS == 3 {
		return nil, fmt.Errorf("the QoS Level must not set to 3")
	}

	topic, err := readPacketString(packet.Payload)
	if err != nil {
		return nil, fmt.Errorf("error occured when reading topic name, details: %w", err)
	}
	if topic == "" {
		return nil, fmt.Errorf("topic name must not be empty")
	}
	result.Topic = topic

	if result.PacketFlag.QoS > 0 {
		if result.PacketID, err = readPacketUint16(packet.Payload); err != nil {
			return nil, fmt.Errorf("error occured when reading packet ID, details: %w", err)
		}
	}

	payload, err := readPacketBytes(packet.Payload, packet.Payload.ContextLen-packet.Payload.CurrentPtr)
	if err != nil {
		return nil, fmt.Errorf("error occured when reading payload, details: %w", err)
	}
	result.Payload = payload

	return result, nil
}

type PubAck struct {
	PacketID uint16
}

func (p *PubAck) Type() mqtt.PacketType { return mqtt.PUBACK }

func (p *PubAck) Encode() []byte {
	return mqtt.EncodePacket(mqtt.PUBACK, 0, mqtt.UInt16ToByte(p.PacketID))
}

func ParsePubAckPacket(packet *mqtt.Packet) (*PubAck, error) {
	id, err := readPacketUint16(packet.Payload)
	if err != nil {
		return nil, fmt.Errorf("error occured when reading packet ID, details: %w", err)
	}
	return &PubAck{PacketID: id}, nil
}
