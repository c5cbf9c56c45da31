package packet

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/mqtt"
)

type Unsubscribe struct {
	PacketID uint16
	Topics   []string
}

func (p *Unsubscribe) Type() mqtt.PacketType { return mqtt.UNSUBSCRIBE }

func (p *Unsubscribe) Encode() []byte {
	body := mqtt.UInt16ToByte(p.PacketID)
	for _, topic := range p.Topics {
		body = appendString(body, topic)
	}
	return mqtt.EncodePacket(mqtt.UNSUBSCRIBE, 0x02, body)
}

func ParseUnsubscribePacket(packet *mqtt.Packet) (*Unsubscribe, error) {
	result := &Unsubscribe{}

	packetID, err := readPacketUint16(packet.Payload)
	if err != nil {
		return nil, fmt.Errorf("error occured when reading packet ID, details: %w", err)
	}
	result.PacketID = packetID

	for packet.Payload.CheckRemainingLength() {
		topicFilter, err := readPacketString(packet.Payload)
		if err != nil {
			return nil, fmt.Errorf("error occured when reading topic filter, details: %w", err)
		}
		result.Topics = append(result.Topics, topicFilter)
	}

	if len(result.Topics) == 0 {
		return nil, errors.New("unsubscribe packet carries no topic filter")
	}

	return result, nil
}

type UnsubAck struct {
	PacketID uint16
}

func (p *UnsubAck) Type() mqtt.PacketType { return mqtt.UNSUBACK }

func (p *UnsubAck) Encode() []byte {
	return mqtt.EncodePacket(mqtt.UNSUBACK, 0, mqtt.UInt16ToByte(p.PacketID))
}

func ParseUnsubAckPacket(packet *mqtt.Packet) (*UnsubAck, error) {
	packetID, err := readPacketUint16(packet.Payload)
	if err != nil {
		return nil, err
	}
	return &UnsubAck{PacketID: packetID}, nil
}
