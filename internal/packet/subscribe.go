package packet

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/mqtt"
)

type SubscribeState byte

const (
	SuccessQos0 SubscribeState = iota
	SuccessQos1
	SuccessQos2
	Failure SubscribeState = 0x80
)

// MaxGrantedQoS is the highest QoS level the broker grants.
const MaxGrantedQoS byte = 1

type TopicSubscription struct {
	Topic string
	QoS   byte
}

type Subscribe struct {
	// QoS is taken from the fixed header flags; a compliant client sends 1.
	QoS           byte
	PacketID      uint16
	Subscriptions []TopicSubscription
}

func (p *Subscribe) Type() mqtt.PacketType { return mqtt.SUBSCRIBE }

func (p *Subscribe) Encode() []byte {
	body := mqtt.UInt16ToByte(p.PacketID)
	for _, sub := range p.Subscriptions {
		body = appendString(body, sub.Topic)
		body = append(body, sub.QoS&0x03)
	}
	return mqtt.EncodePacket(mqtt.SUBSCRIBE, (p.QoS&0x03)<<1, body)
}

// Granted returns one granted QoS per requested topic, capped at MaxGrantedQoS.
func (p *Subscribe) Granted() []byte {
	granted := make([]byte, len(p.Subscriptions))
	for i, sub := range p.Subscriptions {
		granted[i] = min(sub.QoS, MaxGrantedQoS)
	}
	return granted
}

func ParseSubscribePacket(packet *mqtt.Packet) (*Subscribe, error) {
	result := &Subscribe{
		QoS:           packet.Header.QoS(),
		Subscriptions: make([]TopicSubscription, 0),
	}

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
		if topicFilter == "" {
			return nil, errors.New("topic filter must not be empty")
		}
		qos, err := readPacketByte(packet.Payload)
		if err != nil {
			return nil, fmt.Errorf("error occured when reading qos level, details: %w", err)
		}
		result.Subscriptions = append(result.Subscriptions, TopicSubscription{
			Topic: topicFilter,
			QoS:   qos & 0x03,
		})
	}

	if len(result.Subscriptions) == 0 {
		return nil, errors.New("subscribe packet carries no topic filter")
	}

	return result, nil
}

type SubAck struct {
	PacketID uint16
	Granted  []byte
}

func (p *SubAck) Type() mqtt.PacketType { return mqtt.SUBACK }

func (p *SubAck) Encode() []byte {
	return NewSubAckPacket(p.PacketID, p.Granted)
}

func NewSubAckPacket(packetID uint16, granted []byte) []byte {
	payload := make([]byte, 0, 2+len(granted))
	payload = append(payload, mqtt.UInt16ToByte(packetID)...)
	payload = append(payload, granted...)
	return mqtt.EncodePacket(mqtt.SUBACK, 0, payload)
}

func ParseSubAckPacket(packet *mqtt.Packet) (*SubAck, error) {
	packetID, err := readPacketUint16(packet.Payload)
	if err != nil {
		return nil, err
	}
	granted, _ := readPacketBytes(packet.Payload, packet.Payload.ContextLen-packet.Payload.CurrentPtr)
	return &SubAck{PacketID: packetID, Granted: append([]byte(nil), granted...)}, nil
}
