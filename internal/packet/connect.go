package packet

// CONNECT and CONNACK

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/mqtt"
)

type ConnectRespType byte

const (
	Accepted ConnectRespType = iota
	UnacceptableProtocol
	IdentifierRejected
	ServerUnavailable
	AuthenticationFailed
	NotAuthorized
)

// ConnectPacketFlag holds the CONNECT flag byte.
type ConnectPacketFlag struct {
	UsernameFlag    bool
	PasswordFlag    bool
	RemainFlag      bool
	QoSLevel        byte
	WillMessageFlag bool
	CleanSession    bool
}

// Connect is treated as opaque by the broker: it is always accepted. The
// fields are parsed for logging and client addressing only.
type Connect struct {
	ProtocolName  string
	ProtocolLevel byte
	ConnectFlag   ConnectPacketFlag
	KeepAlive     uint16
	ClientID      string
	WillTopic     string
	WillMessage   []byte
	Username      string
	Password      []byte
}

func (p *Connect) Type() mqtt.PacketType { return mqtt.CONNECT }

func (p *Connect) Encode() []byte {
	name := p.ProtocolName
	if name == "" {
		name = "MQTT"
	}
	level := p.ProtocolLevel
	if level == 0 {
		level = 0x04
	}
	var flags byte
	if p.ConnectFlag.UsernameFlag {
		flags |= 0x80
	}
	if p.ConnectFlag.PasswordFlag {
		flags |= 0x40
	}
	if p.ConnectFlag.RemainFlag {
		flags |= 0x20
	}
	flags |= (p.ConnectFlag.QoSLevel & 0x03) << 3
	if p.ConnectFlag.WillMessageFlag {
		flags |= 0x04
	}
	if p.ConnectFlag.CleanSession {
		flags |= 0x02
	}

	body := appendString(nil, name)
	body = append(body, level, flags)
	body = append(body, mqtt.UInt16ToByte(p.KeepAlive)...)
	body = appendString(body, p.ClientID)
	if p.ConnectFlag.WillMessageFlag {
		body = appendString(body, p.WillTopic)
		body = appendString(body, string(p.WillMessage))
	}
	if p.ConnectFlag.UsernameFlag {
		body = appendString(body, p.Username)
	}
	if p.ConnectFlag.PasswordFlag {
		body = appendString(body, string(p.Password))
	}
	return mqtt.EncodePacket(mqtt.CONNECT, 0, body)
}

// ParseConnectPacket parses the variable header and payload of a CONNECT
// packet. Protocol name and level are recorded, not enforced.
func ParseConnectPacket(packet *mqtt.Packet) (*Connect, error) {
	payload := packet.Payload
	result := &Connect{}

	protocolName, err := readPacketString(payload)
	if err != nil {
		return nil, errors.New("unable to read protocol string")
	}
	result.ProtocolName = protocolName

	if !payload.CheckRemainingLength() {
		return nil, errors.New("insufficient bytes for protocol version")
	}
	result.ProtocolLevel, _ = readPacketByte(payload)

	if !payload.CheckRemainingLength() {
		return nil, errors.New("insufficient bytes for connect flags")
	}
	connectFlag, _ := readPacketByte(payload)
	result.ConnectFlag = ConnectPacketFlag{
		UsernameFlag:    (connectFlag&0x80)>>7 == 1,
		PasswordFlag:    (connectFlag&0x40)>>6 == 1,
		RemainFlag:      (connectFlag&0x20)>>5 == 1,
		QoSLevel:        (connectFlag & 0x18) >> 3,
		WillMessageFlag: (connectFlag&0x04)>>2 == 1,
		CleanSession:    (connectFlag&0x02)>>1 == 1,
	}

	result.KeepAlive, err = readPacketUint16(payload)
	if err != nil {
		return nil, errors.New("unable to read keep alive time")
	}

	result.ClientID, err = readPacketString(payload)
	if err != nil {
		return nil, fmt.Errorf("client ID: %w", err)
	}

	if result.ConnectFlag.WillMessageFlag {
		if result.WillTopic, err = readPacketString(payload); err != nil {
			return nil, fmt.Errorf("will topic: %w", err)
		}
		willMessage, err := readPacketString(payload)
		if err != nil {
			return nil, fmt.Errorf("will content: %w", err)
		}
		result.WillMessage = []byte(willMessage)
	}

	if result.ConnectFlag.UsernameFlag {
		if result.Username, err = readPacketString(payload); err != nil {
			return nil, fmt.Errorf("username: %w", err)
		}
	}

	if result.ConnectFlag.PasswordFlag {
		password, err := readPacketString(payload)
		if err != nil {
			return nil, fmt.Errorf("password: %w", err)
		}
		result.Password = []byte(password)
	}

	return result, nil
}

type ConnAck struct {
	SessionPresent bool
	ReturnCode     ConnectRespType
}

func (p *ConnAck) Type() mqtt.PacketType { return mqtt.CONNACK }

func (p *ConnAck) Encode() []byte {
	return NewConnectAckPacket(p.SessionPresent, p.ReturnCode)
}

func NewConnectAckPacket(sessionStatus bool, returnCode ConnectRespType) []byte {
	if sessionStatus {
		return []byte{0x20, 0x02, 0x01, byte(returnCode)}
	}
	return []byte{0x20, 0x02, 0x00, byte(returnCode)}
}

func ParseConnAckPacket(packet *mqtt.Packet) (*ConnAck, error) {
	data, err := readPacketBytes(packet.Payload, 2)
	if err != nil {
		return nil, err
	}
	return &ConnAck{SessionPresent: data[0]&0x01 == 1, ReturnCode: ConnectRespType(data[1])}, nil
}
