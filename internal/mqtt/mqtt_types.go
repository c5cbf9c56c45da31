// Package mqtt implements MQTT control packet framing: the fixed header,
// remaining length coding and raw packet reading.
package mqtt

// PacketType is the MQTT control packet type carried in the high nibble of
// the first header byte.
type PacketType byte

const (
	CONNECT     PacketType = iota + 1 // client requests a connection
	CONNACK                           // connect acknowledgment
	PUBLISH                           // publish message
	PUBACK                            // publish acknowledgment (QoS 1)
	PUBREC                            // publish received (QoS 2, step 1)
	PUBREL                            // publish release (QoS 2, step 2)
	PUBCOMP                           // publish complete (QoS 2, step 3)
	SUBSCRIBE                         // subscribe request
	SUBACK                            // subscribe acknowledgment
	UNSUBSCRIBE                       // unsubscribe request
	UNSUBACK                          // unsubscribe acknowledgment
	PINGREQ                           // ping request
	PINGRESP                          // ping response
	DISCONNECT                        // client is disconnecting
)

var packetTypeNames = map[PacketType]string{
	CONNECT:     "CONNECT",
	CONNACK:     "CONNACK",
	PUBLISH:     "PUBLISH",
	PUBACK:      "PUBACK",
	PUBREC:      "PUBREC",
	PUBREL:      "PUBREL",
	PUBCOMP:     "PUBCOMP",
	SUBSCRIBE:   "SUBSCRIBE",
	SUBACK:      "SUBACK",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	UNSUBACK:    "UNSUBACK",
	PINGREQ:     "PINGREQ",
	PINGRESP:    "PINGRESP",
	DISCONNECT:  "DISCONNECT",
}

func (packetType PacketType) String() string {
	if name, ok := packetTypeNames[packetType]; ok {
		return name
	}
	return "UNKNOWN"
}

// allowedFlags lists, per packet type, the fixed header flag bits a client
// may set. Unknown types allow nothing.
var allowedFlags = map[PacketType]byte{
	CONNECT:     0x00, // 0000
	CONNACK:     0x00, // 0000
	PUBLISH:     0x0F, // 1111
	PUBACK:      0x00, // 0000
	PUBREC:      0x00, // 0000
	PUBREL:      0x02, // 0010
	PUBCOMP:     0x00, // 0000
	SUBSCRIBE:   0x02, // 0010
	SUBACK:      0x00, // 0000
	UNSUBSCRIBE: 0x02, // 0010
	UNSUBACK:    0x00, // 0000
	PINGREQ:     0x00, // 0000
	PINGRESP:    0x00, // 0000
	DISCONNECT:  0x00, // 0000
}

// FixedHeader is the first part of every MQTT control packet.
type FixedHeader struct {
	Type            PacketType
	Flags           byte
	RemainingLength int
}

// QoS returns the QoS bits (bits 1-2) of the header flags.
func (h FixedHeader) QoS() byte {
	return (h.Flags & 0x06) >> 1
}

// Payload is the variable header plus payload of a packet, with a read cursor.
type Payload struct {
	Context    []byte
	ContextLen int
	CurrentPtr int
}

// Packet is one framed control packet before variant decoding.
type Packet struct {
	Header  *FixedHeader
	Payload *Payload
}
