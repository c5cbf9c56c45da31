package packet

import "github.com/life-stream-dev/life-stream-go-ws-broker/internal/mqtt"

type Disconnect struct{}

func (p *Disconnect) Type() mqtt.PacketType { return mqtt.DISCONNECT }

func (p *Disconnect) Encode() []byte { return []byte{0xE0, 0x00} }
