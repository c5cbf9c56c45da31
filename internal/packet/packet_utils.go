package packet

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/mqtt"
)

var errShortPacket = errors.New("invalid packet context length")

func readPacketByte(payload *mqtt.Payload) (byte, error) {
	startByte := payload.CurrentPtr
	if startByte >= payload.ContextLen {
		return 0, errShortPacket
	}
	payload.CurrentPtr++
	return payload.Context[startByte], nil
}

func readPacketBytes(payload *mqtt.Payload, length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("invalid reading length %d", length)
	}
	end := payload.CurrentPtr + length
	if end > payload.ContextLen {
		return nil, errShortPacket
	}
	data := payload.Context[payload.CurrentPtr:end]
	payload.CurrentPtr = end
	return data, nil
}

func readPacketUint16(payload *mqtt.Payload) (uint16, error) {
	data, err := readPacketBytes(payload, 2)
	if err != nil {
		return 0, err
	}
	return mqtt.ByteToUInt16(data), nil
}

// readPacketString reads a length prefixed UTF-8 field.
func readPacketString(payload *mqtt.Payload) (string, error) {
	startByte := payload.CurrentPtr
	if startByte+1 >= payload.ContextLen {
		return "", errors.New("insufficient bytes for length")
	}
	length := int(mqtt.ByteToUInt16(payload.Context[startByte : startByte+2]))
	end := startByte + 2 + length
	if end > payload.ContextLen {
		return "", fmt.Errorf("field length %d exceeds buffer (len=%d)", length, payload.ContextLen)
	}
	payload.CurrentPtr = end
	return string(payload.Context[startByte+2 : end]), nil
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, mqtt.UInt16ToByte(uint16(len(s)))...)
	return append(buf, s...)
}
