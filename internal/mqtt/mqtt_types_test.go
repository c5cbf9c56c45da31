package mqtt

import "testing"

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		pt     PacketType
		flags  byte
		expect bool
	}{
		{CONNECT, 0x00, true},
		{CONNECT, 0x01, false},
		{PUBREL, 0x02, true},
		{PUBREL, 0x03, false},
		{PUBLISH, 0x0F, true},
		{SUBSCRIBE, 0x02, true},
		{SUBSCRIBE, 0x04, false},
		{PacketType(15), 0x0F, true},
	}

	for _, tt := range tests {
		result := ValidateFlags(tt.pt, tt.flags)
		if result != tt.expect {
			t.Errorf("type=%X flags=%04b expect=%v actual=%v",
				tt.pt, tt.flags, tt.expect, result)
		}
	}
}

func TestPacketTypeString(t *testing.T) {
	if SUBACK.String() != "SUBACK" {
		t.Errorf("expected SUBACK, got %s", SUBACK.String())
	}
	if PacketType(0).String() != "UNKNOWN" {
		t.Errorf("expected UNKNOWN, got %s", PacketType(0).String())
	}
}

func TestFixedHeaderQoS(t *testing.T) {
	tests := []struct {
		flags byte
		qos   byte
	}{
		{0x00, 0},
		{0x02, 1},
		{0x04, 2},
		{0x0B, 1},
	}
	for _, tt := range tests {
		h := FixedHeader{Type: PUBLISH, Flags: tt.flags}
		if h.QoS() != tt.qos {
			t.Errorf("flags=%04b expect qos %d, got %d", tt.flags, tt.qos, h.QoS())
		}
	}
}
