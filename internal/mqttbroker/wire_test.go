package mqttbroker

import (
	"bytes"
	"testing"
)

func TestEncodeRemainingLength(t *testing.T) {
	tests := []struct {
		length int
		want   []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xFF, 0xFF, 0x7F}},
		{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
		{268435455, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}

	for _, tt := range tests {
		got := encodeRemainingLength(tt.length)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("encodeRemainingLength(%d) = %v, want %v", tt.length, got, tt.want)
		}
	}
}

func TestEncodeRemainingLengthPanicsOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for an out-of-range remaining length")
		}
	}()
	encodeRemainingLength(268435456)
}

func TestBuildConnack(t *testing.T) {
	got := buildConnack()
	want := []byte{0x20, 0x02, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("buildConnack() = %v, want %v", got, want)
	}
}

func TestBuildPingresp(t *testing.T) {
	got := buildPingresp()
	want := []byte{0xD0, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("buildPingresp() = %v, want %v", got, want)
	}
}

func TestBuildPublishRoundTrip(t *testing.T) {
	topic := "sensors/temp"
	payload := []byte("21.5")

	packet, err := buildPublish(topic, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if packetType(packet[0]) != PacketPublish {
		t.Fatalf("expected PUBLISH packet type, got %d", packetType(packet[0]))
	}

	gotTopic, at, err := decodeTopic(packet, 2)
	if err != nil {
		t.Fatalf("decodeTopic error: %v", err)
	}
	if gotTopic != topic {
		t.Errorf("decoded topic = %q, want %q", gotTopic, topic)
	}

	gotPayload := decodePayload(packet, at)
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("decoded payload = %q, want %q", gotPayload, payload)
	}
}

func TestBuildPublishEmptyPayload(t *testing.T) {
	packet, err := buildPublish("a/b", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	topic, at, err := decodeTopic(packet, 2)
	if err != nil {
		t.Fatalf("decodeTopic error: %v", err)
	}
	if topic != "a/b" {
		t.Errorf("decoded topic = %q, want %q", topic, "a/b")
	}
	if payload := decodePayload(packet, at); len(payload) != 0 {
		t.Errorf("expected empty payload, got %q", payload)
	}
}

func TestBuildPublishRejectsOversizedTopic(t *testing.T) {
	oversized := make([]byte, 0x10000)
	for i := range oversized {
		oversized[i] = 'a'
	}
	if _, err := buildPublish(string(oversized), nil); err == nil {
		t.Error("expected an error for a topic longer than 65535 bytes")
	}
}

func TestBuildSuback(t *testing.T) {
	got := buildSuback(42, 3)
	want := []byte{0x90, 0x05, 0x00, 0x2A, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("buildSuback(42, 3) = %v, want %v", got, want)
	}
}

func TestBuildSubackZeroFilters(t *testing.T) {
	got := buildSuback(1, 0)
	want := []byte{0x90, 0x02, 0x00, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("buildSuback(1, 0) = %v, want %v", got, want)
	}
}

func TestBuildUnsuback(t *testing.T) {
	got := buildUnsuback(7)
	want := []byte{0xB0, 0x02, 0x00, 0x07}
	if !bytes.Equal(got, want) {
		t.Errorf("buildUnsuback(7) = %v, want %v", got, want)
	}
}

func TestDecodeUint16(t *testing.T) {
	buf := []byte{0x01, 0x02}
	got, at, err := decodeUint16(buf, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0x0102 {
		t.Errorf("decodeUint16 = %d, want %d", got, 0x0102)
	}
	if at != 2 {
		t.Errorf("advanced index = %d, want 2", at)
	}
}

func TestDecodeUint16ShortBuffer(t *testing.T) {
	buf := []byte{0x01}
	if _, _, err := decodeUint16(buf, 0); err != ErrShortBuffer {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
}

func TestDecodeTextShortBuffer(t *testing.T) {
	buf := []byte{0x00, 0x05, 'a', 'b'}
	if _, _, err := decodeText(buf, 0); err != ErrShortBuffer {
		t.Errorf("expected ErrShortBuffer for truncated text, got %v", err)
	}
}

func TestDecodeTextEmptyString(t *testing.T) {
	buf := []byte{0x00, 0x00}
	got, at, err := decodeText(buf, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("decodeText = %q, want empty string", got)
	}
	if at != 2 {
		t.Errorf("advanced index = %d, want 2", at)
	}
}

func TestDecodePayloadPastEnd(t *testing.T) {
	buf := []byte{0x01, 0x02}
	if got := decodePayload(buf, 5); got != nil {
		t.Errorf("expected nil payload when from exceeds buffer length, got %v", got)
	}
}

func TestPacketType(t *testing.T) {
	tests := []struct {
		header byte
		want   byte
	}{
		{0x10, PacketConnect},
		{0x20, PacketConnack},
		{0x30, PacketPublish},
		{0x82, PacketSubscribe},
		{0x90, PacketSuback},
		{0xA2, PacketUnsubscribe},
		{0xB0, PacketUnsuback},
		{0xC0, PacketPingreq},
		{0xD0, PacketPingresp},
		{0xE0, PacketDisconnect},
	}

	for _, tt := range tests {
		if got := packetType(tt.header); got != tt.want {
			t.Errorf("packetType(0x%02X) = %d, want %d", tt.header, got, tt.want)
		}
	}
}
