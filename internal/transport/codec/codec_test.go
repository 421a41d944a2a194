package codec

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestPackDecodeV2Audio(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	frame := Pack(Version2, 1234, payload)

	got, err := Decode(Version2, frame)
	if err != nil {
		t.Fatalf("Decode(v2) returned error: %v", err)
	}
	if got.Kind != PayloadKindAudio {
		t.Fatalf("Decode(v2) kind=%v, want %v", got.Kind, PayloadKindAudio)
	}
	if got.Timestamp != 1234 {
		t.Fatalf("Decode(v2) timestamp=%d, want 1234", got.Timestamp)
	}
	if string(got.Payload) != string(payload) {
		t.Fatalf("Decode(v2) payload=%v, want %v", got.Payload, payload)
	}
}

func TestPackDecodeV3Audio(t *testing.T) {
	payload := []byte{0x09, 0x08, 0x07}
	frame := Pack(Version3, 99, payload)
	if len(frame) != headerSizeV3+len(payload) {
		t.Fatalf("Pack(v3) len=%d, want %d", len(frame), headerSizeV3+len(payload))
	}

	got, err := Decode(Version3, frame)
	if err != nil {
		t.Fatalf("Decode(v3) returned error: %v", err)
	}
	if got.Kind != PayloadKindAudio {
		t.Fatalf("Decode(v3) kind=%v, want %v", got.Kind, PayloadKindAudio)
	}
	if got.Timestamp != 0 {
		t.Fatalf("Decode(v3) timestamp=%d, want 0", got.Timestamp)
	}
	if string(got.Payload) != string(payload) {
		t.Fatalf("Decode(v3) payload=%v, want %v", got.Payload, payload)
	}
}

func TestVersion1IsRaw(t *testing.T) {
	payload := []byte{0xAA, 0xBB}
	frame := Pack(7, 0, payload)
	if string(frame) != string(payload) {
		t.Fatalf("Pack(unknown version)=%v, want raw payload", frame)
	}
	got, err := Decode(Version1, frame)
	if err != nil || got.Kind != PayloadKindAudio || string(got.Payload) != string(payload) {
		t.Fatalf("Decode(v1)=%+v err=%v", got, err)
	}
}

func TestDecodeV2CommandPayload(t *testing.T) {
	payload := []byte(`{"type":"hello"}`)
	frame := make([]byte, 16+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], Version2)
	binary.BigEndian.PutUint16(frame[2:4], payloadTypeCmd)
	binary.BigEndian.PutUint32(frame[12:16], uint32(len(payload)))
	copy(frame[16:], payload)

	got, err := Decode(Version2, frame)
	if err != nil {
		t.Fatalf("Decode(v2 cmd) returned error: %v", err)
	}
	if got.Kind != PayloadKindCommand {
		t.Fatalf("Decode(v2 cmd) kind=%v, want %v", got.Kind, PayloadKindCommand)
	}
	if string(got.Payload) != string(payload) {
		t.Fatalf("Decode(v2 cmd) payload=%q, want %q", string(got.Payload), string(payload))
	}
}

func TestPackCommandV3(t *testing.T) {
	frame := PackCommand(Version3, []byte("{}"))
	got, err := Decode(Version3, frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got.Kind != PayloadKindCommand {
		t.Fatalf("kind=%v, want %v", got.Kind, PayloadKindCommand)
	}
}

func TestDecodeV2InvalidPayloadSize(t *testing.T) {
	frame := make([]byte, 16)
	binary.BigEndian.PutUint16(frame[0:2], Version2)
	binary.BigEndian.PutUint16(frame[2:4], payloadTypeAudio)
	binary.BigEndian.PutUint32(frame[12:16], 10)

	if _, err := Decode(Version2, frame); !errors.Is(err, ErrPayloadSize) {
		t.Fatalf("Decode(v2) error=%v, want ErrPayloadSize", err)
	}
}

func TestDecodeShortAndUnknownType(t *testing.T) {
	if _, err := Decode(Version3, []byte{0x00}); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("Decode(v3 short) error=%v, want ErrShortFrame", err)
	}
	if _, err := Decode(Version3, []byte{0x05, 0x00, 0x00, 0x00}); !errors.Is(err, ErrPayloadType) {
		t.Fatalf("Decode(v3 type 5) error=%v, want ErrPayloadType", err)
	}
}
