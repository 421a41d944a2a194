package audio

import (
	"math"
	"testing"
)

func sine(n, rate int, freq float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestOpusRoundTrip(t *testing.T) {
	enc, err := NewOpusEncoder(16000, 1, 60, EncoderOptions{Bitrate: 24000})
	if err != nil {
		t.Fatalf("NewOpusEncoder error: %v", err)
	}
	defer enc.Close()
	if enc.FrameSize() != 960 || enc.FrameSamples() != 960 {
		t.Fatalf("frameSize=%d samples=%d, want 960", enc.FrameSize(), enc.FrameSamples())
	}

	dec, err := NewOpusDecoder(16000, 1)
	if err != nil {
		t.Fatalf("NewOpusDecoder error: %v", err)
	}
	for i := 0; i < 3; i++ {
		packet, err := enc.Encode(sine(960, 16000, 440))
		if err != nil {
			t.Fatalf("Encode error: %v", err)
		}
		if len(packet) == 0 || len(packet) > maxOpusPacket {
			t.Fatalf("packet len=%d", len(packet))
		}
		pcm, err := dec.Decode(packet)
		if err != nil {
			t.Fatalf("Decode error: %v", err)
		}
		if len(pcm) != 960 {
			t.Fatalf("decoded %d samples, want 960", len(pcm))
		}
	}
}

func TestOpusEncoderPadsShortFrames(t *testing.T) {
	enc, err := NewOpusEncoder(16000, 1, 20, EncoderOptions{})
	if err != nil {
		t.Fatalf("NewOpusEncoder error: %v", err)
	}
	packet, err := enc.EncodeBytes(make([]byte, 100))
	if err != nil || len(packet) == 0 {
		t.Fatalf("EncodeBytes len=%d err=%v", len(packet), err)
	}
	_ = enc.Close()
	if _, err := enc.Encode(nil); err == nil {
		t.Fatal("Encode after Close error=nil")
	}
}

func TestOpusEncoderRejectsBadFormat(t *testing.T) {
	if _, err := NewOpusEncoder(16000, 1, 0, EncoderOptions{}); err == nil {
		t.Fatal("NewOpusEncoder(0ms) error=nil")
	}
}

func TestOpusEncoderPoolReuses(t *testing.T) {
	opts := EncoderOptions{Complexity: 3}
	first, err := AcquireOpusEncoder(8000, 1, 60, opts)
	if err != nil {
		t.Fatalf("AcquireOpusEncoder error: %v", err)
	}
	ReleaseOpusEncoder(first)
	second, err := AcquireOpusEncoder(8000, 1, 60, opts)
	if err != nil {
		t.Fatalf("AcquireOpusEncoder error: %v", err)
	}
	if second.FrameSize() != 480 || second.SampleRate() != 8000 {
		t.Fatalf("encoder format %d/%d", second.FrameSize(), second.SampleRate())
	}
	ReleaseOpusEncoder(second)
}

func TestDecodeEmptyPacket(t *testing.T) {
	dec, err := NewOpusDecoder(24000, 1)
	if err != nil {
		t.Fatalf("NewOpusDecoder error: %v", err)
	}
	if pcm, err := dec.Decode(nil); pcm != nil || err != nil {
		t.Fatalf("Decode(nil)=%v,%v", pcm, err)
	}
}
