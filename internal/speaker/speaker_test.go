package speaker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/saker-ai/xiaozhi-client/internal/transport"
	"github.com/saker-ai/xiaozhi-client/pkg/audio"
)

type bufferOutput struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (o *bufferOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Write(p)
}

func (o *bufferOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

func (o *bufferOutput) samples() []int16 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return audio.BytesToInt16SliceInto(nil, o.buf.Bytes())
}

func newSpeaker(t *testing.T, rate, volume int) (*Speaker, *bufferOutput) {
	t.Helper()
	out := &bufferOutput{}
	s, err := New(Config{SampleRate: rate, Volume: volume}, out, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return s, out
}

func TestPushPCMAppliesVolume(t *testing.T) {
	s, out := newSpeaker(t, 24000, 50)
	payload := audio.Int16SliceToBytesInto(nil, []int16{1000, -2000, 3})
	if err := s.PushPCM(context.Background(), transport.AudioStreamPacket{SampleRate: 24000, Payload: payload}); err != nil {
		t.Fatalf("PushPCM error: %v", err)
	}
	got := out.samples()
	want := []int16{500, -1000, 1}
	if len(got) != len(want) {
		t.Fatalf("samples=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d=%d, want %d", i, got[i], want[i])
		}
	}
}

func TestPushPCMResamples(t *testing.T) {
	s, out := newSpeaker(t, 24000, 100)
	defer s.Close()
	payload := audio.Int16SliceToBytesInto(nil, make([]int16, 1600))
	for i := 0; i < 20; i++ {
		if err := s.PushPCM(context.Background(), transport.AudioStreamPacket{SampleRate: 16000, Payload: payload}); err != nil {
			t.Fatalf("PushPCM error: %v", err)
		}
	}
	if n := len(out.samples()); n < 40000 || n > 48000 {
		t.Fatalf("output samples=%d, want about 48000", n)
	}
}

func TestPushOpusDecodes(t *testing.T) {
	s, out := newSpeaker(t, 16000, 100)
	enc, err := audio.NewOpusEncoder(16000, 1, 60, audio.EncoderOptions{})
	if err != nil {
		t.Fatalf("NewOpusEncoder error: %v", err)
	}
	packet, err := enc.Encode(make([]int16, 960))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if err := s.PushOpus(context.Background(), transport.AudioStreamPacket{SampleRate: 16000, Payload: packet}); err != nil {
		t.Fatalf("PushOpus error: %v", err)
	}
	if n := len(out.samples()); n != 960 {
		t.Fatalf("output samples=%d, want 960", n)
	}
}

func TestVolumeRange(t *testing.T) {
	s, _ := newSpeaker(t, 24000, 70)
	for _, v := range []int{-1, 101} {
		if err := s.SetOutputVolume(v); !errors.Is(err, ErrVolumeRange) {
			t.Fatalf("SetOutputVolume(%d) error=%v, want ErrVolumeRange", v, err)
		}
	}
	if s.Volume() != 70 {
		t.Fatalf("volume=%d, want 70", s.Volume())
	}
	if err := s.SetOutputVolume(0); err != nil || s.Volume() != 0 {
		t.Fatalf("SetOutputVolume(0) err=%v volume=%d", err, s.Volume())
	}
	if _, err := New(Config{Volume: 150}, &bufferOutput{}, nil); !errors.Is(err, ErrVolumeRange) {
		t.Fatalf("New(volume 150) error=%v, want ErrVolumeRange", err)
	}
}

func TestPushAfterCloseFails(t *testing.T) {
	s, out := newSpeaker(t, 24000, 100)
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !out.closed {
		t.Fatal("output not closed")
	}
	err := s.PushPCM(context.Background(), transport.AudioStreamPacket{SampleRate: 24000, Payload: []byte{1, 0}})
	if err == nil {
		t.Fatal("PushPCM after Close error=nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.PushPCM(ctx, transport.AudioStreamPacket{Payload: []byte{1, 0}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("PushPCM(cancelled) error=%v", err)
	}
}
