package audio

import (
	"errors"
	"testing"
)

func TestStreamResamplerRatio(t *testing.T) {
	r, err := NewStreamResampler(16000, 24000)
	if err != nil {
		t.Fatalf("NewStreamResampler error: %v", err)
	}
	defer r.Close()

	total := 0
	for i := 0; i < 10; i++ {
		out, err := r.Resample(sine(1600, 16000, 440))
		if err != nil {
			t.Fatalf("Resample error: %v", err)
		}
		total += len(out)
	}
	if err := r.Flush(); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	total += len(r.Drain())
	if total < 23000 || total > 25000 {
		t.Fatalf("resampled %d samples from 16000, want about 24000", total)
	}
}

func TestStreamResamplerFrames(t *testing.T) {
	r, err := NewStreamResampler(16000, 24000)
	if err != nil {
		t.Fatalf("NewStreamResampler error: %v", err)
	}
	defer r.Close()
	r.outBuf = append(r.outBuf, make([]float32, 250)...)

	frame, ok := r.PopFrame(100)
	if !ok || len(frame) != 100 {
		t.Fatalf("PopFrame len=%d ok=%v", len(frame), ok)
	}
	ReleaseInt16(frame)
	_, _ = r.PopFrame(100)
	if _, ok := r.PopFrame(100); ok {
		t.Fatal("PopFrame with 50 buffered returned a frame")
	}
	rest := r.PopRemainderPadded(100)
	if len(rest) != 100 || r.Buffered() != 0 {
		t.Fatalf("remainder len=%d buffered=%d", len(rest), r.Buffered())
	}
}

func TestStreamResamplerClosed(t *testing.T) {
	r, err := NewStreamResampler(16000, 24000)
	if err != nil {
		t.Fatalf("NewStreamResampler error: %v", err)
	}
	r.Close()
	if err := r.AppendPCM([]int16{1}); !errors.Is(err, ErrResamplerClosed) {
		t.Fatalf("AppendPCM error=%v, want ErrResamplerClosed", err)
	}
}
