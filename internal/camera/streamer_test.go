package camera

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type scriptedSource struct {
	mu     sync.Mutex
	frames []Frame
	err    error
	calls  int
}

func (s *scriptedSource) Capture(context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Frame{}, s.err
	}
	frame := s.frames[(s.calls-1)%len(s.frames)]
	return frame, nil
}

type photoRecorder struct {
	mu     sync.Mutex
	photos []Frame
}

func (r *photoRecorder) SendCameraPhoto(_ context.Context, data []byte, width int, height int, format string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.photos = append(r.photos, Frame{Data: data, Width: width, Height: height, Format: format})
	return nil
}

func (r *photoRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.photos)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStreamerSkipsOversizedFrames(t *testing.T) {
	source := &scriptedSource{frames: []Frame{
		{Data: make([]byte, 10), Width: 4, Height: 3, Format: "jpeg"},
		{Data: make([]byte, 11), Width: 4, Height: 3, Format: "jpeg"},
	}}
	sender := &photoRecorder{}
	s := NewStreamer(Config{Interval: time.Millisecond, MaxPhotoBytes: 10}, source, sender, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStreaming) {
		t.Fatalf("second Start error=%v, want ErrAlreadyStreaming", err)
	}
	waitUntil(t, "photos", func() bool { return sender.count() >= 3 })
	s.Stop()
	if s.IsStreaming() {
		t.Fatal("streaming after Stop")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	for i, p := range sender.photos {
		if len(p.Data) != 10 || p.Width != 4 || p.Format != "jpeg" {
			t.Fatalf("photo %d=%+v", i, p)
		}
	}
	if s.Stats().Skipped == 0 {
		t.Fatal("no frames skipped")
	}
}

func TestStreamerStopsAfterRepeatedErrors(t *testing.T) {
	source := &scriptedSource{err: errors.New("no device")}
	s := NewStreamer(Config{Interval: time.Millisecond, MaxErrors: 3}, source, &photoRecorder{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitUntil(t, "streamer to give up", func() bool { return !s.IsStreaming() })
	if got := s.Stats().Failed; got != 4 {
		t.Fatalf("failed=%d, want 4", got)
	}
	s.Stop()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	s.Stop()
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestDirectorySourceCycles(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 2, 3)
	writePNG(t, filepath.Join(dir, "b.PNG"), 5, 7)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	src := NewDirectorySource(dir)
	want := []int{2, 5, 2}
	for i, width := range want {
		frame, err := src.Capture(context.Background())
		if err != nil {
			t.Fatalf("Capture %d error: %v", i, err)
		}
		if frame.Width != width || frame.Format != "png" {
			t.Fatalf("frame %d width=%d format=%q, want %d png", i, frame.Width, frame.Format, width)
		}
	}

	empty := NewDirectorySource(t.TempDir())
	if _, err := empty.Capture(context.Background()); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("Capture(empty) error=%v, want ErrNoFrames", err)
	}
}
