// Package camera streams still frames to the session as camera_photo updates.
package camera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/logger"
)

var ErrAlreadyStreaming = errors.New("camera: already streaming")

// Frame is one encoded still image.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Format string
}

// FrameSource captures frames.
type FrameSource interface {
	Capture(ctx context.Context) (Frame, error)
}

// PhotoSender delivers a frame to the remote service.
type PhotoSender interface {
	SendCameraPhoto(ctx context.Context, data []byte, width int, height int, format string) error
}

// Config configures the Streamer.
type Config struct {
	Interval      time.Duration
	MaxPhotoBytes int
	// MaxErrors is how many consecutive capture failures are tolerated.
	MaxErrors int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.MaxPhotoBytes <= 0 {
		c.MaxPhotoBytes = 60000
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 10
	}
	return c
}

// Stats counts frames since the streamer was created.
type Stats struct {
	Sent    int64 `json:"sent"`
	Skipped int64 `json:"skipped"`
	Failed  int64 `json:"failed"`
}

// Streamer captures a frame every interval and sends it.
type Streamer struct {
	cfg    Config
	source FrameSource
	sender PhotoSender
	logger *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	streaming atomic.Bool

	sent    atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

func NewStreamer(cfg Config, source FrameSource, sender PhotoSender, log *zap.Logger) *Streamer {
	return &Streamer{
		cfg:    cfg.withDefaults(),
		source: source,
		sender: sender,
		logger: logger.OrNop(log).Named("camera"),
	}
}

// Start begins streaming until ctx ends, Stop is called, or capture keeps failing.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming.Load() {
		return ErrAlreadyStreaming
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.streaming.Store(true)
	go s.loop(ctx, s.done)
	s.logger.Info("camera streaming started", zap.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop ends streaming and waits for the loop to exit.
func (s *Streamer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Streamer) IsStreaming() bool {
	return s.streaming.Load()
}

func (s *Streamer) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Skipped: s.skipped.Load(), Failed: s.failed.Load()}
}

func (s *Streamer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.streaming.Store(false)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	errorsInRow := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("camera streaming stopped")
			return
		case <-ticker.C:
		}

		frame, err := s.source.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errorsInRow++
			s.failed.Add(1)
			s.logger.Warn("capture failed", zap.Int("consecutive", errorsInRow), zap.Error(err))
			if errorsInRow > s.cfg.MaxErrors {
				s.logger.Error("too many capture errors, stopping camera stream", zap.Int("errors", errorsInRow))
				return
			}
			continue
		}
		errorsInRow = 0

		if len(frame.Data) > s.cfg.MaxPhotoBytes {
			s.skipped.Add(1)
			s.logger.Debug("frame too large, skipped", zap.Int("bytes", len(frame.Data)), zap.Int("max", s.cfg.MaxPhotoBytes))
			continue
		}
		if err := s.sender.SendCameraPhoto(ctx, frame.Data, frame.Width, frame.Height, frame.Format); err != nil {
			s.logger.Debug("send photo failed", zap.Error(err))
			continue
		}
		s.sent.Add(1)
	}
}
