// Package speaker plays mono PCM16 through the local audio device.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/logger"
	"github.com/saker-ai/xiaozhi-client/internal/transport"
	"github.com/saker-ai/xiaozhi-client/pkg/audio"
)

// ErrVolumeRange is returned for volumes outside [0,100].
var ErrVolumeRange = errors.New("speaker: volume out of range")

// Config configures the Speaker.
type Config struct {
	SampleRate int
	Volume     int
}

// Speaker resamples packets to the output rate, applies software volume and
// writes them to the device. It implements device.AudioSink and
// device.VolumeActuator.
type Speaker struct {
	sampleRate int
	out        io.WriteCloser
	logger     *zap.Logger
	volume     atomic.Int32

	mu         sync.Mutex
	resamplers map[int]*audio.StreamResampler
	decoder    *audio.OpusDecoder
	closed     bool
}

// New wraps out, which receives little-endian mono PCM16 at cfg.SampleRate.
func New(cfg Config, out io.WriteCloser, log *zap.Logger) (*Speaker, error) {
	if out == nil {
		return nil, errors.New("speaker: output is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Volume < 0 || cfg.Volume > 100 {
		return nil, fmt.Errorf("%w: %d", ErrVolumeRange, cfg.Volume)
	}
	s := &Speaker{
		sampleRate: cfg.SampleRate,
		out:        out,
		logger:     logger.OrNop(log).Named("speaker"),
		resamplers: make(map[int]*audio.StreamResampler),
	}
	s.volume.Store(int32(cfg.Volume))
	return s, nil
}

// SampleRate is the device output rate.
func (s *Speaker) SampleRate() int {
	return s.sampleRate
}

// PushPCM plays one packet of mono PCM16. It blocks until the device accepted the samples.
func (s *Speaker) PushPCM(ctx context.Context, packet transport.AudioStreamPacket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := audio.BytesToInt16SliceInto(nil, packet.Payload)
	return s.play(packet.SampleRate, samples)
}

// PushOpus decodes an opus packet from the session and plays it.
func (s *Speaker) PushOpus(ctx context.Context, packet transport.AudioStreamPacket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rate := packet.SampleRate
	if rate <= 0 {
		rate = s.sampleRate
	}

	s.mu.Lock()
	if s.decoder == nil || s.decoder.SampleRate() != rate {
		dec, err := audio.NewOpusDecoder(rate, 1)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.decoder = dec
	}
	pcm, err := s.decoder.Decode(packet.Payload)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.play(rate, pcm)
}

func (s *Speaker) play(rate int, samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}

	if rate > 0 && rate != s.sampleRate {
		r, err := s.resamplerLocked(rate)
		if err != nil {
			return err
		}
		if samples, err = r.Resample(samples); err != nil {
			return fmt.Errorf("resample %d->%d: %w", rate, s.sampleRate, err)
		}
	}
	audio.ScaleInt16(samples, int(s.volume.Load()))
	if _, err := s.out.Write(audio.Int16SliceToBytesInto(nil, samples)); err != nil {
		return fmt.Errorf("speaker write: %w", err)
	}
	return nil
}

func (s *Speaker) resamplerLocked(rate int) (*audio.StreamResampler, error) {
	if r, ok := s.resamplers[rate]; ok {
		return r, nil
	}
	r, err := audio.NewStreamResampler(rate, s.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("create resampler %d->%d: %w", rate, s.sampleRate, err)
	}
	s.resamplers[rate] = r
	s.logger.Debug("resampler created", zap.Int("from", rate), zap.Int("to", s.sampleRate))
	return r, nil
}

// SetOutputVolume sets the software volume.
func (s *Speaker) SetOutputVolume(volume int) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("%w: %d", ErrVolumeRange, volume)
	}
	s.volume.Store(int32(volume))
	s.logger.Info("output volume set", zap.Int("volume", volume))
	return nil
}

func (s *Speaker) Volume() int {
	return int(s.volume.Load())
}

// Close releases resamplers and closes the output.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for rate, r := range s.resamplers {
		r.Close()
		delete(s.resamplers, rate)
	}
	return s.out.Close()
}
