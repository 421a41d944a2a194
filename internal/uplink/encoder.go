// Package uplink turns local PCM into opus packets on the session.
package uplink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/logger"
	"github.com/saker-ai/xiaozhi-client/internal/transport"
	"github.com/saker-ai/xiaozhi-client/pkg/audio"
)

// AudioSender delivers one encoded packet.
type AudioSender interface {
	SendAudio(ctx context.Context, packet transport.AudioStreamPacket) error
}

// Config is the upstream audio format.
type Config struct {
	SampleRate    int
	FrameDuration int
	Options       audio.EncoderOptions
}

// Encoder frames mono PCM16 at any rate into opus packets of the session format.
// It implements device.AudioSink.
type Encoder struct {
	cfg    Config
	sender AudioSender
	logger *zap.Logger

	mu        sync.Mutex
	enc       *audio.OpusEncoder
	resampler *audio.StreamResampler
	pending   []int16
	timestamp uint32
	sent      int
}

func New(cfg Config, sender AudioSender, log *zap.Logger) (*Encoder, error) {
	if sender == nil {
		return nil, errors.New("uplink: sender is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 60
	}
	return &Encoder{cfg: cfg, sender: sender, logger: logger.OrNop(log).Named("uplink")}, nil
}

// PushPCM buffers the packet and sends every complete frame.
func (e *Encoder) PushPCM(ctx context.Context, packet transport.AudioStreamPacket) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureEncoderLocked(); err != nil {
		return err
	}

	samples := audio.BytesToInt16SliceInto(nil, packet.Payload)
	if packet.SampleRate > 0 && packet.SampleRate != e.cfg.SampleRate {
		resampled, err := e.resampleLocked(packet.SampleRate, samples)
		if err != nil {
			return err
		}
		samples = resampled
	}
	e.pending = append(e.pending, samples...)

	frame := e.enc.FrameSamples()
	for len(e.pending) >= frame {
		if err := e.sendFrameLocked(ctx, e.pending[:frame]); err != nil {
			return err
		}
		e.pending = e.pending[frame:]
	}
	return nil
}

// Flush sends any partial frame zero padded.
func (e *Encoder) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resampler != nil {
		if err := e.resampler.Flush(); err != nil {
			return err
		}
		e.pending = append(e.pending, e.resampler.Drain()...)
	}
	if len(e.pending) == 0 || e.enc == nil {
		return nil
	}
	frame := e.enc.FrameSamples()
	for len(e.pending) > 0 {
		n := min(frame, len(e.pending))
		if err := e.sendFrameLocked(ctx, e.pending[:n]); err != nil {
			return err
		}
		e.pending = e.pending[n:]
	}
	return nil
}

// Sent is the number of packets delivered.
func (e *Encoder) Sent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

// Close returns the encoder to its pool and drops pending audio.
func (e *Encoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc != nil {
		audio.ReleaseOpusEncoder(e.enc)
		e.enc = nil
	}
	if e.resampler != nil {
		e.resampler.Close()
		e.resampler = nil
	}
	e.pending = nil
}

func (e *Encoder) ensureEncoderLocked() error {
	if e.enc != nil {
		return nil
	}
	enc, err := audio.AcquireOpusEncoder(e.cfg.SampleRate, 1, e.cfg.FrameDuration, e.cfg.Options)
	if err != nil {
		return err
	}
	e.enc = enc
	return nil
}

func (e *Encoder) resampleLocked(rate int, samples []int16) ([]int16, error) {
	if e.resampler != nil && e.resampler.InRate() != rate {
		e.resampler.Close()
		e.resampler = nil
	}
	if e.resampler == nil {
		r, err := audio.NewStreamResampler(rate, e.cfg.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("uplink resampler %d->%d: %w", rate, e.cfg.SampleRate, err)
		}
		e.resampler = r
	}
	return e.resampler.Resample(samples)
}

func (e *Encoder) sendFrameLocked(ctx context.Context, pcm []int16) error {
	payload, err := e.enc.Encode(pcm)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	packet := transport.AudioStreamPacket{
		SampleRate:    e.cfg.SampleRate,
		FrameDuration: e.cfg.FrameDuration,
		Timestamp:     e.timestamp,
		Payload:       payload,
	}
	e.timestamp += uint32(e.cfg.FrameDuration)
	if err := e.sender.SendAudio(ctx, packet); err != nil {
		e.logger.Debug("send audio failed", zap.Error(err))
		return err
	}
	e.sent++
	return nil
}
