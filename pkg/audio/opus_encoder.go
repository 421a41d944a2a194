package audio

import (
	"fmt"
	"sync"

	"github.com/saker-ai/xiaozhi-client/pkg/audio/opusx"
)

const maxOpusPacket = 4000

// OpusEncoder encodes fixed-size PCM16 frames.
type OpusEncoder struct {
	encoder       *opusx.Encoder
	sampleRate    int
	channels      int
	frameDuration int
	frameSize     int
	opts          EncoderOptions
	opusBuffer    []byte
	mutex         sync.Mutex
}

// NewOpusEncoder creates an encoder for frames of frameDurationMs.
func NewOpusEncoder(sampleRate, channels, frameDurationMs int, opts EncoderOptions) (*OpusEncoder, error) {
	if sampleRate <= 0 || channels <= 0 || frameDurationMs <= 0 {
		return nil, fmt.Errorf("create opus encoder: invalid format %dHz/%dch/%dms", sampleRate, channels, frameDurationMs)
	}
	enc, err := opusx.NewEncoder(sampleRate, channels, opusx.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if err := opts.apply(enc); err != nil {
		return nil, fmt.Errorf("configure opus encoder: %w", err)
	}

	return &OpusEncoder{
		encoder:       enc,
		sampleRate:    sampleRate,
		channels:      channels,
		frameDuration: frameDurationMs,
		frameSize:     sampleRate * frameDurationMs / 1000,
		opts:          opts,
		opusBuffer:    make([]byte, maxOpusPacket),
	}, nil
}

// Encode encodes one frame. Short input is zero padded, long input truncated.
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.encoder == nil {
		return nil, fmt.Errorf("opus encode: encoder closed")
	}

	expected := e.frameSize * e.channels
	if len(pcm) != expected {
		frame := make([]int16, expected)
		copy(frame, pcm)
		pcm = frame
	}

	n, err := e.encoder.Encode(pcm, e.opusBuffer)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	result := make([]byte, n)
	copy(result, e.opusBuffer[:n])
	return result, nil
}

// EncodeBytes encodes one frame of little-endian PCM16 bytes.
func (e *OpusEncoder) EncodeBytes(pcmData []byte) ([]byte, error) {
	scratch := AcquireInt16(e.FrameSamples())
	defer ReleaseInt16(scratch)
	return e.Encode(BytesToInt16SliceInto(scratch, pcmData))
}

// Close drops the encoder. Pooled encoders go back through ReleaseOpusEncoder instead.
func (e *OpusEncoder) Close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.encoder = nil
	e.opusBuffer = nil
	return nil
}

// FrameSize is the number of samples per channel in one frame.
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}

// FrameSamples is the interleaved sample count of one frame.
func (e *OpusEncoder) FrameSamples() int {
	return e.frameSize * e.channels
}

func (e *OpusEncoder) FrameDuration() int {
	return e.frameDuration
}

func (e *OpusEncoder) SampleRate() int {
	return e.sampleRate
}
