package audio

import (
	"errors"

	resampler "github.com/godeps/go-audio-soxr"
)

// ErrResamplerClosed is returned after Close.
var ErrResamplerClosed = errors.New("audio: resampler closed")

// StreamResampler keeps soxr state across frames of a mono stream.
type StreamResampler struct {
	key    soxrKey
	engine *resampler.SimpleResamplerFloat32
	outBuf []float32
}

// NewStreamResampler creates a streaming resampler for continuous audio.
func NewStreamResampler(inRate, outRate int) (*StreamResampler, error) {
	key := soxrKey{inRate: inRate, outRate: outRate, quality: resampler.QualityHigh}
	engine, err := acquireSoxr(key)
	if err != nil {
		return nil, err
	}
	return &StreamResampler{key: key, engine: engine}, nil
}

func (s *StreamResampler) InRate() int  { return s.key.inRate }
func (s *StreamResampler) OutRate() int { return s.key.outRate }

// Close returns the engine to its pool.
func (s *StreamResampler) Close() {
	if s == nil || s.engine == nil {
		return
	}
	releaseSoxr(s.key, s.engine)
	s.engine = nil
	s.outBuf = nil
}

// AppendPCM feeds PCM16 samples into the resampler.
func (s *StreamResampler) AppendPCM(pcm []int16) error {
	if s == nil || s.engine == nil {
		return ErrResamplerClosed
	}
	if len(pcm) == 0 {
		return nil
	}
	tmp := AcquireFloat32(len(pcm))
	tmp = Int16SliceToFloat32Into(tmp, pcm)
	out, err := s.engine.Process(tmp)
	ReleaseFloat32(tmp)
	if err != nil {
		return err
	}
	s.outBuf = append(s.outBuf, out...)
	return nil
}

// Flush pushes out samples still held by the filter. Call once at end of stream.
func (s *StreamResampler) Flush() error {
	if s == nil || s.engine == nil {
		return ErrResamplerClosed
	}
	out, err := s.engine.Flush()
	if err != nil {
		return err
	}
	s.outBuf = append(s.outBuf, out...)
	return nil
}

// Buffered is the number of resampled samples waiting to be popped.
func (s *StreamResampler) Buffered() int {
	return len(s.outBuf)
}

// Resample feeds pcm and returns everything produced so far.
func (s *StreamResampler) Resample(pcm []int16) ([]int16, error) {
	if err := s.AppendPCM(pcm); err != nil {
		return nil, err
	}
	return s.Drain(), nil
}

// Drain returns all buffered output samples.
func (s *StreamResampler) Drain() []int16 {
	if s == nil || len(s.outBuf) == 0 {
		return nil
	}
	out := Float32SliceToInt16SliceInto(nil, s.outBuf)
	s.outBuf = s.outBuf[:0]
	return out
}

// PopFrame returns a frame of exactly frameSize samples if available. The
// frame comes from the pool; release it with ReleaseInt16.
func (s *StreamResampler) PopFrame(frameSize int) ([]int16, bool) {
	if s == nil || frameSize <= 0 || len(s.outBuf) < frameSize {
		return nil, false
	}
	frame := Float32SliceToInt16SliceInto(AcquireInt16(frameSize), s.outBuf[:frameSize])
	s.outBuf = s.outBuf[frameSize:]
	return frame, true
}

// PopRemainderPadded returns the remaining samples zero padded to frameSize,
// or nil when nothing is buffered. Samples beyond frameSize are dropped.
func (s *StreamResampler) PopRemainderPadded(frameSize int) []int16 {
	if s == nil || frameSize <= 0 || len(s.outBuf) == 0 {
		return nil
	}
	frame := AcquireInt16(frameSize)
	clear(frame)
	n := min(len(s.outBuf), frameSize)
	Float32SliceToInt16SliceInto(frame[:n], s.outBuf[:n])
	s.outBuf = nil
	return frame
}
