package audio

import (
	"fmt"

	"github.com/saker-ai/xiaozhi-client/pkg/audio/opusx"
)

// maxOpusFrameMs is the longest frame an opus packet can carry.
const maxOpusFrameMs = 120

// OpusDecoder decodes opus packets to interleaved PCM16. Not safe for concurrent use.
type OpusDecoder struct {
	decoder    *opusx.Decoder
	sampleRate int
	channels   int
	pcm        []int16
}

// NewOpusDecoder creates a decoder producing sampleRate/channels output.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opusx.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{
		decoder:    dec,
		sampleRate: sampleRate,
		channels:   channels,
		pcm:        make([]int16, sampleRate*maxOpusFrameMs/1000*channels),
	}, nil
}

// Decode returns a fresh slice of interleaved samples.
func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	if len(packet) == 0 {
		return nil, nil
	}
	n, err := d.decoder.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	out := make([]int16, n*d.channels)
	copy(out, d.pcm)
	return out, nil
}

func (d *OpusDecoder) SampleRate() int {
	return d.sampleRate
}

func (d *OpusDecoder) Channels() int {
	return d.channels
}
