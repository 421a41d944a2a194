package music

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// ErrNeedMoreData means the window holds a valid header but not the whole frame.
var ErrNeedMoreData = errors.New("incomplete mpeg frame")

// FrameInfo describes one decoded frame. Samples counts interleaved samples
// across all channels.
type FrameInfo struct {
	SampleRate int
	Channels   int
	Bitrate    int
	Samples    int
}

// FrameDecoder decodes one compressed frame at the start of data.
type FrameDecoder interface {
	// Decode returns interleaved PCM and the number of bytes consumed.
	Decode(data []byte) (pcm []int16, info FrameInfo, consumed int, err error)
	// Reset drops inter-frame state, such as after a seek or a new stream.
	Reset()
}

// frameFeed hands the decoder exactly one frame per Decode call. It is not an
// io.Seeker, so go-mp3 never scans ahead for frame offsets.
type frameFeed struct {
	data []byte
}

func (f *frameFeed) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

// MP3Decoder is a FrameDecoder backed by go-mp3. One decoder instance is kept
// across frames so the layer III bit reservoir carries over.
type MP3Decoder struct {
	feed frameFeed
	dec  *mp3.Decoder
	out  []byte
}

// NewMP3Decoder executes the newMP3Decoder function.
func NewMP3Decoder() *MP3Decoder {
	// 1152 samples * 2 channels * 2 bytes
	return &MP3Decoder{out: make([]byte, 4608)}
}

// Reset executes the reset method.
func (d *MP3Decoder) Reset() {
	d.dec = nil
	d.feed.data = nil
}

// Decode executes the decode method.
func (d *MP3Decoder) Decode(data []byte) ([]int16, FrameInfo, int, error) {
	header, err := ParseFrameHeader(data)
	if err != nil {
		return nil, FrameInfo{}, 0, err
	}
	if len(data) < header.FrameLength {
		return nil, FrameInfo{}, 0, ErrNeedMoreData
	}
	d.feed.data = data[:header.FrameLength]

	if d.dec == nil {
		dec, err := mp3.NewDecoder(&d.feed)
		if err != nil {
			d.Reset()
			return nil, FrameInfo{}, 0, fmt.Errorf("mp3 decoder: %w", err)
		}
		d.dec = dec
	}
	n, err := d.dec.Read(d.out)
	d.feed.data = nil
	if err != nil {
		d.Reset()
		return nil, FrameInfo{}, 0, fmt.Errorf("mp3 decode: %w", err)
	}
	if n == 0 {
		return nil, FrameInfo{}, 0, fmt.Errorf("mp3 decode: empty frame")
	}

	// go-mp3 always emits interleaved stereo
	stereo := make([]int16, n/2)
	for i := range stereo {
		stereo[i] = int16(binary.LittleEndian.Uint16(d.out[i*2:]))
	}
	pcm := stereo
	if header.Channels == 1 {
		pcm = make([]int16, len(stereo)/2)
		for i := range pcm {
			pcm[i] = stereo[i*2]
		}
	}
	info := FrameInfo{
		SampleRate: header.SampleRate,
		Channels:   header.Channels,
		Bitrate:    header.Bitrate,
		Samples:    len(pcm),
	}
	return pcm, info, header.FrameLength, nil
}
