package music

import (
	"errors"
	"fmt"
)

// MPEGVersion identifies the MPEG audio version of a frame.
type MPEGVersion int

const (
	MPEG1  MPEGVersion = 1
	MPEG2  MPEGVersion = 2
	MPEG25 MPEGVersion = 25
)

func (v MPEGVersion) String() string {
	switch v {
	case MPEG1:
		return "MPEG-1"
	case MPEG2:
		return "MPEG-2"
	case MPEG25:
		return "MPEG-2.5"
	default:
		return fmt.Sprintf("MPEG(%d)", int(v))
	}
}

// FrameHeaderSize is the size of an MPEG audio frame header.
const FrameHeaderSize = 4

var (
	ErrNoSync           = errors.New("mpeg frame sync not found")
	ErrBadVersion       = errors.New("reserved mpeg version")
	ErrUnsupportedLayer = errors.New("only mpeg layer iii is supported")
	ErrBadBitrate       = errors.New("free or invalid bitrate")
	ErrBadSampleRate    = errors.New("reserved sample rate")
)

var (
	bitratesV1L3 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	bitratesV2L3 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

	sampleRates = map[MPEGVersion][3]int{
		MPEG1:  {44100, 48000, 32000},
		MPEG2:  {22050, 24000, 16000},
		MPEG25: {11025, 12000, 8000},
	}
)

// FrameHeader is a decoded MPEG Layer III frame header.
type FrameHeader struct {
	Version         MPEGVersion
	Bitrate         int // kbit/s
	SampleRate      int
	Padding         bool
	Protected       bool
	Channels        int
	SamplesPerFrame int
	FrameLength     int
}

// ParseFrameHeader validates and decodes the header at the start of data.
func ParseFrameHeader(data []byte) (FrameHeader, error) {
	if len(data) < FrameHeaderSize || data[0] != 0xFF || data[1]&0xE0 != 0xE0 {
		return FrameHeader{}, ErrNoSync
	}
	var h FrameHeader
	switch (data[1] >> 3) & 0x03 {
	case 0:
		h.Version = MPEG25
	case 2:
		h.Version = MPEG2
	case 3:
		h.Version = MPEG1
	default:
		return FrameHeader{}, ErrBadVersion
	}
	if (data[1]>>1)&0x03 != 1 {
		return FrameHeader{}, ErrUnsupportedLayer
	}
	h.Protected = data[1]&0x01 == 0

	bitrateIndex := data[2] >> 4
	if h.Version == MPEG1 {
		h.Bitrate = bitratesV1L3[bitrateIndex]
	} else {
		h.Bitrate = bitratesV2L3[bitrateIndex]
	}
	if h.Bitrate == 0 {
		return FrameHeader{}, ErrBadBitrate
	}
	rateIndex := (data[2] >> 2) & 0x03
	if rateIndex == 3 {
		return FrameHeader{}, ErrBadSampleRate
	}
	h.SampleRate = sampleRates[h.Version][rateIndex]
	h.Padding = (data[2]>>1)&0x01 == 1

	h.Channels = 2
	if data[3]>>6 == 3 {
		h.Channels = 1
	}

	pad := 0
	if h.Padding {
		pad = 1
	}
	if h.Version == MPEG1 {
		h.SamplesPerFrame = 1152
		h.FrameLength = 144*h.Bitrate*1000/h.SampleRate + pad
	} else {
		h.SamplesPerFrame = 576
		h.FrameLength = 72*h.Bitrate*1000/h.SampleRate + pad
	}
	return h, nil
}

// FindSyncWord returns the offset of the first valid frame header in data, or -1.
func FindSyncWord(data []byte) int {
	for i := 0; i+FrameHeaderSize <= len(data); i++ {
		if data[i] != 0xFF || data[i+1]&0xE0 != 0xE0 {
			continue
		}
		if _, err := ParseFrameHeader(data[i:]); err == nil {
			return i
		}
	}
	return -1
}

// ID3v2Size returns the full length of an ID3v2 tag starting at data, or 0
// when data does not start with one. ok is false when the tag header itself
// is incomplete.
func ID3v2Size(data []byte) (size int, ok bool) {
	if len(data) < 3 || string(data[:3]) != "ID3" {
		return 0, true
	}
	if len(data) < 10 {
		return 0, false
	}
	for _, b := range data[6:10] {
		if b&0x80 != 0 {
			return 0, true
		}
	}
	size = int(data[6])<<21 | int(data[7])<<14 | int(data[8])<<7 | int(data[9])
	size += 10
	if data[5]&0x10 != 0 {
		size += 10
	}
	return size, true
}

// sniffContainer names the container for diagnostics.
func sniffContainer(data []byte) string {
	switch {
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return "mp3-id3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	case len(data) >= 4 && string(data[:4]) == "RIFF":
		return "wav"
	case len(data) >= 4 && string(data[:4]) == "fLaC":
		return "flac"
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return "ogg"
	default:
		return "unknown"
	}
}
