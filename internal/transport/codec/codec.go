// Package codec frames binary websocket messages for protocol versions 1, 2 and 3.
package codec

import (
	"encoding/binary"
	"errors"
)

const (
	// Version1 uses raw audio payload frames.
	Version1 = 1
	// Version2 uses a 16-byte header carrying type, timestamp and size.
	Version2 = 2
	// Version3 uses a compact 4-byte header with payload type and size.
	Version3 = 3

	payloadTypeAudio = 0
	payloadTypeCmd   = 1

	headerSizeV2 = 16
	headerSizeV3 = 4
)

var (
	// ErrShortFrame is returned when a frame is smaller than its header.
	ErrShortFrame = errors.New("binary frame too short")
	// ErrPayloadSize is returned when the declared size exceeds the frame.
	ErrPayloadSize = errors.New("binary frame invalid payload size")
	// ErrPayloadType is returned for unknown payload types.
	ErrPayloadType = errors.New("binary frame unsupported payload type")
)

// PayloadKind describes the decoded payload category.
type PayloadKind int

const (
	// PayloadKindAudio indicates audio bytes.
	PayloadKindAudio PayloadKind = iota
	// PayloadKindCommand indicates JSON command bytes.
	PayloadKindCommand
)

// Frame is one decoded binary message.
type Frame struct {
	Kind      PayloadKind
	Timestamp uint32
	Payload   []byte
}

// NormalizeVersion returns a supported protocol version.
func NormalizeVersion(version int) int {
	switch version {
	case Version2, Version3:
		return version
	default:
		return Version1
	}
}

// Decode parses a binary frame according to protocol version.
// Version 3 and version 1 frames carry no timestamp.
func Decode(version int, frame []byte) (Frame, error) {
	switch NormalizeVersion(version) {
	case Version2:
		return decodeV2(frame)
	case Version3:
		return decodeV3(frame)
	default:
		return Frame{Kind: PayloadKindAudio, Payload: frame}, nil
	}
}

// Pack creates an audio frame according to protocol version.
func Pack(version int, timestamp uint32, payload []byte) []byte {
	return pack(version, payloadTypeAudio, timestamp, payload)
}

// PackCommand creates a command frame. Version 1 has no framing, so the
// payload is returned unchanged and must be sent as a text message.
func PackCommand(version int, payload []byte) []byte {
	return pack(version, payloadTypeCmd, 0, payload)
}

func pack(version int, msgType uint16, timestamp uint32, payload []byte) []byte {
	switch NormalizeVersion(version) {
	case Version2:
		head := make([]byte, headerSizeV2, headerSizeV2+len(payload))
		binary.BigEndian.PutUint16(head[0:2], Version2)
		binary.BigEndian.PutUint16(head[2:4], msgType)
		binary.BigEndian.PutUint32(head[4:8], 0)
		binary.BigEndian.PutUint32(head[8:12], timestamp)
		binary.BigEndian.PutUint32(head[12:16], uint32(len(payload)))
		return append(head, payload...)
	case Version3:
		head := make([]byte, headerSizeV3, headerSizeV3+len(payload))
		head[0] = byte(msgType)
		head[1] = 0
		binary.BigEndian.PutUint16(head[2:4], uint16(len(payload)))
		return append(head, payload...)
	default:
		return payload
	}
}

func decodeV2(frame []byte) (Frame, error) {
	if len(frame) < headerSizeV2 {
		return Frame{}, ErrShortFrame
	}
	msgType := binary.BigEndian.Uint16(frame[2:4])
	timestamp := binary.BigEndian.Uint32(frame[8:12])
	payloadSize := binary.BigEndian.Uint32(frame[12:16])
	if int64(payloadSize) > int64(len(frame)-headerSizeV2) {
		return Frame{}, ErrPayloadSize
	}
	kind, err := kindOf(uint16(msgType))
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Kind:      kind,
		Timestamp: timestamp,
		Payload:   frame[headerSizeV2 : headerSizeV2+int(payloadSize)],
	}, nil
}

func decodeV3(frame []byte) (Frame, error) {
	if len(frame) < headerSizeV3 {
		return Frame{}, ErrShortFrame
	}
	payloadSize := binary.BigEndian.Uint16(frame[2:4])
	if int(payloadSize) > len(frame)-headerSizeV3 {
		return Frame{}, ErrPayloadSize
	}
	kind, err := kindOf(uint16(frame[0]))
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Kind:    kind,
		Payload: frame[headerSizeV3 : headerSizeV3+int(payloadSize)],
	}, nil
}

func kindOf(msgType uint16) (PayloadKind, error) {
	switch msgType {
	case payloadTypeAudio:
		return PayloadKindAudio, nil
	case payloadTypeCmd:
		return PayloadKindCommand, nil
	default:
		return PayloadKindAudio, ErrPayloadType
	}
}
