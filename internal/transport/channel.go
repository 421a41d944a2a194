// Package transport provides the duplex message channel the session protocol runs on.
package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned when sending on a channel that is not open.
var ErrNotConnected = errors.New("transport channel not connected")

// AudioStreamPacket is one unit of audio exchanged with the remote service
// or handed to the local audio pipeline.
type AudioStreamPacket struct {
	SampleRate    int
	FrameDuration int
	Timestamp     uint32
	Payload       []byte
}

// AudioParams represents a audioParams.
type AudioParams struct {
	Format        string `json:"format,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	FrameDuration int    `json:"frame_duration,omitempty"`
}

// Endpoint is the connection intent persisted before a channel is opened.
type Endpoint struct {
	URL          string
	Version      int
	AppVersion   string
	BoardName    string
	DeviceStatus string
}

// Callbacks holds one handler per channel event. A nil handler ignores the event.
// Handlers run on the channel's reader goroutine.
type Callbacks struct {
	OnIncomingJSON       func(data []byte)
	OnIncomingAudio      func(packet AudioStreamPacket)
	OnAudioChannelOpened func()
	OnAudioChannelClosed func()
	OnNetworkError       func(message string)
}

// Channel is a duplex control and audio channel to the remote service.
type Channel interface {
	// Start prepares the channel without opening the network connection.
	Start(ctx context.Context) error
	// OpenAudioChannel connects and completes the handshake.
	OpenAudioChannel(ctx context.Context) error
	CloseAudioChannel()
	IsAudioChannelOpened() bool
	SendText(ctx context.Context, data []byte) error
	SendAudio(ctx context.Context, packet AudioStreamPacket) error
	SetCallbacks(callbacks Callbacks)
	// SessionID returns the id assigned by the server handshake, if any.
	SessionID() string
	// ServerAudioParams returns the downstream audio format from the handshake.
	ServerAudioParams() AudioParams
}
