// Package transporttest provides an in-memory transport.Channel for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/saker-ai/xiaozhi-client/internal/transport"
)

// Channel is a scriptable transport.Channel that records what was sent.
type Channel struct {
	mu        sync.Mutex
	callbacks transport.Callbacks
	opened    bool
	sessionID string
	texts     [][]byte
	audio     []transport.AudioStreamPacket

	// StartErr and OpenErr make the corresponding call fail.
	StartErr error
	OpenErr  error
	// SendErr makes SendText and SendAudio fail.
	SendErr error
	// AudioHook runs inside SendAudio before it returns.
	AudioHook func()
	// OpenHook runs inside OpenAudioChannel before the channel is marked open.
	OpenHook func()
}

// NewChannel executes the newChannel function.
func NewChannel(sessionID string) *Channel {
	return &Channel{sessionID: sessionID}
}

// SetCallbacks executes the setCallbacks method.
func (c *Channel) SetCallbacks(callbacks transport.Callbacks) {
	c.mu.Lock()
	c.callbacks = callbacks
	c.mu.Unlock()
}

// Start executes the start method.
func (c *Channel) Start(context.Context) error {
	return c.StartErr
}

// OpenAudioChannel marks the channel open and fires OnAudioChannelOpened synchronously.
func (c *Channel) OpenAudioChannel(context.Context) error {
	if c.OpenHook != nil {
		c.OpenHook()
	}
	if c.OpenErr != nil {
		return c.OpenErr
	}
	c.mu.Lock()
	c.opened = true
	cb := c.callbacks.OnAudioChannelOpened
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

// CloseAudioChannel executes the closeAudioChannel method.
func (c *Channel) CloseAudioChannel() {
	c.mu.Lock()
	was := c.opened
	c.opened = false
	cb := c.callbacks.OnAudioChannelClosed
	c.mu.Unlock()
	if was && cb != nil {
		cb()
	}
}

// IsAudioChannelOpened executes the isAudioChannelOpened method.
func (c *Channel) IsAudioChannelOpened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

// SendText executes the sendText method.
func (c *Channel) SendText(_ context.Context, data []byte) error {
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return transport.ErrNotConnected
	}
	c.texts = append(c.texts, append([]byte(nil), data...))
	return nil
}

// SendAudio executes the sendAudio method.
func (c *Channel) SendAudio(_ context.Context, packet transport.AudioStreamPacket) error {
	if c.AudioHook != nil {
		c.AudioHook()
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return transport.ErrNotConnected
	}
	c.audio = append(c.audio, packet)
	return nil
}

// SessionID executes the sessionID method.
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ServerAudioParams executes the serverAudioParams method.
func (c *Channel) ServerAudioParams() transport.AudioParams {
	return transport.AudioParams{Format: "opus", SampleRate: 24000, Channels: 1, FrameDuration: 60}
}

// Texts returns copies of every text message sent.
func (c *Channel) Texts() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.texts))
	copy(out, c.texts)
	return out
}

// Audio returns every audio packet sent.
func (c *Channel) Audio() []transport.AudioStreamPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.AudioStreamPacket(nil), c.audio...)
}

// DeliverJSON simulates an inbound text message.
func (c *Channel) DeliverJSON(data []byte) {
	c.mu.Lock()
	cb := c.callbacks.OnIncomingJSON
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// DeliverAudio simulates an inbound audio packet.
func (c *Channel) DeliverAudio(packet transport.AudioStreamPacket) {
	c.mu.Lock()
	cb := c.callbacks.OnIncomingAudio
	c.mu.Unlock()
	if cb != nil {
		cb(packet)
	}
}

// Drop simulates the remote closing the connection.
func (c *Channel) Drop() {
	c.CloseAudioChannel()
}

// FailNetwork simulates a transport error report.
func (c *Channel) FailNetwork(message string) {
	c.mu.Lock()
	c.opened = false
	cb := c.callbacks.OnNetworkError
	c.mu.Unlock()
	if cb != nil {
		cb(message)
	}
}

// ErrScripted is a convenience error for failing fakes.
var ErrScripted = errors.New("scripted failure")
