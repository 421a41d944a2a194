// Package device holds the device state machine and the narrow capability
// interfaces the core uses to reach hardware-facing collaborators.
package device

import (
	"context"

	"github.com/saker-ai/xiaozhi-client/internal/transport"
)

// StateSource reports the current device state.
type StateSource interface {
	DeviceState() State
}

// ChatToggler flips between a listening turn and idle.
type ChatToggler interface {
	ToggleChatState()
}

// WakeWordInvoker starts a listening turn as if the wake word was heard locally.
type WakeWordInvoker interface {
	WakeWordInvoke(word string)
}

// SpeechTracker follows server-driven speaking turns.
type SpeechTracker interface {
	OnTTSStart()
	OnTTSStop()
}

// Display is the status surface: a short status line and a now-playing line.
type Display interface {
	SetStatus(status string)
	SetMusicInfo(info string)
}

// VolumeActuator sets output volume in [0,100].
type VolumeActuator interface {
	SetOutputVolume(volume int) error
}

// BrightnessActuator sets screen brightness in [0,100].
type BrightnessActuator interface {
	SetBrightness(brightness int) error
}

// AudioSink accepts mono 16-bit PCM packets for playback.
type AudioSink interface {
	PushPCM(ctx context.Context, packet transport.AudioStreamPacket) error
}

// StatusProvider returns a JSON snapshot of device status.
type StatusProvider interface {
	DeviceStatusJSON() string
}
