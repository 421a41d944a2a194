package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// State describes what the device is doing from the user's point of view.
type State string

const (
	StateUnknown    State = "unknown"
	StateStarting   State = "starting"
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateListening  State = "listening"
	StateSpeaking   State = "speaking"
	StateUpgrading  State = "upgrading"
	StateFatalError State = "fatal_error"
)

// ListenMode affects what happens after the device finishes speaking.
type ListenMode string

const (
	ListenModeAuto     ListenMode = "auto"
	ListenModeManual   ListenMode = "manual"
	ListenModeRealtime ListenMode = "realtime"
)

// ParseListenMode maps a config string to a ListenMode, defaulting to auto.
func ParseListenMode(raw string) ListenMode {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case string(ListenModeManual):
		return ListenModeManual
	case string(ListenModeRealtime):
		return ListenModeRealtime
	default:
		return ListenModeAuto
	}
}

// Transition is reported to the machine's observer after every state change.
type Transition struct {
	From     State
	To       State
	WakeWord string
}

// Machine is a lightweight deterministic device state machine.
type Machine struct {
	mu           sync.RWMutex
	state        State
	mode         ListenMode
	lastWakeWord string
	onTransition func(Transition)
}

// NewMachine creates a state machine in idle/auto.
func NewMachine() *Machine {
	return &Machine{
		state: StateIdle,
		mode:  ListenModeAuto,
	}
}

// SetOnTransition registers the single transition observer.
func (m *Machine) SetOnTransition(fn func(Transition)) {
	m.mu.Lock()
	m.onTransition = fn
	m.mu.Unlock()
}

// DeviceState returns the current state.
func (m *Machine) DeviceState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Mode returns the current listen mode.
func (m *Machine) Mode() ListenMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// SetMode updates policy mode.
func (m *Machine) SetMode(mode string) {
	m.mu.Lock()
	m.mode = ParseListenMode(mode)
	m.mu.Unlock()
}

// LastWakeWord returns the word of the most recent wake invocation.
func (m *Machine) LastWakeWord() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastWakeWord
}

// ToggleChatState starts listening from idle and returns to idle from
// listening, speaking or connecting.
func (m *Machine) ToggleChatState() {
	switch m.DeviceState() {
	case StateIdle:
		m.transition(StateListening, "")
	case StateListening, StateSpeaking, StateConnecting:
		m.transition(StateIdle, "")
	}
}

// WakeWordInvoke starts a listening turn from idle on behalf of word.
// Other states ignore the call.
func (m *Machine) WakeWordInvoke(word string) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return
	}
	m.lastWakeWord = word
	m.mu.Unlock()
	m.transition(StateListening, word)
}

// OnTTSStart enters speaking state.
func (m *Machine) OnTTSStart() {
	m.transition(StateSpeaking, "")
}

// OnTTSStop exits speaking state according to mode policy.
func (m *Machine) OnTTSStop() {
	if m.DeviceState() != StateSpeaking {
		return
	}
	if m.Mode() == ListenModeManual {
		m.transition(StateIdle, "")
		return
	}
	m.transition(StateListening, "")
}

// Force sets state unconditionally.
func (m *Machine) Force(state State) error {
	switch state {
	case StateUnknown, StateStarting, StateIdle, StateConnecting, StateListening, StateSpeaking, StateUpgrading, StateFatalError:
		m.transition(state, "")
		return nil
	default:
		return fmt.Errorf("invalid state: %s", state)
	}
}

// DeviceStatusJSON reports the state snapshot persisted with the connection record.
func (m *Machine) DeviceStatusJSON() string {
	m.mu.RLock()
	snapshot := map[string]any{
		"device_state": string(m.state),
		"listen_mode":  string(m.mode),
	}
	m.mu.RUnlock()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func (m *Machine) transition(state State, wakeWord string) {
	m.mu.Lock()
	from := m.state
	m.state = state
	observer := m.onTransition
	m.mu.Unlock()
	if observer != nil && from != state {
		observer(Transition{From: from, To: state, WakeWord: wakeWord})
	}
}
