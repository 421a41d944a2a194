package livestream

import (
	"context"
	"errors"
	"testing"

	"github.com/saker-ai/xiaozhi-client/internal/device"
)

type ack struct {
	name  string
	value int
	ok    bool
}

type fakeSender struct {
	open      bool
	wakeWords []string
	acks      []ack
}

func (s *fakeSender) SendWakeWordDetected(_ context.Context, word string) error {
	s.wakeWords = append(s.wakeWords, word)
	return nil
}

func (s *fakeSender) SendDeviceStatusUpdate(_ context.Context, name string, value int, ok bool) error {
	s.acks = append(s.acks, ack{name: name, value: value, ok: ok})
	return nil
}

func (s *fakeSender) IsAudioChannelOpened() bool { return s.open }

type fakeActuator struct {
	calls []int
	err   error
}

func (a *fakeActuator) SetOutputVolume(v int) error {
	a.calls = append(a.calls, v)
	return a.err
}

func (a *fakeActuator) SetBrightness(v int) error {
	a.calls = append(a.calls, v)
	return a.err
}

func controlMessageJSON(kind string, data string) []byte {
	return []byte(`{"type":"admin_message","messageType":"control","sender":"console","content":"{\"type\":\"` + kind + `\",\"data\":` + data + `}"}`)
}

func TestControlOutOfRangeIsRejected(t *testing.T) {
	sender := &fakeSender{open: true}
	volume := &fakeActuator{}
	r := NewRouter(sender, RouterDeps{Volume: volume}, nil)

	r.HandleJSON([]byte(`{"type":"admin_message","messageType":"control","content":"{\"type\":\"audio_speaker_volume\",\"data\":150}"}`))

	if len(volume.calls) != 0 {
		t.Fatalf("actuator calls=%v, want none", volume.calls)
	}
	want := ack{name: ControlSpeakerVolume, value: 150, ok: false}
	if len(sender.acks) != 1 || sender.acks[0] != want {
		t.Fatalf("acks=%+v, want [%+v]", sender.acks, want)
	}
}

func TestControlAppliesValue(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		data     string
		actErr   error
		wantCall []int
		wantAck  ack
	}{
		{name: "volume", kind: ControlSpeakerVolume, data: "30", wantCall: []int{30}, wantAck: ack{ControlSpeakerVolume, 30, true}},
		{name: "brightness bounds", kind: ControlScreenBrightness, data: "100", wantCall: []int{100}, wantAck: ack{ControlScreenBrightness, 100, true}},
		{name: "zero", kind: ControlSpeakerVolume, data: "0", wantCall: []int{0}, wantAck: ack{ControlSpeakerVolume, 0, true}},
		{name: "negative", kind: ControlScreenBrightness, data: "-1", wantAck: ack{ControlScreenBrightness, -1, false}},
		{name: "actuator error", kind: ControlSpeakerVolume, data: "40", actErr: errors.New("codec busy"), wantCall: []int{40}, wantAck: ack{ControlSpeakerVolume, 40, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{open: true}
			act := &fakeActuator{err: tt.actErr}
			r := NewRouter(sender, RouterDeps{Volume: act, Brightness: act}, nil)
			r.HandleJSON(controlMessageJSON(tt.kind, tt.data))

			if len(act.calls) != len(tt.wantCall) {
				t.Fatalf("calls=%v, want %v", act.calls, tt.wantCall)
			}
			for i := range tt.wantCall {
				if act.calls[i] != tt.wantCall[i] {
					t.Fatalf("calls=%v, want %v", act.calls, tt.wantCall)
				}
			}
			if len(sender.acks) != 1 || sender.acks[0] != tt.wantAck {
				t.Fatalf("acks=%+v, want [%+v]", sender.acks, tt.wantAck)
			}
		})
	}
}

func TestControlMissingActuatorSendsFailure(t *testing.T) {
	sender := &fakeSender{open: true}
	r := NewRouter(sender, RouterDeps{}, nil)
	r.HandleJSON(controlMessageJSON(ControlScreenBrightness, "50"))
	want := ack{name: ControlScreenBrightness, value: 50, ok: false}
	if len(sender.acks) != 1 || sender.acks[0] != want {
		t.Fatalf("acks=%+v, want [%+v]", sender.acks, want)
	}
}

func TestControlDroppedCases(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "unknown control type", data: controlMessageJSON("led_color", "5")},
		{name: "non-numeric data", data: controlMessageJSON(ControlSpeakerVolume, `\"loud\"`)},
		{name: "malformed nested json", data: []byte(`{"type":"admin_message","messageType":"control","content":"{not json"}`)},
		{name: "malformed envelope", data: []byte(`{"type":`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{open: true}
			act := &fakeActuator{}
			r := NewRouter(sender, RouterDeps{Volume: act, Brightness: act}, nil)
			r.HandleJSON(tt.data)
			if len(act.calls) != 0 || len(sender.acks) != 0 {
				t.Fatalf("calls=%v acks=%v, want none", act.calls, sender.acks)
			}
		})
	}
}

func TestControlAckRequiresOpenChannel(t *testing.T) {
	sender := &fakeSender{open: false}
	act := &fakeActuator{}
	r := NewRouter(sender, RouterDeps{Volume: act}, nil)
	r.HandleJSON(controlMessageJSON(ControlSpeakerVolume, "20"))
	if len(act.calls) != 1 {
		t.Fatalf("calls=%v, want [20]", act.calls)
	}
	if len(sender.acks) != 0 {
		t.Fatalf("acks=%v, want none while closed", sender.acks)
	}
}

func TestTextMessageFollowsDeviceState(t *testing.T) {
	msg := []byte(`{"type":"admin_message","messageType":"text","content":"你好小智"}`)

	t.Run("listening forwards wake word", func(t *testing.T) {
		machine := device.NewMachine()
		machine.ToggleChatState()
		if machine.DeviceState() != device.StateListening {
			t.Fatalf("setup state=%v", machine.DeviceState())
		}
		sender := &fakeSender{open: true}
		r := NewRouter(sender, RouterDeps{State: machine, WakeWord: machine}, nil)
		r.HandleJSON(msg)
		if len(sender.wakeWords) != 1 || sender.wakeWords[0] != "你好小智" {
			t.Fatalf("wake words=%v", sender.wakeWords)
		}
		if machine.DeviceState() != device.StateListening {
			t.Fatalf("state=%v, want listening", machine.DeviceState())
		}
	})

	t.Run("idle invokes wake word", func(t *testing.T) {
		machine := device.NewMachine()
		sender := &fakeSender{open: true}
		r := NewRouter(sender, RouterDeps{State: machine, WakeWord: machine}, nil)
		r.HandleJSON(msg)
		if len(sender.wakeWords) != 0 {
			t.Fatalf("wake words=%v, want none", sender.wakeWords)
		}
		if machine.DeviceState() != device.StateListening || machine.LastWakeWord() != "你好小智" {
			t.Fatalf("state=%v word=%q", machine.DeviceState(), machine.LastWakeWord())
		}
	})

	t.Run("speaking drops", func(t *testing.T) {
		machine := device.NewMachine()
		if err := machine.Force(device.StateSpeaking); err != nil {
			t.Fatalf("Force error: %v", err)
		}
		sender := &fakeSender{open: true}
		r := NewRouter(sender, RouterDeps{State: machine, WakeWord: machine}, nil)
		r.HandleJSON(msg)
		if len(sender.wakeWords) != 0 || machine.DeviceState() != device.StateSpeaking {
			t.Fatalf("wake words=%v state=%v", sender.wakeWords, machine.DeviceState())
		}
	})
}

func TestTTSDrivesSpeechTracker(t *testing.T) {
	machine := device.NewMachine()
	if err := machine.Force(device.StateListening); err != nil {
		t.Fatalf("Force error: %v", err)
	}
	r := NewRouter(&fakeSender{}, RouterDeps{State: machine, Speech: machine}, nil)
	r.HandleJSON([]byte(`{"type":"tts","state":"start"}`))
	if machine.DeviceState() != device.StateSpeaking {
		t.Fatalf("state=%v, want speaking", machine.DeviceState())
	}
	r.HandleJSON([]byte(`{"type":"tts","state":"stop"}`))
	if machine.DeviceState() != device.StateListening {
		t.Fatalf("state=%v, want listening", machine.DeviceState())
	}
}

type fakeTranscript struct {
	lines []string
}

func (f *fakeTranscript) Record(role, content, sessionID string) error {
	f.lines = append(f.lines, role+"|"+content+"|"+sessionID)
	return nil
}

func TestTranscriptRecordsUserAndAssistant(t *testing.T) {
	rec := &fakeTranscript{}
	r := NewRouter(&fakeSender{}, RouterDeps{Transcript: rec}, nil)
	r.HandleJSON([]byte(`{"type":"stt","text":"hello","session_id":"s1"}`))
	r.HandleJSON([]byte(`{"type":"llm","text":"😊","emotion":"happy","session_id":"s1"}`))
	r.HandleJSON([]byte(`{"type":"tts","state":"sentence_start","text":"hi there","session_id":"s1"}`))
	r.HandleJSON([]byte(`{"type":"tts","state":"start"}`))

	want := []string{"user|hello|s1", "assistant|hi there|s1"}
	if len(rec.lines) != len(want) {
		t.Fatalf("lines=%v, want %v", rec.lines, want)
	}
	for i := range want {
		if rec.lines[i] != want[i] {
			t.Fatalf("line %d=%q, want %q", i, rec.lines[i], want[i])
		}
	}
}
