package livestream

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/device"
	"github.com/saker-ai/xiaozhi-client/internal/logger"
	"github.com/saker-ai/xiaozhi-client/internal/protocol"
)

// Control command names carried inside admin control messages.
const (
	ControlSpeakerVolume    = "audio_speaker_volume"
	ControlScreenBrightness = "screen_brightness"
)

// Sender is the outbound half of the session the router reports through.
type Sender interface {
	SendWakeWordDetected(ctx context.Context, word string) error
	SendDeviceStatusUpdate(ctx context.Context, name string, value int, ok bool) error
	IsAudioChannelOpened() bool
}

// TranscriptRecorder keeps recognised and spoken sentences.
type TranscriptRecorder interface {
	Record(role, content, sessionID string) error
}

// RouterDeps are the device capabilities the router drives. Nil entries are allowed.
type RouterDeps struct {
	State      device.StateSource
	WakeWord   device.WakeWordInvoker
	Speech     device.SpeechTracker
	Volume     device.VolumeActuator
	Brightness device.BrightnessActuator
	Transcript TranscriptRecorder
}

type controlMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type envelopeHandler func(context.Context, protocol.Envelope)

// Router dispatches inbound control envelopes by type.
type Router struct {
	sender   Sender
	deps     RouterDeps
	logger   *zap.Logger
	handlers map[string]envelopeHandler
}

// NewRouter executes the newRouter function.
func NewRouter(sender Sender, deps RouterDeps, log *zap.Logger) *Router {
	r := &Router{
		sender: sender,
		deps:   deps,
		logger: logger.OrNop(log).Named("admin"),
	}
	r.handlers = map[string]envelopeHandler{
		protocol.TypeWelcome:      r.onWelcome,
		protocol.TypeAdminMessage: r.onAdminMessage,
		protocol.TypeTTS:          r.onTTS,
		protocol.TypeSTT:          r.onTranscript,
		protocol.TypeLLM:          r.onTranscript,
		// handled by the session itself
		protocol.TypeCameraPhotoResponse: r.onNoop,
		protocol.TypeHello:               r.onNoop,
	}
	return r
}

// HandleJSON is suitable as an incoming JSON handler.
func (r *Router) HandleJSON(data []byte) {
	r.Handle(context.Background(), data)
}

// Handle parses one inbound message and dispatches it. Malformed messages are dropped.
func (r *Router) Handle(ctx context.Context, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		r.logger.Warn("dropping malformed envelope", zap.Error(err))
		return
	}
	if handler, ok := r.handlers[env.Type]; ok {
		handler(ctx, env)
		return
	}
	r.logger.Debug("unhandled message type", zap.String("type", env.Type))
}

func (r *Router) onNoop(context.Context, protocol.Envelope) {}

func (r *Router) onWelcome(_ context.Context, env protocol.Envelope) {
	r.logger.Info("welcome received", zap.String("message", env.ContentString()))
}

func (r *Router) onTranscript(_ context.Context, env protocol.Envelope) {
	r.logger.Info("transcript",
		zap.String("type", env.Type),
		zap.String("text", env.Text),
		zap.String("emotion", env.Emotion),
	)
	if env.Type == protocol.TypeSTT {
		r.record("user", env)
	}
}

func (r *Router) record(role string, env protocol.Envelope) {
	if r.deps.Transcript == nil {
		return
	}
	if err := r.deps.Transcript.Record(role, env.Text, env.SessionID); err != nil {
		r.logger.Warn("record transcript failed", zap.Error(err))
	}
}

func (r *Router) onTTS(_ context.Context, env protocol.Envelope) {
	switch env.State {
	case "start":
		if r.deps.Speech != nil {
			r.deps.Speech.OnTTSStart()
		}
	case "stop":
		if r.deps.Speech != nil {
			r.deps.Speech.OnTTSStop()
		}
	case "sentence_start":
		r.logger.Info("tts sentence", zap.String("text", env.Text))
		r.record("assistant", env)
	}
}

func (r *Router) onAdminMessage(ctx context.Context, env protocol.Envelope) {
	r.logger.Info("admin message",
		zap.String("message_type", env.AdminMessageType()),
		zap.String("sender", env.Sender),
		zap.String("sender_device_id", env.SenderDeviceID),
	)
	switch env.AdminMessageType() {
	case "text":
		r.handleText(ctx, env.ContentString())
	case "control":
		r.handleControl(ctx, env.ContentString())
	default:
		r.logger.Warn("unknown admin message type", zap.String("message_type", env.MessageType))
	}
}

// handleText treats the content as an out-of-band wake word.
func (r *Router) handleText(ctx context.Context, word string) {
	if word == "" {
		r.logger.Warn("admin text message without content")
		return
	}
	state := device.StateUnknown
	if r.deps.State != nil {
		state = r.deps.State.DeviceState()
	}
	switch state {
	case device.StateListening:
		if err := r.sender.SendWakeWordDetected(ctx, word); err != nil {
			r.logger.Warn("forward wake word failed", zap.Error(err))
		}
	case device.StateIdle:
		if r.deps.WakeWord != nil {
			r.deps.WakeWord.WakeWordInvoke(word)
		}
	default:
		r.logger.Info("admin text dropped", zap.String("state", string(state)))
	}
}

func (r *Router) handleControl(ctx context.Context, content string) {
	var msg controlMessage
	if err := json.Unmarshal([]byte(content), &msg); err != nil {
		r.logger.Warn("malformed control content", zap.Error(err))
		return
	}
	var apply func(int) error
	var available bool
	switch msg.Type {
	case ControlSpeakerVolume:
		if r.deps.Volume != nil {
			apply, available = r.deps.Volume.SetOutputVolume, true
		}
	case ControlScreenBrightness:
		if r.deps.Brightness != nil {
			apply, available = r.deps.Brightness.SetBrightness, true
		}
	default:
		r.logger.Warn("unknown control type", zap.String("type", msg.Type))
		return
	}
	value, ok := parseControlValue(msg.Data)
	if !ok {
		r.logger.Warn("non-numeric control data", zap.String("type", msg.Type), zap.ByteString("data", msg.Data))
		return
	}

	success := false
	switch {
	case value < 0 || value > 100:
		r.logger.Warn("control value out of range", zap.String("type", msg.Type), zap.Int("value", value))
	case !available:
		r.logger.Warn("no actuator for control", zap.String("type", msg.Type))
	default:
		if err := apply(value); err != nil {
			r.logger.Warn("actuator failed", zap.String("type", msg.Type), zap.Int("value", value), zap.Error(err))
		} else {
			success = true
			r.logger.Info("control applied", zap.String("type", msg.Type), zap.Int("value", value))
		}
	}
	r.ack(ctx, msg.Type, value, success)
}

func (r *Router) ack(ctx context.Context, name string, value int, ok bool) {
	if !r.sender.IsAudioChannelOpened() {
		return
	}
	if err := r.sender.SendDeviceStatusUpdate(ctx, name, value, ok); err != nil {
		r.logger.Warn("send control ack failed", zap.Error(err))
	}
}

// parseControlValue accepts a JSON number. Fractions are truncated.
func parseControlValue(raw json.RawMessage) (int, bool) {
	text := strings.TrimSpace(string(raw))
	if text == "" || strings.HasPrefix(text, `"`) {
		return 0, false
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}
