package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/device"
	"github.com/saker-ai/xiaozhi-client/internal/logger"
	"github.com/saker-ai/xiaozhi-client/internal/transport"
)

// DefaultTimeout is the inbound silence after which a session counts as stalled.
const DefaultTimeout = 600 * time.Second

var (
	// ErrAudioChannelBusy is returned when an audio send overlaps another.
	ErrAudioChannelBusy = errors.New("audio channel busy")
	// ErrEmptyPhoto is returned for a camera photo without data.
	ErrEmptyPhoto = errors.New("camera photo is empty")
	// ErrDescriptorsNotArray is returned when iot descriptors are not a JSON array.
	ErrDescriptorsNotArray = errors.New("iot descriptors must be a json array")
)

// Callbacks holds one handler per session event. Re-registering replaces the handler.
type Callbacks struct {
	OnIncomingJSON       func(data []byte)
	OnIncomingAudio      func(packet transport.AudioStreamPacket)
	OnAudioChannelOpened func()
	OnAudioChannelClosed func()
	OnNetworkError       func(message string)
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces time.Now for timeout accounting.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Session builds control messages on top of a transport channel, tracks the
// session id and detects a stalled channel by its last inbound activity.
type Session struct {
	channel transport.Channel
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration

	mu           sync.Mutex
	sessionID    string
	lastIncoming time.Time
	callbacks    Callbacks
	regionIndex  int
	photoStatus  string

	audioBusy atomic.Bool
}

// NewSession wires itself into channel's callbacks. sessionID is used until the
// channel reports a server-assigned id.
func NewSession(channel transport.Channel, sessionID string, log *zap.Logger, opts ...Option) *Session {
	s := &Session{
		channel:   channel,
		logger:    logger.OrNop(log).Named("session"),
		now:       time.Now,
		timeout:   DefaultTimeout,
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastIncoming = s.now()
	channel.SetCallbacks(transport.Callbacks{
		OnIncomingJSON:       s.handleIncomingJSON,
		OnIncomingAudio:      s.handleIncomingAudio,
		OnAudioChannelOpened: s.handleOpened,
		OnAudioChannelClosed: s.handleClosed,
		OnNetworkError:       s.reportNetworkError,
	})
	return s
}

// SetCallbacks executes the setCallbacks method.
func (s *Session) SetCallbacks(callbacks Callbacks) {
	s.mu.Lock()
	s.callbacks = callbacks
	s.mu.Unlock()
}

// Channel returns the underlying transport channel.
func (s *Session) Channel() transport.Channel {
	return s.channel
}

// SessionID returns the server-assigned id, falling back to the caller-supplied one.
func (s *Session) SessionID() string {
	if id := s.channel.SessionID(); id != "" {
		return id
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SetSessionID replaces the caller-supplied session id.
func (s *Session) SetSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

// IsAudioChannelOpened executes the isAudioChannelOpened method.
func (s *Session) IsAudioChannelOpened() bool {
	return s.channel.IsAudioChannelOpened()
}

// IsAudioChannelBusy reports whether an outbound audio send is in flight.
func (s *Session) IsAudioChannelBusy() bool {
	return s.audioBusy.Load()
}

// IsTimedOut reports whether more than the timeout window passed since the last inbound message.
func (s *Session) IsTimedOut() bool {
	s.mu.Lock()
	last := s.lastIncoming
	s.mu.Unlock()
	return s.now().Sub(last) > s.timeout
}

// LastIncoming returns the time of the last inbound message.
func (s *Session) LastIncoming() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIncoming
}

// RegionIndex returns the region index from the last camera photo response.
func (s *Session) RegionIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regionIndex
}

// LastPhotoStatus returns the status of the last camera photo response.
func (s *Session) LastPhotoStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.photoStatus
}

// SendListenStart executes the sendListenStart method.
func (s *Session) SendListenStart(ctx context.Context, mode device.ListenMode) error {
	return s.sendJSON(ctx, s.attachSessionID(map[string]any{
		"type":  TypeListen,
		"state": "start",
		"mode":  string(mode),
	}))
}

// SendListenStop executes the sendListenStop method.
func (s *Session) SendListenStop(ctx context.Context) error {
	return s.sendJSON(ctx, s.attachSessionID(map[string]any{
		"type":  TypeListen,
		"state": "stop",
	}))
}

// SendAbort executes the sendAbort method.
func (s *Session) SendAbort(ctx context.Context, reason AbortReason) error {
	payload := s.attachSessionID(map[string]any{"type": TypeAbort})
	if reason != AbortReasonNone {
		payload["reason"] = string(reason)
	}
	return s.sendJSON(ctx, payload)
}

// SendWakeWordDetected executes the sendWakeWordDetected method.
func (s *Session) SendWakeWordDetected(ctx context.Context, word string) error {
	return s.sendJSON(ctx, s.attachSessionID(map[string]any{
		"type":  TypeListen,
		"state": "detect",
		"text":  word,
	}))
}

// SendIotStates sends the thing states document as-is.
func (s *Session) SendIotStates(ctx context.Context, states json.RawMessage) error {
	if !json.Valid(states) {
		return errors.New("iot states is not valid json")
	}
	return s.sendJSON(ctx, s.attachSessionID(map[string]any{
		"type":   TypeIot,
		"update": true,
		"states": states,
	}))
}

// SendIotDescriptors sends each descriptor of the array in its own message,
// keeping individual messages small.
func (s *Session) SendIotDescriptors(ctx context.Context, descriptors json.RawMessage) error {
	var items []json.RawMessage
	if err := json.Unmarshal(descriptors, &items); err != nil {
		return ErrDescriptorsNotArray
	}
	for i, item := range items {
		err := s.sendJSON(ctx, s.attachSessionID(map[string]any{
			"type":        TypeIot,
			"update":      true,
			"descriptors": []json.RawMessage{item},
		}))
		if err != nil {
			return fmt.Errorf("send iot descriptor %d: %w", i, err)
		}
	}
	return nil
}

// SendCameraPhoto base64-encodes the photo into an iot camera_photo message.
func (s *Session) SendCameraPhoto(ctx context.Context, data []byte, width int, height int, format string) error {
	if len(data) == 0 {
		return ErrEmptyPhoto
	}
	photo := CameraPhoto{
		Width:  width,
		Height: height,
		Format: format,
		Data:   base64.StdEncoding.EncodeToString(data),
	}
	return s.sendJSON(ctx, s.attachSessionID(map[string]any{
		"type":         TypeIot,
		"update":       true,
		"camera_photo": photo,
	}))
}

// SendDeviceStatusUpdate acknowledges an admin control command.
func (s *Session) SendDeviceStatusUpdate(ctx context.Context, name string, value int, ok bool) error {
	return s.sendJSON(ctx, s.attachSessionID(map[string]any{
		"type":    TypeDeviceStatus,
		"name":    name,
		"value":   value,
		"success": ok,
	}))
}

// SendAudio sends one encoded audio packet. Overlapping calls fail with ErrAudioChannelBusy.
func (s *Session) SendAudio(ctx context.Context, packet transport.AudioStreamPacket) error {
	if !s.audioBusy.CompareAndSwap(false, true) {
		return ErrAudioChannelBusy
	}
	defer s.audioBusy.Store(false)
	if err := s.channel.SendAudio(ctx, packet); err != nil {
		s.reportNetworkError(fmt.Sprintf("send audio: %v", err))
		return err
	}
	return nil
}

// Watchdog closes the audio channel once the session times out. It returns when ctx is done.
func (s *Session) Watchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CloseIfTimedOut()
		}
	}
}

// CloseIfTimedOut closes an open audio channel whose session has timed out and
// reports whether it did.
func (s *Session) CloseIfTimedOut() bool {
	if !s.channel.IsAudioChannelOpened() || !s.IsTimedOut() {
		return false
	}
	s.logger.Warn("session timed out, closing audio channel",
		zap.String("session_id", s.SessionID()),
		zap.Time("last_incoming", s.LastIncoming()),
	)
	s.channel.CloseAudioChannel()
	return true
}

func (s *Session) attachSessionID(payload map[string]any) map[string]any {
	payload["session_id"] = s.SessionID()
	return payload
}

func (s *Session) sendJSON(ctx context.Context, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := s.channel.SendText(ctx, data); err != nil {
		s.reportNetworkError(fmt.Sprintf("send %v: %v", payload["type"], err))
		return err
	}
	return nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastIncoming = s.now()
	s.mu.Unlock()
}

func (s *Session) handleIncomingJSON(data []byte) {
	s.touch()
	env, err := ParseEnvelope(data)
	if err != nil {
		s.logger.Warn("dropping malformed message", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	if env.Type == TypeCameraPhotoResponse {
		s.handleCameraPhotoResponse(env)
	}
	s.mu.Lock()
	cb := s.callbacks.OnIncomingJSON
	s.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (s *Session) handleCameraPhotoResponse(env Envelope) {
	region, ok := env.Region()
	s.mu.Lock()
	s.photoStatus = env.Status
	if ok {
		s.regionIndex = region
	}
	s.mu.Unlock()
	s.logger.Info("camera photo response",
		zap.String("status", env.Status),
		zap.String("message", env.Message),
		zap.String("filename", env.Filename),
		zap.Int("region_index", region),
	)
}

func (s *Session) handleIncomingAudio(packet transport.AudioStreamPacket) {
	s.touch()
	s.mu.Lock()
	cb := s.callbacks.OnIncomingAudio
	s.mu.Unlock()
	if cb != nil {
		cb(packet)
	}
}

func (s *Session) handleOpened() {
	s.touch()
	s.mu.Lock()
	cb := s.callbacks.OnAudioChannelOpened
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (s *Session) handleClosed() {
	s.mu.Lock()
	cb := s.callbacks.OnAudioChannelClosed
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (s *Session) reportNetworkError(message string) {
	s.logger.Warn("network error", zap.String("session_id", s.SessionID()), zap.String("error", message))
	s.mu.Lock()
	cb := s.callbacks.OnNetworkError
	s.mu.Unlock()
	if cb != nil {
		cb(message)
	}
}
