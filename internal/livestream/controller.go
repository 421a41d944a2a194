// Package livestream owns the connection to the remote service: it persists
// the connection intent, opens the transport channel, reconnects on loss and
// routes admin commands received over the session.
package livestream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/device"
	"github.com/saker-ai/xiaozhi-client/internal/logger"
	"github.com/saker-ai/xiaozhi-client/internal/protocol"
	"github.com/saker-ai/xiaozhi-client/internal/settings"
	"github.com/saker-ai/xiaozhi-client/internal/transport"
)

// SettingsGroup is the settings group holding the write-ahead connection record.
const SettingsGroup = "websocket"

const (
	statusConnecting       = "connecting"
	statusConnectionFailed = "connection failed"
)

var (
	// ErrSettingsMismatch is returned when the connection record read back differs from what was written.
	ErrSettingsMismatch = errors.New("persisted connection settings do not match")
	// ErrNoEndpoint is returned by Connect when no server url is configured.
	ErrNoEndpoint = errors.New("server url is empty")
	// ErrCancelled is returned when a connect is superseded by Disconnect or another Connect.
	ErrCancelled = errors.New("connect cancelled")
)

// ConnectionState is owned by the Controller.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ReconnectPolicy bounds automatic reconnection. MaxAttempts 0 means unlimited.
type ReconnectPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// ChannelFactory builds a transport channel for the persisted endpoint.
type ChannelFactory func(endpoint transport.Endpoint) (transport.Channel, error)

// SettingsOpener opens a durable settings group.
type SettingsOpener interface {
	Open(group string) (*settings.Group, error)
}

// Options configures a Controller.
type Options struct {
	Endpoint       transport.Endpoint
	Policy         ReconnectPolicy
	SessionID      string
	SessionOptions []protocol.Option
	Settings       SettingsOpener
	Factory        ChannelFactory
	DeviceStatus   device.StatusProvider
	Display        device.Display
}

// Status is a JSON-serialisable snapshot of the controller.
type Status struct {
	Connected bool   `json:"connected"`
	ServerURL string `json:"server_url"`
	State     string `json:"state"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

type stopper interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, fn func()) stopper {
	return time.AfterFunc(d, fn)
}

// Controller runs the connection lifecycle and the bounded-retry reconnect loop.
type Controller struct {
	opts      Options
	logger    *zap.Logger
	afterFunc func(time.Duration, func()) stopper

	mu        sync.Mutex
	endpoint  transport.Endpoint
	state     ConnectionState
	attempts  int
	lastError string
	channel   transport.Channel
	session   *protocol.Session
	// epoch identifies the current channel; callbacks from older channels are ignored.
	epoch    uint64
	timer    stopper
	timerGen uint64

	onJSON  func(data []byte)
	onAudio func(packet transport.AudioStreamPacket)
}

// NewController validates options and returns a disconnected controller.
func NewController(opts Options, log *zap.Logger) (*Controller, error) {
	if opts.Settings == nil {
		return nil, errors.New("livestream: settings store is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("livestream: channel factory is required")
	}
	if opts.Policy.Interval <= 0 {
		opts.Policy.Interval = 5 * time.Second
	}
	if opts.Policy.MaxAttempts < 0 {
		opts.Policy.MaxAttempts = 0
	}
	return &Controller{
		opts:      opts,
		logger:    logger.OrNop(log).Named("livestream"),
		afterFunc: realAfterFunc,
		endpoint:  opts.Endpoint,
		state:     StateDisconnected,
	}, nil
}

// SetIncomingHandlers registers the consumers of inbound JSON and audio for every session.
func (c *Controller) SetIncomingHandlers(onJSON func(data []byte), onAudio func(packet transport.AudioStreamPacket)) {
	c.mu.Lock()
	c.onJSON = onJSON
	c.onAudio = onAudio
	c.mu.Unlock()
}

// SetURL replaces the endpoint url used by the next Connect.
func (c *Controller) SetURL(url string) {
	c.mu.Lock()
	c.endpoint.URL = url
	c.mu.Unlock()
}

// State returns the connection state.
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the reconnect attempts made since the last successful connect.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastError returns the last recorded failure, empty after a successful reconnect.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Session returns the current session or nil.
func (c *Controller) Session() *protocol.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Status executes the status method.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected: c.state == StateConnected,
		ServerURL: c.endpoint.URL,
		State:     c.state.String(),
		Attempts:  c.attempts,
		LastError: c.lastError,
	}
}

// Connect tears down any existing channel, persists the connection record and
// opens a new channel. It resets the reconnect counter.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.stopTimerLocked()
	c.attempts = 0
	c.state = StateConnecting
	c.mu.Unlock()

	epoch, err := c.connect(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		return err
	}
	if epoch == c.epoch && c.state == StateConnecting {
		c.state = StateConnected
	}
	c.lastError = ""
	return nil
}

// Disconnect cancels any pending reconnect and closes the channel. It is safe in any state.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.epoch++
	ch := c.channel
	c.channel = nil
	c.session = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if ch != nil {
		ch.CloseAudioChannel()
		c.logger.Info("disconnected")
	}
	c.setDisplayStatus("")
}

// Watchdog closes the current channel when its session times out, which in
// turn drives a reconnect. It returns when ctx is done.
func (c *Controller) Watchdog(ctx context.Context, interval time.Duration) {
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
			if s := c.Session(); s != nil {
				s.CloseIfTimedOut()
			}
		}
	}
}

// connect runs one connection attempt and returns the epoch of the installed channel.
func (c *Controller) connect(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	old := c.channel
	c.channel = nil
	c.session = nil
	c.epoch++
	epoch := c.epoch
	endpoint := c.endpoint
	c.mu.Unlock()

	if old != nil {
		old.CloseAudioChannel()
	}
	if endpoint.URL == "" {
		c.recordFailure(epoch, ErrNoEndpoint)
		return 0, ErrNoEndpoint
	}

	persisted, err := c.persist(endpoint)
	if err != nil {
		c.recordFailure(epoch, err)
		return 0, err
	}

	ch, err := c.opts.Factory(persisted)
	if err != nil {
		err = fmt.Errorf("build channel: %w", err)
		c.recordFailure(epoch, err)
		return 0, err
	}
	session := protocol.NewSession(ch, c.opts.SessionID, c.logger, c.opts.SessionOptions...)
	session.SetCallbacks(protocol.Callbacks{
		OnIncomingJSON:       func(data []byte) { c.handleJSON(epoch, data) },
		OnIncomingAudio:      func(packet transport.AudioStreamPacket) { c.handleAudio(epoch, packet) },
		OnAudioChannelOpened: func() { c.handleOpened(epoch) },
		OnAudioChannelClosed: func() { c.handleLost(epoch, "audio channel closed") },
		OnNetworkError:       func(message string) { c.handleLost(epoch, message) },
	})

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return 0, ErrCancelled
	}
	c.channel = ch
	c.session = session
	c.mu.Unlock()

	if err := ch.Start(ctx); err != nil {
		err = fmt.Errorf("start channel: %w", err)
		c.discard(epoch, ch, err)
		return 0, err
	}
	if err := ch.OpenAudioChannel(ctx); err != nil {
		err = fmt.Errorf("open audio channel: %w", err)
		c.discard(epoch, ch, err)
		return 0, err
	}
	c.mu.Lock()
	stale := c.epoch != epoch
	c.mu.Unlock()
	if stale {
		// superseded while the handshake was in flight
		ch.CloseAudioChannel()
		c.logger.Info("connect superseded, channel closed", zap.String("url", persisted.URL))
		return 0, ErrCancelled
	}
	c.logger.Info("audio channel opened",
		zap.String("url", persisted.URL),
		zap.String("session_id", session.SessionID()),
	)
	return epoch, nil
}

// persist writes the connection record, reads it back and returns the endpoint
// as recovered from disk.
func (c *Controller) persist(endpoint transport.Endpoint) (transport.Endpoint, error) {
	group, err := c.opts.Settings.Open(SettingsGroup)
	if err != nil {
		return transport.Endpoint{}, fmt.Errorf("open settings: %w", err)
	}
	group.SetString("url", endpoint.URL)
	group.SetInt("version", endpoint.Version)
	group.SetString("appVersion", endpoint.AppVersion)
	group.SetString("boardName", endpoint.BoardName)
	status := endpoint.DeviceStatus
	if c.opts.DeviceStatus != nil {
		status = c.opts.DeviceStatus.DeviceStatusJSON()
	}
	if len(status) > 2 {
		group.SetString("deviceStatus", status)
	}
	if err := group.Save(); err != nil {
		return transport.Endpoint{}, fmt.Errorf("save settings: %w", err)
	}

	readBack, err := c.opts.Settings.Open(SettingsGroup)
	if err != nil {
		return transport.Endpoint{}, fmt.Errorf("reopen settings: %w", err)
	}
	if got := readBack.GetString("url", ""); got != endpoint.URL {
		return transport.Endpoint{}, fmt.Errorf("%w: url %q, want %q", ErrSettingsMismatch, got, endpoint.URL)
	}
	return transport.Endpoint{
		URL:          readBack.GetString("url", ""),
		Version:      readBack.GetInt("version", endpoint.Version),
		AppVersion:   readBack.GetString("appVersion", ""),
		BoardName:    readBack.GetString("boardName", ""),
		DeviceStatus: readBack.GetString("deviceStatus", ""),
	}, nil
}

func (c *Controller) recordFailure(epoch uint64, err error) {
	c.logger.Warn("connect failed", zap.Error(err))
	c.mu.Lock()
	if c.epoch == epoch {
		c.lastError = err.Error()
	}
	c.mu.Unlock()
}

// discard drops a channel whose start or open failed. Bumping the epoch first
// keeps its close callback from scheduling a reconnect.
func (c *Controller) discard(epoch uint64, ch transport.Channel, err error) {
	c.mu.Lock()
	if c.epoch == epoch {
		c.epoch++
		c.channel = nil
		c.session = nil
		c.lastError = err.Error()
	}
	c.mu.Unlock()
	ch.CloseAudioChannel()
	c.logger.Warn("connect failed, channel discarded", zap.Error(err))
}

func (c *Controller) handleOpened(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	if c.timer != nil {
		c.stopTimerLocked()
	}
	c.state = StateConnected
	c.attempts = 0
}

func (c *Controller) handleLost(epoch uint64, message string) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.lastError = message
	switch c.state {
	case StateDisconnected, StateConnecting:
		// the running connect reports its own failure
		c.mu.Unlock()
		return
	case StateReconnecting:
		if c.timer != nil {
			c.mu.Unlock()
			return
		}
	}
	c.state = StateReconnecting
	c.armTimerLocked()
	c.mu.Unlock()
	c.logger.Warn("connection lost, reconnect scheduled",
		zap.String("error", message),
		zap.Duration("interval", c.opts.Policy.Interval),
	)
}

func (c *Controller) handleJSON(epoch uint64, data []byte) {
	c.mu.Lock()
	current := epoch == c.epoch
	fn := c.onJSON
	c.mu.Unlock()
	if current && fn != nil {
		fn(data)
	}
}

func (c *Controller) handleAudio(epoch uint64, packet transport.AudioStreamPacket) {
	c.mu.Lock()
	current := epoch == c.epoch
	fn := c.onAudio
	c.mu.Unlock()
	if current && fn != nil {
		fn(packet)
	}
}

func (c *Controller) armTimerLocked() {
	c.timerGen++
	gen := c.timerGen
	c.timer = c.afterFunc(c.opts.Policy.Interval, func() { c.onTimer(gen) })
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

// onTimer ignores a timer whose generation was superseded while it was pending.
func (c *Controller) onTimer(gen uint64) {
	c.mu.Lock()
	if gen != c.timerGen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()
	c.attemptReconnect(gen)
}

func (c *Controller) attemptReconnect(gen uint64) {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Info("reconnecting", zap.Int("attempt", attempt), zap.Int("max_attempts", c.opts.Policy.MaxAttempts))
	epoch, err := c.connect(context.Background())

	c.mu.Lock()
	if gen != c.timerGen {
		c.mu.Unlock()
		return
	}
	if err == nil {
		if epoch == c.epoch && c.state == StateConnecting {
			c.state = StateConnected
		}
		c.lastError = ""
		c.mu.Unlock()
		c.setDisplayStatus(statusConnecting)
		return
	}
	c.lastError = err.Error()
	if c.opts.Policy.MaxAttempts > 0 && attempt >= c.opts.Policy.MaxAttempts {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.logger.Error("reconnect attempts exhausted", zap.Int("attempts", attempt), zap.Error(err))
		c.setDisplayStatus(statusConnectionFailed)
		return
	}
	c.state = StateReconnecting
	c.armTimerLocked()
	c.mu.Unlock()
	c.setDisplayStatus(fmt.Sprintf("reconnecting(%d)", attempt))
}

func (c *Controller) setDisplayStatus(status string) {
	if c.opts.Display != nil {
		c.opts.Display.SetStatus(status)
	}
}

// SendWakeWordDetected forwards to the current session.
func (c *Controller) SendWakeWordDetected(ctx context.Context, word string) error {
	s := c.Session()
	if s == nil {
		return transport.ErrNotConnected
	}
	return s.SendWakeWordDetected(ctx, word)
}

// SendDeviceStatusUpdate forwards to the current session.
func (c *Controller) SendDeviceStatusUpdate(ctx context.Context, name string, value int, ok bool) error {
	s := c.Session()
	if s == nil {
		return transport.ErrNotConnected
	}
	return s.SendDeviceStatusUpdate(ctx, name, value, ok)
}

// IsAudioChannelOpened reports whether the current session's audio channel is open.
func (c *Controller) IsAudioChannelOpened() bool {
	s := c.Session()
	return s != nil && s.IsAudioChannelOpened()
}

// SendCameraPhoto forwards to the current session.
func (c *Controller) SendCameraPhoto(ctx context.Context, data []byte, width int, height int, format string) error {
	s := c.Session()
	if s == nil {
		return transport.ErrNotConnected
	}
	return s.SendCameraPhoto(ctx, data, width, height, format)
}

// SendAudio forwards one encoded packet to the current session.
func (c *Controller) SendAudio(ctx context.Context, packet transport.AudioStreamPacket) error {
	s := c.Session()
	if s == nil {
		return transport.ErrNotConnected
	}
	return s.SendAudio(ctx, packet)
}

// ServerAudioParams returns the downstream format negotiated by the current session.
func (c *Controller) ServerAudioParams() transport.AudioParams {
	s := c.Session()
	if s == nil {
		return transport.AudioParams{}
	}
	return s.Channel().ServerAudioParams()
}
