package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/logger"
	"github.com/saker-ai/xiaozhi-client/internal/transport/codec"
)

const defaultHandshakeTimeout = 10 * time.Second

// WebsocketOptions holds the device identity and audio format sent on connect.
type WebsocketOptions struct {
	DeviceID         string
	ClientID         string
	AccessToken      string
	AudioParams      AudioParams
	HandshakeTimeout time.Duration
}

type serverHello struct {
	Type        string      `json:"type"`
	Transport   string      `json:"transport"`
	SessionID   string      `json:"session_id"`
	AudioParams AudioParams `json:"audio_params"`
}

// WebsocketChannel implements Channel over a gorilla websocket connection.
type WebsocketChannel struct {
	endpoint Endpoint
	opts     WebsocketOptions
	logger   *zap.Logger
	dialer   websocket.Dialer

	mu          sync.Mutex
	callbacks   Callbacks
	conn        *websocket.Conn
	opened      bool
	sessionID   string
	serverAudio AudioParams
	helloCh     chan serverHello
	writeMu     sync.Mutex
}

// NewWebsocketChannel executes the newWebsocketChannel function.
func NewWebsocketChannel(endpoint Endpoint, opts WebsocketOptions, log *zap.Logger) *WebsocketChannel {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &WebsocketChannel{
		endpoint: endpoint,
		opts:     opts,
		logger:   logger.OrNop(log).Named("websocket"),
		dialer:   websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
	}
}

// SetCallbacks executes the setCallbacks method.
func (c *WebsocketChannel) SetCallbacks(callbacks Callbacks) {
	c.mu.Lock()
	c.callbacks = callbacks
	c.mu.Unlock()
}

// Start validates the endpoint.
func (c *WebsocketChannel) Start(_ context.Context) error {
	if c.endpoint.URL == "" {
		return errors.New("websocket url is empty")
	}
	u, err := url.Parse(c.endpoint.URL)
	if err != nil {
		return fmt.Errorf("parse websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	return nil
}

// OpenAudioChannel dials the server, sends the client hello and waits for the server hello.
func (c *WebsocketChannel) OpenAudioChannel(ctx context.Context) error {
	headers := http.Header{}
	headers.Set("Protocol-Version", strconv.Itoa(codec.NormalizeVersion(c.endpoint.Version)))
	headers.Set("Device-Id", c.opts.DeviceID)
	headers.Set("Client-Id", c.opts.ClientID)
	if c.opts.AccessToken != "" {
		headers.Set("Authorization", "Bearer "+c.opts.AccessToken)
	}
	if c.endpoint.BoardName != "" {
		headers.Set("Board-Name", c.endpoint.BoardName)
	}
	if c.endpoint.AppVersion != "" {
		headers.Set("App-Version", c.endpoint.AppVersion)
	}
	if c.endpoint.DeviceStatus != "" {
		headers.Set("Device-Status", c.endpoint.DeviceStatus)
	}

	c.logger.Info("websocket connecting",
		zap.String("url", c.endpoint.URL),
		zap.Int("version", c.endpoint.Version),
		zap.String("device_id", c.opts.DeviceID),
	)
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint.URL, headers)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetPingHandler(func(appData string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	helloCh := make(chan serverHello, 1)
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.opened = false
	c.helloCh = helloCh
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.sendHello(ctx); err != nil {
		c.drop(conn)
		return fmt.Errorf("send hello: %w", err)
	}

	timer := time.NewTimer(c.opts.HandshakeTimeout)
	defer timer.Stop()
	var hello serverHello
	select {
	case hello = <-helloCh:
	case <-timer.C:
		c.drop(conn)
		return errors.New("server hello timeout")
	case <-ctx.Done():
		c.drop(conn)
		return ctx.Err()
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.opened = true
	c.sessionID = hello.SessionID
	c.serverAudio = hello.AudioParams
	cb := c.callbacks.OnAudioChannelOpened
	c.mu.Unlock()

	c.logger.Info("websocket audio channel opened",
		zap.String("session_id", hello.SessionID),
		zap.Int("server_sample_rate", hello.AudioParams.SampleRate),
		zap.Int("server_frame_duration", hello.AudioParams.FrameDuration),
	)
	if cb != nil {
		cb()
	}
	return nil
}

// CloseAudioChannel closes the connection and reports the channel closed if it was open.
func (c *WebsocketChannel) CloseAudioChannel() {
	c.mu.Lock()
	conn := c.conn
	wasOpen := c.opened
	c.conn = nil
	c.opened = false
	cb := c.callbacks.OnAudioChannelClosed
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()
	if wasOpen && cb != nil {
		cb()
	}
}

// IsAudioChannelOpened executes the isAudioChannelOpened method.
func (c *WebsocketChannel) IsAudioChannelOpened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened && c.conn != nil
}

// SessionID executes the sessionID method.
func (c *WebsocketChannel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ServerAudioParams executes the serverAudioParams method.
func (c *WebsocketChannel) ServerAudioParams() AudioParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	params := c.serverAudio
	if params.SampleRate <= 0 {
		params.SampleRate = c.opts.AudioParams.SampleRate
	}
	if params.FrameDuration <= 0 {
		params.FrameDuration = c.opts.AudioParams.FrameDuration
	}
	return params
}

// SendText executes the sendText method.
func (c *WebsocketChannel) SendText(ctx context.Context, data []byte) error {
	return c.write(ctx, websocket.TextMessage, data)
}

// SendAudio executes the sendAudio method.
func (c *WebsocketChannel) SendAudio(ctx context.Context, packet AudioStreamPacket) error {
	frame := codec.Pack(c.endpoint.Version, packet.Timestamp, packet.Payload)
	return c.write(ctx, websocket.BinaryMessage, frame)
}

func (c *WebsocketChannel) sendHello(ctx context.Context) error {
	payload := map[string]any{
		"type":         "hello",
		"version":      codec.NormalizeVersion(c.endpoint.Version),
		"features":     map[string]any{"mcp": true},
		"transport":    "websocket",
		"audio_params": c.opts.AudioParams,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(ctx, websocket.TextMessage, data)
}

func (c *WebsocketChannel) write(ctx context.Context, messageType int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	return conn.WriteMessage(messageType, data)
}

// drop closes conn without reporting a channel close; used when the handshake fails.
func (c *WebsocketChannel) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.opened = false
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *WebsocketChannel) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn
			wasOpen := c.opened
			if current {
				c.conn = nil
				c.opened = false
			}
			onClosed := c.callbacks.OnAudioChannelClosed
			onError := c.callbacks.OnNetworkError
			c.mu.Unlock()
			if !current {
				return
			}
			_ = conn.Close()
			if !wasOpen {
				return
			}
			// a close frame from the server is an orderly close, anything else a network error
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("websocket closed by server", zap.Error(err))
				if onClosed != nil {
					onClosed()
				}
				return
			}
			c.logger.Warn("websocket connection lost", zap.Error(err))
			if onError != nil {
				onError(err.Error())
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			c.handleText(data)
		case websocket.BinaryMessage:
			c.handleBinary(data)
		}
	}
}

func (c *WebsocketChannel) handleText(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.logger.Warn("websocket invalid json", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	if head.Type == "hello" {
		var hello serverHello
		if err := json.Unmarshal(data, &hello); err != nil {
			c.logger.Warn("websocket invalid hello", zap.Error(err))
			return
		}
		c.mu.Lock()
		ch := c.helloCh
		c.helloCh = nil
		c.mu.Unlock()
		if ch != nil {
			ch <- hello
			return
		}
	}
	c.mu.Lock()
	cb := c.callbacks.OnIncomingJSON
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *WebsocketChannel) handleBinary(data []byte) {
	frame, err := codec.Decode(c.endpoint.Version, data)
	if err != nil {
		c.logger.Warn("websocket invalid binary frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	if frame.Kind == codec.PayloadKindCommand {
		c.handleText(frame.Payload)
		return
	}
	params := c.ServerAudioParams()
	payload := make([]byte, len(frame.Payload))
	copy(payload, frame.Payload)

	c.mu.Lock()
	cb := c.callbacks.OnIncomingAudio
	c.mu.Unlock()
	if cb != nil {
		cb(AudioStreamPacket{
			SampleRate:    params.SampleRate,
			FrameDuration: params.FrameDuration,
			Timestamp:     frame.Timestamp,
			Payload:       payload,
		})
	}
}
