package protocol

import (
	"encoding/json"
	"strconv"
	"strings"
)

// AbortReason qualifies an abort message.
type AbortReason string

const (
	AbortReasonNone             AbortReason = ""
	AbortReasonWakeWordDetected AbortReason = "wake_word_detected"
)

// Message types exchanged over the control channel.
const (
	TypeHello               = "hello"
	TypeListen              = "listen"
	TypeAbort               = "abort"
	TypeIot                 = "iot"
	TypeDeviceStatus        = "device_status"
	TypeWelcome             = "welcome"
	TypeAdminMessage        = "admin_message"
	TypeCameraPhotoResponse = "camera_photo_response"
	TypeTTS                 = "tts"
	TypeSTT                 = "stt"
	TypeLLM                 = "llm"
)

// Envelope is the common shape of inbound control messages. Only the fields
// relevant to a given type are populated.
type Envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state,omitempty"`
	Text      string `json:"text,omitempty"`
	Emotion   string `json:"emotion,omitempty"`

	DeviceID       string          `json:"deviceId,omitempty"`
	MessageType    string          `json:"messageType,omitempty"`
	Sender         string          `json:"sender,omitempty"`
	SenderDeviceID string          `json:"sender_device_id,omitempty"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	Content        json.RawMessage `json:"content,omitempty"`

	Status      string          `json:"status,omitempty"`
	Message     string          `json:"message,omitempty"`
	Filename    string          `json:"filename,omitempty"`
	RegionIndex json.RawMessage `json:"region_index,omitempty"`
}

// ParseEnvelope decodes an inbound control message.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// ContentString returns content as text. A JSON string is unquoted; any other
// JSON value is returned verbatim so nested objects can be parsed by the caller.
func (e Envelope) ContentString() string {
	raw := strings.TrimSpace(string(e.Content))
	if raw == "" || raw == "null" {
		return ""
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(e.Content, &s); err == nil {
			return s
		}
	}
	return raw
}

// AdminMessageType returns messageType, defaulting to text.
func (e Envelope) AdminMessageType() string {
	if e.MessageType == "" {
		return "text"
	}
	return e.MessageType
}

// Region returns region_index from a number or a numeric string.
func (e Envelope) Region() (int, bool) {
	raw := strings.Trim(strings.TrimSpace(string(e.RegionIndex)), `"`)
	if raw == "" || raw == "null" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// CameraPhoto is the payload of an iot camera_photo message.
type CameraPhoto struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Data   string `json:"data"`
}
