// Package wire defines the JSON message protocol spoken over the
// client-facing websocket, one object per message.
package wire

import "encoding/json"

// Client-originated message types.
const (
	TypeConnect           = "connect"
	TypeBeginConversation = "begin_conversation"
	TypeGetSummary        = "get_summary"
)

// Server-originated message types.
const (
	TypeSession         = "session"
	TypeOpenAIConnected = "openai_connected"
	TypeTextDelta       = "text_response_delta"
	TypeTextDone        = "text_response_done"
	TypeAudioDelta      = "audio_response_delta"
	TypeAudioDone       = "audio_response_done"
	TypeActionExecuted  = "action_executed"
	TypeError           = "error"
)

// Inbound is a client-originated message. Audio is base64-encoded and only
// present on begin_conversation.
type Inbound struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

func ParseInbound(data []byte) (Inbound, error) {
	var in Inbound
	err := json.Unmarshal(data, &in)
	return in, err
}

type Session struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

func NewSession(sessionID string) Session {
	return Session{Type: TypeSession, SessionID: sessionID}
}

type OpenAIConnected struct {
	Type string `json:"type"`
}

func NewOpenAIConnected() OpenAIConnected {
	return OpenAIConnected{Type: TypeOpenAIConnected}
}

type TextDelta struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

func NewTextDelta(delta string) TextDelta {
	return TextDelta{Type: TypeTextDelta, Delta: delta}
}

type TextDone struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Role string `json:"role"`
}

func NewTextDone(text, role string) TextDone {
	return TextDone{Type: TypeTextDone, Text: text, Role: role}
}

type AudioDelta struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

func NewAudioDelta(delta string) AudioDelta {
	return AudioDelta{Type: TypeAudioDelta, Delta: delta}
}

type AudioDone struct {
	Type string `json:"type"`
}

func NewAudioDone() AudioDone {
	return AudioDone{Type: TypeAudioDone}
}

type ActionExecuted struct {
	Type    string `json:"type"`
	Action  string `json:"action"`
	Details any    `json:"details"`
}

func NewActionExecuted(action string, details any) ActionExecuted {
	return ActionExecuted{Type: TypeActionExecuted, Action: action, Details: details}
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}
