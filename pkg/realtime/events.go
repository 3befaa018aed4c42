package realtime

// Event types received from the realtime endpoint.
const (
	eventSessionCreated = "session.created"
	eventSessionUpdated = "session.updated"
	eventTextDelta      = "response.text.delta"
	eventTextDone       = "response.text.done"
	eventAudioDelta     = "response.audio.delta"
	eventAudioDone      = "response.audio.done"
	eventFunctionDone   = "response.function_call_arguments.done"
	eventError          = "error"
)

// serverEvent is the decoded superset of inbound frames. Unknown types are
// ignored so newer upstream event kinds never fail a session.
type serverEvent struct {
	Type      string `json:"type"`
	Delta     string `json:"delta,omitempty"`
	Text      string `json:"text,omitempty"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (ev serverEvent) errorMessage() string {
	if ev.Error != nil && ev.Error.Message != "" {
		return ev.Error.Message
	}
	if ev.Message != "" {
		return ev.Message
	}
	return "unknown upstream error"
}

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities   []string         `json:"modalities"`
	Instructions string           `json:"instructions"`
	Voice        string           `json:"voice,omitempty"`
	Tools        []map[string]any `json:"tools,omitempty"`
	ToolChoice   string           `json:"tool_choice,omitempty"`
}

type itemCreateEvent struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type contentPart struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
	Text  string `json:"text,omitempty"`
}

type responseCreateEvent struct {
	Type     string          `json:"type"`
	Response *responseConfig `json:"response,omitempty"`
}

type responseConfig struct {
	Modalities   []string         `json:"modalities,omitempty"`
	Instructions string           `json:"instructions,omitempty"`
	Tools        []map[string]any `json:"tools,omitempty"`
	ToolChoice   string           `json:"tool_choice,omitempty"`
}
