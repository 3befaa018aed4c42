package realtime

import (
	"encoding/json"
	"strings"

	"github.com/clinicvoice/relay/pkg/errorsx"
)

// Role tags one side of the interpreted conversation.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// Opposite returns the other conversation role.
func (r Role) Opposite() Role {
	if r == RoleDoctor {
		return RolePatient
	}
	return RoleDoctor
}

// Transcript is the structured payload the model is instructed to emit for
// every completed text turn.
type Transcript struct {
	Text string `json:"text"`
	Role Role   `json:"role"`
}

// ParseTranscript decodes a completed text turn. The model sometimes wraps
// its JSON in a markdown code fence; the fence is stripped before parsing.
func ParseTranscript(raw string) (Transcript, error) {
	clean := stripFence(raw)
	var tr Transcript
	if err := json.Unmarshal([]byte(clean), &tr); err != nil {
		return Transcript{}, errorsx.Wrap(err, errorsx.ReasonProtocolDecode)
	}
	if !tr.Role.Valid() {
		return Transcript{}, errorsx.New(errorsx.ReasonProtocolDecode, "unexpected transcript role %q", tr.Role)
	}
	if strings.TrimSpace(tr.Text) == "" {
		return Transcript{}, errorsx.New(errorsx.ReasonProtocolDecode, "empty transcript text")
	}
	return tr, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
