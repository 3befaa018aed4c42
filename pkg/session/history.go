package session

import (
	"sync"

	"github.com/clinicvoice/relay/pkg/realtime"
)

// Entry is one role-tagged transcript line.
type Entry struct {
	Role realtime.Role
	Text string
}

// History is the session-scoped conversation transcript: append-only while
// the session lives, discarded at teardown. Appends arrive from the
// upstream event loop while reads come from the client loop, hence the lock.
type History struct {
	mu         sync.Mutex
	entries    []Entry
	lastByRole map[realtime.Role]string
}

func NewHistory() *History {
	return &History{lastByRole: make(map[realtime.Role]string)}
}

func (h *History) Append(role realtime.Role, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Entry{Role: role, Text: text})
	h.lastByRole[role] = text
}

// LastByRole returns the most recent transcript text for a role, or "".
func (h *History) LastByRole(role realtime.Role) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastByRole[role]
}

func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Entry(nil), h.entries...)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Reset discards all entries.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.lastByRole = make(map[realtime.Role]string)
}
