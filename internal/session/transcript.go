package session

import "sync"

// Role identifies who authored a chat turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Greeting opens every transcript
const Greeting = "I've analyzed your medical bill. How can I help you understand it better? Feel free to ask any questions about the charges, services, or insurance details."

// ChatTurn is one message in a transcript
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is an append-only, client-side list of chat turns
type Transcript struct {
	mu    sync.RWMutex
	turns []ChatTurn
}

// NewTranscript creates a transcript holding the greeting
func NewTranscript() *Transcript {
	return &Transcript{
		turns: []ChatTurn{{Role: RoleAssistant, Content: Greeting}},
	}
}

// Append adds a turn to the end
func (t *Transcript) Append(turn ChatTurn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, turn)
}

// Turns returns a copy of every turn in order
func (t *Transcript) Turns() []ChatTurn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	turns := make([]ChatTurn, len(t.turns))
	copy(turns, t.turns)
	return turns
}

// Len returns the number of turns
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}
