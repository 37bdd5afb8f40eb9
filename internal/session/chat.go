package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrChatPending is returned when a question is already in flight
	ErrChatPending = errors.New("a question is already pending")
	// ErrEmptyQuestion is returned for blank questions
	ErrEmptyQuestion = errors.New("question is empty")
)

// Chat is the question and answer loop for one loaded analysis
type Chat struct {
	api        Asker
	id         string
	transcript *Transcript

	mu      sync.Mutex
	pending bool
}

// NewChat creates a chat for the analysis with the given ID
func NewChat(api Asker, id string) *Chat {
	return &Chat{
		api:        api,
		id:         id,
		transcript: NewTranscript(),
	}
}

// Send appends the question to the transcript and asks it. On success the
// answer is appended too; on failure the error is returned and nothing else
// is appended, so the caller can log it and keep accepting input.
func (c *Chat) Send(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return "", ErrChatPending
	}
	c.pending = true
	c.transcript.Append(ChatTurn{Role: RoleUser, Content: question})
	c.mu.Unlock()

	answer, err := c.api.Ask(ctx, c.id, question)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
	if err != nil {
		return "", fmt.Errorf("asking question: %w", err)
	}
	c.transcript.Append(ChatTurn{Role: RoleAssistant, Content: answer})
	return answer, nil
}

// Pending reports whether a question is in flight
func (c *Chat) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Turns returns the transcript so far
func (c *Chat) Turns() []ChatTurn {
	return c.transcript.Turns()
}

// ID returns the analysis ID this chat is about
func (c *Chat) ID() string {
	return c.id
}
