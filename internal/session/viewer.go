package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RedirectDelay is how long a failed load is shown before returning home
const RedirectDelay = 2 * time.Second

// ViewerState is a step of the result page flow
type ViewerState int

const (
	Loading ViewerState = iota
	Loaded
	NotFoundRedirect
)

func (s ViewerState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case NotFoundRedirect:
		return "not found"
	default:
		return fmt.Sprintf("ViewerState(%d)", int(s))
	}
}

// ErrNotLoaded is returned when a chat is requested before the analysis loads
var ErrNotLoaded = errors.New("analysis not loaded")

// ViewerAPI is what the result flow needs from the server
type ViewerAPI interface {
	Fetcher
	Asker
}

// Viewer loads one stored analysis and hosts its chat
type Viewer struct {
	api   ViewerAPI
	id    string
	delay time.Duration

	mu       sync.Mutex
	state    ViewerState
	analysis *Analysis
	err      error
	chat     *Chat
}

// NewViewer creates a viewer in the Loading state
func NewViewer(api ViewerAPI, id string) *Viewer {
	return &Viewer{
		api:   api,
		id:    id,
		delay: RedirectDelay,
	}
}

// Load fetches the analysis. Any failure moves the viewer to NotFoundRedirect.
func (v *Viewer) Load(ctx context.Context) (*Analysis, error) {
	analysis, err := v.api.Get(ctx, v.id)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		slog.Error("Failed to load analysis", "id", v.id, "error", err)
		v.state = NotFoundRedirect
		v.err = err
		return nil, fmt.Errorf("loading analysis %s: %w", v.id, err)
	}
	v.state = Loaded
	v.analysis = analysis
	return analysis, nil
}

// WaitRedirect blocks for the redirect delay after a failed load. It returns
// immediately when the viewer is not redirecting.
func (v *Viewer) WaitRedirect(ctx context.Context) error {
	if v.State() != NotFoundRedirect {
		return nil
	}
	timer := time.NewTimer(v.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Chat returns the chat for the loaded analysis, creating it on first use
func (v *Viewer) Chat() (*Chat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Loaded {
		return nil, ErrNotLoaded
	}
	if v.chat == nil {
		v.chat = NewChat(v.api, v.id)
	}
	return v.chat, nil
}

// State returns the current state
func (v *Viewer) State() ViewerState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Analysis returns the loaded analysis, or nil
func (v *Viewer) Analysis() *Analysis {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.analysis
}

// Err returns the load failure, if any
func (v *Viewer) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// ID returns the analysis ID being viewed
func (v *Viewer) ID() string {
	return v.id
}
