package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SubmissionState is a step of the upload flow
type SubmissionState int

const (
	Idle SubmissionState = iota
	Submitting
	Analyzed
	Failed
)

func (s SubmissionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Analyzed:
		return "analyzed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("SubmissionState(%d)", int(s))
	}
}

var (
	// ErrNoImage is returned when Submit or Retry has nothing to send
	ErrNoImage = errors.New("no image to submit")
	// ErrBusy is returned when a submission is already running
	ErrBusy = errors.New("submission already in progress")
)

// Submission drives one bill upload: Idle, Submitting, then Analyzed or Failed
type Submission struct {
	api Analyzer

	mu    sync.Mutex
	state SubmissionState
	image string
	id    string
	err   error
}

// NewSubmission creates an idle submission
func NewSubmission(api Analyzer) *Submission {
	return &Submission{api: api}
}

// Submit sends the image and blocks until the analysis is stored or fails.
// The returned ID addresses the stored record.
func (s *Submission) Submit(ctx context.Context, imageData string) (string, error) {
	if imageData == "" {
		return "", ErrNoImage
	}

	s.mu.Lock()
	if s.state == Submitting {
		s.mu.Unlock()
		return "", ErrBusy
	}
	s.state = Submitting
	s.image = imageData
	s.id = ""
	s.err = nil
	s.mu.Unlock()

	id, err := s.api.Analyze(ctx, imageData)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = Failed
		s.err = err
		return "", fmt.Errorf("submitting bill: %w", err)
	}
	s.state = Analyzed
	s.id = id
	return id, nil
}

// Retry resubmits the image kept from the last attempt
func (s *Submission) Retry(ctx context.Context) (string, error) {
	return s.Submit(ctx, s.Image())
}

// Reset returns to Idle after a failure has been shown. The image is kept.
func (s *Submission) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Submitting {
		return
	}
	s.state = Idle
	s.id = ""
	s.err = nil
}

// State returns the current state
func (s *Submission) State() SubmissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the stored record ID once Analyzed
func (s *Submission) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Err returns the failure kept for display
func (s *Submission) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Image returns the last submitted image
func (s *Submission) Image() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}
