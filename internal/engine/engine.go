package engine

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrContentBlocked is matched by every BlockedError
	ErrContentBlocked = errors.New("content blocked")

	// ErrEngine wraps transport and model failures
	ErrEngine = errors.New("analysis engine error")
)

// BlockedError is returned when the model's safety filter withholds a response
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("response blocked: %s", e.Reason)
}

// Is lets errors.Is(err, ErrContentBlocked) match any BlockedError
func (e *BlockedError) Is(target error) bool {
	return target == ErrContentBlocked
}

// Engine defines the interface for bill analysis operations
type Engine interface {
	// Analyze produces a markdown report for a bill image
	Analyze(ctx context.Context, img Image) (string, error)

	// Chat answers a single question about a bill. Only the original image and
	// analysis are used as context, never earlier questions.
	Chat(ctx context.Context, question string, img Image, priorAnalysis string) (string, error)

	// Close closes the engine and releases resources
	Close() error
}

// engineError wraps err so that it matches ErrEngine, keeping BlockedError intact
func engineError(op string, err error) error {
	if errors.Is(err, ErrContentBlocked) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrEngine, err)
}
