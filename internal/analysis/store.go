package analysis

import (
	"context"
	"errors"
)

var (
	// ErrValidation is returned when required input is missing or malformed
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when no record matches an ID
	ErrNotFound = errors.New("analysis not found")

	// ErrStoreWrite wraps every failure to persist a record
	ErrStoreWrite = errors.New("storing analysis")

	// ErrStoreRead wraps retrieval failures other than ErrNotFound
	ErrStoreRead = errors.New("reading analysis")
)

// Store defines the interface for analysis record persistence
type Store interface {
	// Create inserts a new record and returns its generated ID
	Create(ctx context.Context, imageData, analysisText string) (string, error)

	// Get retrieves a record by ID
	Get(ctx context.Context, id string) (*Record, error)

	// Close releases the underlying connection
	Close() error
}
