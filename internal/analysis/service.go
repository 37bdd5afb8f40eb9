package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/bill-explainer/internal/engine"
)

// Service coordinates the engine and the store for bill analyses
type Service struct {
	store  Store
	engine engine.Engine
	images *engine.ImageParser
}

// NewService creates a new Service with the default image limits
func NewService(store Store, eng engine.Engine) *Service {
	return NewServiceWithDeps(store, eng, engine.NewImageParser(engine.DefaultMaxImageBytes))
}

// NewServiceWithDeps creates a new Service with a custom image parser
func NewServiceWithDeps(store Store, eng engine.Engine, images *engine.ImageParser) *Service {
	return &Service{
		store:  store,
		engine: eng,
		images: images,
	}
}

// MaxImageBytes reports the decoded image size limit
func (s *Service) MaxImageBytes() int {
	return s.images.MaxBytes
}

// Submit analyzes a bill image and persists the result. A record is only
// created after the engine succeeds; refusal text counts as a valid analysis.
func (s *Service) Submit(ctx context.Context, imageData string) (*Record, error) {
	img, err := s.parseImage(imageData)
	if err != nil {
		return nil, err
	}

	text, err := s.engine.Analyze(ctx, img)
	if err != nil {
		slog.Error("Failed to analyze bill",
			"mime_type", img.MIMEType,
			"image_size", len(img.Data),
			"error", err,
		)
		return nil, fmt.Errorf("analyzing bill: %w", err)
	}

	id, err := s.store.Create(ctx, imageData, text)
	if err != nil {
		return nil, fmt.Errorf("saving analysis: %w", err)
	}

	slog.Info("Stored analysis", "id", id, "mime_type", img.MIMEType)
	return &Record{
		ID:           id,
		ImageData:    imageData,
		AnalysisText: text,
	}, nil
}

// Save persists an analysis produced elsewhere
func (s *Service) Save(ctx context.Context, imageData, analysisText string) (string, error) {
	if imageData == "" || analysisText == "" {
		return "", fmt.Errorf("%w: image data and analysis are required", ErrValidation)
	}
	if _, err := s.parseImage(imageData); err != nil {
		return "", err
	}

	id, err := s.store.Create(ctx, imageData, analysisText)
	if err != nil {
		return "", fmt.Errorf("saving analysis: %w", err)
	}
	return id, nil
}

// Get retrieves an analysis by ID
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: analysis id is required", ErrValidation)
	}

	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting analysis: %w", err)
	}
	return record, nil
}

// Chat answers a question about a stored analysis. Each call is independent:
// the engine sees the stored image, the stored analysis and this question only.
func (s *Service) Chat(ctx context.Context, id, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: question is required", ErrValidation)
	}

	record, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	img, err := s.images.Parse(record.ImageData)
	if err != nil {
		return "", fmt.Errorf("%w: stored image is unreadable: %w", ErrStoreRead, err)
	}

	answer, err := s.engine.Chat(ctx, question, img, record.AnalysisText)
	if err != nil {
		slog.Error("Failed to answer question", "id", id, "error", err)
		return "", fmt.Errorf("answering question: %w", err)
	}
	return answer, nil
}

func (s *Service) parseImage(imageData string) (engine.Image, error) {
	if imageData == "" {
		return engine.Image{}, fmt.Errorf("%w: image data is required", ErrValidation)
	}
	img, err := s.images.Parse(imageData)
	if err != nil {
		return engine.Image{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return img, nil
}
