package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model name is configured
const DefaultGeminiModel = "gemini-1.5-flash"

// geminiNative lists the MIME types Gemini accepts as inline data
var geminiNative = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// safetySettings blocks medium and above in every harm category
var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockMediumAndAbove},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockMediumAndAbove},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockMediumAndAbove},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockMediumAndAbove},
}

// contentGenerator is the subset of *genai.GenerativeModel used here
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Gemini implements the Engine interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  contentGenerator
}

// NewGemini creates a new Gemini Engine instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SafetySettings = safetySettings

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// NewGeminiWithModel creates a Gemini engine around an existing generator for testing
func NewGeminiWithModel(model contentGenerator) *Gemini {
	return &Gemini{model: model}
}

// Analyze produces a markdown report for a bill image
func (g *Gemini) Analyze(ctx context.Context, img Image) (string, error) {
	text, err := g.generate(ctx, analysisPrompt, img)
	if err != nil {
		return "", engineError("analyzing bill", err)
	}
	return text, nil
}

// Chat answers one question grounded on the bill image and its analysis
func (g *Gemini) Chat(ctx context.Context, question string, img Image, priorAnalysis string) (string, error) {
	text, err := g.generate(ctx, chatPrompt(question, priorAnalysis), img)
	if err != nil {
		return "", engineError("answering question", err)
	}
	return text, nil
}

func (g *Gemini) generate(ctx context.Context, prompt string, img Image) (string, error) {
	data, mimeType, err := prepareImage(img, geminiNative)
	if err != nil {
		return "", err
	}

	parts := []genai.Part{
		genai.Text(prompt),
		genai.Blob{MIMEType: mimeType, Data: data},
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", &BlockedError{Reason: blockReason(blocked.PromptFeedback, blocked.Candidate)}
		}
		return "", fmt.Errorf("generating content: %w", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return "", &BlockedError{Reason: blockReason(resp.PromptFeedback, nil)}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from gemini")
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", &BlockedError{Reason: blockReason(nil, resp.Candidates[0])}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	if responseText.Len() == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	return responseText.String(), nil
}

// blockReason names why gemini withheld a response
func blockReason(feedback *genai.PromptFeedback, candidate *genai.Candidate) string {
	if feedback != nil && feedback.BlockReason != genai.BlockReasonUnspecified {
		return feedback.BlockReason.String()
	}
	if candidate != nil {
		return candidate.FinishReason.String()
	}
	return "unknown"
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
