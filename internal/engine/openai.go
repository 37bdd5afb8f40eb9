package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	// DefaultOpenAIModel is used when no model name is configured
	DefaultOpenAIModel = "gpt-4o-mini"

	openAIMaxTokens = 2048
)

// openAINative lists the image types OpenAI vision models accept
var openAINative = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// OpenAI implements the Engine interface using an OpenAI-compatible chat completion API
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a new OpenAI Engine instance. An empty baseURL uses the public API.
func NewOpenAI(apiKey, modelName, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if modelName == "" {
		modelName = DefaultOpenAIModel
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
	}, nil
}

// Analyze produces a markdown report for a bill image
func (o *OpenAI) Analyze(ctx context.Context, img Image) (string, error) {
	text, err := o.complete(ctx, analysisPrompt, img)
	if err != nil {
		return "", engineError("analyzing bill", err)
	}
	return text, nil
}

// Chat answers one question grounded on the bill image and its analysis
func (o *OpenAI) Chat(ctx context.Context, question string, img Image, priorAnalysis string) (string, error) {
	text, err := o.complete(ctx, chatPrompt(question, priorAnalysis), img)
	if err != nil {
		return "", engineError("answering question", err)
	}
	return text, nil
}

func (o *OpenAI) complete(ctx context.Context, prompt string, img Image) (string, error) {
	data, mimeType, err := prepareImage(img, openAINative)
	if err != nil {
		return "", err
	}
	prepared := img
	if mimeType != img.MIMEType {
		prepared = Image{MIMEType: mimeType, Payload: encodeBase64(data), Data: data}
	}

	req := openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: openAIMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    prepared.DataURL(),
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && fmt.Sprint(apiErr.Code) == string(openai.FinishReasonContentFilter) {
			return "", &BlockedError{Reason: string(openai.FinishReasonContentFilter)}
		}
		return "", fmt.Errorf("creating chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", &BlockedError{Reason: string(choice.FinishReason)}
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", fmt.Errorf("empty response from openai")
	}
	return choice.Message.Content, nil
}

// Close is a no-op for the HTTP client
func (o *OpenAI) Close() error {
	return nil
}
