package services

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"lawsim/config"
)

// AIClient generates text for a system instruction and a user prompt
type AIClient interface {
	Model() string
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewAIClient returns a Gemini client, or a client that always fails with
// ErrAIUnavailable when no API key is configured
func NewAIClient(ctx context.Context, cfg config.AIConfig) (AIClient, error) {
	if cfg.GeminiAPIKey == "" {
		return disabledAIClient{model: cfg.GeminiModel}, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.GeminiModel}, nil
}

func (g *GeminiClient) Model() string {
	return g.model
}

func (g *GeminiClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAIUnavailable, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrAIUnavailable)
	}
	return text, nil
}

type disabledAIClient struct {
	model string
}

func (d disabledAIClient) Model() string {
	return d.model
}

func (d disabledAIClient) Generate(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrAIUnavailable)
}
