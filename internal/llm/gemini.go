package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"datachat/internal/logging"
)

// GeminiClient implements Client on the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	cc := &genai.ClientConfig{APIKey: apiKey}
	if timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: timeout}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Complete sends a single user prompt.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, nil, prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var sys *genai.Content
	if systemPrompt != "" {
		sys = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	return c.generate(ctx, sys, userPrompt)
}

func (c *GeminiClient) generate(ctx context.Context, system *genai.Content, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "gemini.GenerateContent")
	defer timer.Stop()

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       genai.Ptr[float32](0.2),
	}
	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
