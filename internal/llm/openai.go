package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"datachat/internal/logging"
)

// OpenAIClient implements Client on any OpenAI-compatible chat endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for api.openai.com or, when baseURL is
// set, a compatible local server (vLLM, Ollama, llama.cpp).
func NewOpenAIClient(apiKey, baseURL, model string, timeout time.Duration) (*OpenAIClient, error) {
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Complete sends a single user prompt.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.chat(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.chat(ctx, systemPrompt, userPrompt)
}

func (c *OpenAIClient) chat(ctx context.Context, system, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "openai.CreateChatCompletion")
	defer timer.Stop()

	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
