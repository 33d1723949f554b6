package config

import "time"

// LLMConfig selects the model provider and its credentials.
type LLMConfig struct {
	// Model in "provider/name" or bare form, e.g. "gemini-2.5-flash" or
	// "openai/gpt-4o-mini". Requests may override it per question.
	Model string `yaml:"model" json:"model"`

	GeminiAPIKey string `yaml:"gemini_api_key" json:"gemini_api_key,omitempty"`
	OpenAIAPIKey string `yaml:"openai_api_key" json:"openai_api_key,omitempty"`

	// OpenAIBaseURL points the OpenAI client at a compatible server
	// (llama.cpp, vLLM, Ollama). Empty means api.openai.com.
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url,omitempty"`

	// RequestTimeout bounds a single model call.
	RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout"`
}

// DefaultLLMConfig returns provider defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:          "gemini-2.5-flash",
		RequestTimeout: Duration(2 * time.Minute),
	}
}
