package llm

import "fmt"

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// openRouterModels lets the short names accepted by the other providers be
// used against OpenRouter, which expects vendor-qualified IDs.
var openRouterModels = map[string]string{
	"claude-haiku":  "anthropic/claude-3.5-haiku",
	"claude-sonnet": "anthropic/claude-sonnet-4",
	"gpt-4o":        "openai/gpt-4o",
	"gpt-4o-mini":   "openai/gpt-4o-mini",
	"gemini-flash":  "google/gemini-2.0-flash-001",
}

// OpenRouterProvider talks to OpenRouter through its OpenAI-compatible API.
type OpenRouterProvider struct {
	*OpenAIProvider
}

func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}

	inner, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:  cfg.APIKey,
		Model:   resolveModel(cfg.Model, openRouterModels),
		BaseURL: baseURL,
	})
	if err != nil {
		return nil, err
	}
	return &OpenRouterProvider{OpenAIProvider: inner}, nil
}
