package llm

import (
	"context"
	"encoding/json"
)

// Provider generates a reply for a Request. Content analysis and question
// authoring only depend on this interface; the SDK adapters, the retry and
// logging decorators and the mock all implement it.
type Provider interface {
	// Generate returns the model's reply. When req.Schema is set the reply
	// Content has already been checked against it.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID is the configured model, used for pricing and event records.
	ModelID() string
}

// Request is a single-turn or multi-turn prompt.
type Request struct {
	System   string
	Messages []Message

	// Schema, when set, asks the provider for JSON matching it through the
	// vendor's structured output feature. Without it Content is raw text.
	Schema *Schema

	MaxTokens int

	// Temperature in [0, 1]. Zero keeps analysis results repeatable.
	Temperature float64
}

type Message struct {
	Role    Role
	Content string
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema describes the JSON document expected back.
type Schema struct {
	// Name is kebab-case, e.g. "content-analysis". Providers use it as the
	// tool or response format name.
	Name        string
	Description string
	Definition  map[string]any
}

type Response struct {
	Content json.RawMessage
	Usage   Usage
	Model   string

	// StopReason is one of "end", "max_tokens" or "error".
	StopReason string
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
