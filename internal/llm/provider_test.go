package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/logger"
	"github.com/abhisek/pathwise/internal/store/memstore"
)

func TestMockProvider_FIFOAndCalls(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{"a":1}`), Usage: Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
	)
	mock.AddResponse(MockResponse{Err: &ErrRateLimit{}})

	resp, err := mock.Generate(context.Background(), Request{System: "sys"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(resp.Content))
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, "end", resp.StopReason)

	_, err = mock.Generate(context.Background(), Request{})
	var rl *ErrRateLimit
	assert.True(t, errors.As(err, &rl))

	_, err = mock.Generate(context.Background(), Request{})
	var unavail *ErrProviderUnavailable
	assert.True(t, errors.As(err, &unavail), "empty queue should report unavailable")

	assert.Equal(t, 3, mock.CallCount())
	assert.Equal(t, "sys", mock.Calls[0].System)
	assert.Equal(t, "mock", mock.ModelID())
}

func TestMockProvider_ScriptedBySchema(t *testing.T) {
	analysis := &Schema{Name: "content-analysis", Definition: contentAnalysisDefinition()}
	authoring := &Schema{Name: "question-authoring", Definition: map[string]any{"type": "object"}}

	mock := NewMockProvider(MockResponse{Content: json.RawMessage(`"shared"`)})
	mock.Script(analysis.Name, MockResponse{Content: json.RawMessage(`{"topics":["limits"],"difficulty":0.2}`)})

	// Authoring has nothing scripted, so it falls back to the shared queue.
	resp, err := mock.Generate(context.Background(), Request{Schema: authoring})
	require.NoError(t, err)
	assert.JSONEq(t, `"shared"`, string(resp.Content))

	resp, err = mock.Generate(context.Background(), Request{Schema: analysis})
	require.NoError(t, err)
	assert.JSONEq(t, `{"topics":["limits"],"difficulty":0.2}`, string(resp.Content))

	_, err = mock.Generate(context.Background(), Request{Schema: analysis})
	var unavail *ErrProviderUnavailable
	require.True(t, errors.As(err, &unavail))
	assert.Contains(t, err.Error(), "content-analysis")

	assert.Len(t, mock.CallsFor(analysis.Name), 2)
	assert.Len(t, mock.CallsFor(authoring.Name), 1)
}

func TestMockProvider_StrictChecksSchema(t *testing.T) {
	analysis := &Schema{Name: "content-analysis", Definition: contentAnalysisDefinition()}
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{"topics":["limits"]}`)},
		MockResponse{Content: json.RawMessage("```json\n{\"topics\":[],\"difficulty\":0.5}\n```")},
	)
	mock.Strict = true

	_, err := mock.Generate(context.Background(), Request{Schema: analysis})
	var invalid *ErrInvalidResponse
	require.True(t, errors.As(err, &invalid), "missing difficulty must be rejected")

	resp, err := mock.Generate(context.Background(), Request{Schema: analysis})
	require.NoError(t, err)
	assert.JSONEq(t, `{"topics":[],"difficulty":0.5}`, string(resp.Content))
}

func TestPurposeContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, PurposeUnknown, PurposeFrom(ctx))
	assert.Equal(t, PurposeContentAnalysis, PurposeFrom(WithPurpose(ctx, PurposeContentAnalysis)))
	assert.Equal(t, PurposeUnknown, PurposeFrom(WithPurpose(ctx, "")))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"anthropic without key", Config{Provider: "anthropic"}, true},
		{"anthropic with key", Config{Provider: "anthropic", Anthropic: AnthropicConfig{APIKey: "sk-test"}}, false},
		{"openrouter without key", Config{Provider: "openrouter"}, true},
		{"gemini with key", Config{Provider: "gemini", Gemini: GeminiConfig{APIKey: "k"}}, false},
		{"mock needs no key", Config{Provider: "mock"}, false},
		{"disabled", Config{Provider: "none"}, false},
		{"unknown provider", Config{Provider: "unknown"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperr.Is(err, apperr.KindConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PATHWISE_LLM_PROVIDER", "openai")
	t.Setenv("PATHWISE_OPENAI_API_KEY", "sk-env")
	t.Setenv("PATHWISE_LLM_TIMEOUT", "5s")

	cfg := ConfigFromEnv()
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestAsAppError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"rate limit", &ErrRateLimit{RetryAfter: 3 * time.Second}, apperr.KindRateLimited},
		{"credential", &ErrInvalidCredential{Err: errors.New("401")}, apperr.KindUnavailable},
		{"unavailable", &ErrProviderUnavailable{}, apperr.KindUnavailable},
		{"invalid response", &ErrInvalidResponse{Err: errors.New("bad")}, apperr.KindUnavailable},
		{"already app error", apperr.Validation("bad input"), apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsAppError(tt.err)
			assert.Equal(t, tt.want, apperr.KindOf(got))
			assert.True(t, errors.Is(got, tt.err) || got == tt.err)
		})
	}

	var ae *apperr.Error
	require.True(t, errors.As(AsAppError(&ErrRateLimit{RetryAfter: 3 * time.Second}), &ae))
	assert.Equal(t, 3*time.Second, ae.RetryAfter)

	assert.Nil(t, AsAppError(nil))
	plain := errors.New("plain")
	assert.Equal(t, plain, AsAppError(plain))
}

func TestLoggingProvider_RecordsEvents(t *testing.T) {
	events := memstore.New()
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{"ok":true}`), Usage: Usage{InputTokens: 12, OutputTokens: 4}},
		MockResponse{Err: &ErrProviderUnavailable{}},
	)
	p := WithLogging(mock, "mock", events, logger.Nop())

	ctx := WithPurpose(context.Background(), "question-authoring")
	_, err := p.Generate(ctx, Request{System: "sys", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	_, err = p.Generate(ctx, Request{})
	require.Error(t, err)

	recorded := events.LLMRequests()
	require.Len(t, recorded, 2)
	assert.Equal(t, "question-authoring", recorded[0].Purpose)
	assert.Equal(t, 12, recorded[0].InputTokens)
	assert.True(t, recorded[0].Success)
	assert.Contains(t, recorded[0].RequestBody, "[system]")
	assert.False(t, recorded[1].Success)
	assert.NotEmpty(t, recorded[1].ErrorMessage)
}

func TestNewProvider_Mock(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Provider: "mock"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock", p.ModelID())

	_, err = NewProvider(context.Background(), Config{Provider: "anthropic"}, nil, nil)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func TestModelCost(t *testing.T) {
	c := LookupCost("gpt-4o-mini")
	require.NotNil(t, c)
	assert.InDelta(t, 0.15+0.6, c.Cost(1_000_000, 1_000_000), 1e-9)
	assert.Nil(t, LookupCost("no-such-model"))
}
