package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"text/template"

	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/llm"
)

// RemoteConfig holds configuration for the LLM analyzer.
type RemoteConfig struct {
	MaxTokens   int
	Temperature float64
}

// DefaultRemoteConfig returns sensible defaults.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		MaxTokens:   512,
		Temperature: 0.1,
	}
}

// RemoteAnalyzer asks an LLM to tag content with catalog topics.
type RemoteAnalyzer struct {
	provider llm.Provider
	graph    *catalog.Graph
	cfg      RemoteConfig
}

// NewRemoteAnalyzer creates an LLM-backed analyzer.
func NewRemoteAnalyzer(provider llm.Provider, graph *catalog.Graph, cfg RemoteConfig) *RemoteAnalyzer {
	return &RemoteAnalyzer{provider: provider, graph: graph, cfg: cfg}
}

func (a *RemoteAnalyzer) Name() string { return "llm" }

// analysisOutput is the raw LLM response.
type analysisOutput struct {
	Topics     []string `json:"topics"`
	Difficulty float64  `json:"difficulty"`
	Summary    string   `json:"summary"`
}

// Analyze sends the content to the LLM. Provider failures are returned as
// apperr kinds so the selector can tell external failures apart.
func (a *RemoteAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	ctx = llm.WithPurpose(ctx, llm.PurposeContentAnalysis)

	candidates := candidateTopics(a.graph, req.SubjectArea)
	userMsg, err := buildAnalysisMessage(req, candidates)
	if err != nil {
		return nil, fmt.Errorf("build analysis prompt: %w", err)
	}

	resp, err := a.provider.Generate(ctx, llm.Request{
		System:      analysisSystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: userMsg}},
		Schema:      ContentAnalysisSchema,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return nil, llm.AsAppError(err)
	}

	var raw analysisOutput
	if err := json.Unmarshal(resp.Content, &raw); err != nil {
		return nil, llm.AsAppError(&llm.ErrInvalidResponse{Content: resp.Content, Err: err})
	}

	// Topics outside the candidate list are dropped rather than trusted.
	allowed := make(map[string]bool, len(candidates))
	for _, t := range candidates {
		allowed[t.ID] = true
	}
	var topics []string
	for _, t := range raw.Topics {
		if allowed[t] && !slices.Contains(topics, t) {
			topics = append(topics, t)
		}
	}

	return &Result{
		Topics:     topics,
		Difficulty: clamp01(raw.Difficulty),
		Summary:    raw.Summary,
	}, nil
}

// ContentAnalysisSchema is the structured output requested from the LLM.
var ContentAnalysisSchema = &llm.Schema{
	Name:        "content-analysis",
	Description: "Catalog topics and a normalized difficulty for a piece of learning content",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"topics": map[string]any{
				"type":        "array",
				"description": "IDs of catalog topics the content tests or teaches",
				"items":       map[string]any{"type": "string"},
			},
			"difficulty": map[string]any{
				"type":        "number",
				"description": "Difficulty from 0.0 (introductory) to 1.0 (advanced)",
				"minimum":     0,
				"maximum":     1,
			},
			"summary": map[string]any{
				"type":        "string",
				"description": "One sentence describing the content",
			},
		},
		"required":             []any{"topics", "difficulty"},
		"additionalProperties": false,
	},
}

const analysisSystemPrompt = `You classify learning content for an adaptive learning engine.

Instructions:
- Choose topics only from the candidate list, using their IDs exactly.
- Return an empty topic list if none of the candidates apply.
- Rate difficulty from 0.0 (introductory) to 1.0 (advanced).
- Keep the summary to one sentence.`

var analysisUserTemplate = template.Must(template.New("analysis").Parse(`Analysis type: {{.Type}}
{{- if .SubjectArea}}
Subject area: {{.SubjectArea}}
{{- end}}

Candidate topics:
{{- range .Candidates}}
- {{.ID}}: {{.Name}}
{{- end}}

Content:
{{.Text}}`))

func buildAnalysisMessage(req Request, candidates []catalog.Topic) (string, error) {
	var buf bytes.Buffer
	err := analysisUserTemplate.Execute(&buf, struct {
		Request
		Candidates []catalog.Topic
	}{req, candidates})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func candidateTopics(g *catalog.Graph, subjectArea string) []catalog.Topic {
	if subjectArea != "" {
		if ts := g.SubjectTopics(subjectArea); len(ts) > 0 {
			return ts
		}
	}
	return g.Topics()
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
