package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/llm"
	"github.com/abhisek/pathwise/internal/validate"
)

// AuthorRequest asks for new bank questions on one topic.
type AuthorRequest struct {
	SubjectArea string               `validate:"required"`
	Topic       string               `validate:"required"`
	Band        catalog.Band         `validate:"required,oneof=beginner intermediate advanced"`
	Type        catalog.QuestionType `validate:"omitempty,oneof=multiple_choice true_false short_answer multi_select"`
	Count       int                  `validate:"gte=1,lte=10"`
}

// AuthorInput is the context handed to each validator.
type AuthorInput struct {
	Request AuthorRequest

	// Existing holds the bank's questions for the topic.
	Existing []catalog.Question
}

// QuestionValidator checks one generated question.
// Implementations should be stateless and safe for concurrent use.
type QuestionValidator interface {
	Name() string
	Validate(q *catalog.Question, input AuthorInput) *QuestionError
}

// QuestionError describes why a generated question was rejected.
type QuestionError struct {
	Validator string
	Message   string
}

func (e *QuestionError) Error() string {
	return fmt.Sprintf("validator %q: %s", e.Validator, e.Message)
}

// AuthorConfig controls the LLM question author.
type AuthorConfig struct {
	// Validators run in order on every question; the first failure rejects
	// the whole batch.
	Validators []QuestionValidator

	MaxTokens   int
	Temperature float64

	// MaxPriorQuestions bounds how many existing questions are listed in
	// the prompt for deduplication.
	MaxPriorQuestions int
}

// DefaultAuthorConfig returns the standard validator chain and defaults.
func DefaultAuthorConfig() AuthorConfig {
	return AuthorConfig{
		Validators: []QuestionValidator{
			&StructuralValidator{},
			&AnswerKeyValidator{},
			&DuplicateValidator{},
		},
		MaxTokens:         2048,
		Temperature:       0.7,
		MaxPriorQuestions: 8,
	}
}

// Author generates bank questions through an LLM. There is no fallback:
// provider failures surface as apperr kinds.
type Author struct {
	provider llm.Provider
	graph    *catalog.Graph
	cfg      AuthorConfig
}

// NewAuthor creates a question author.
func NewAuthor(provider llm.Provider, graph *catalog.Graph, cfg AuthorConfig) *Author {
	return &Author{provider: provider, graph: graph, cfg: cfg}
}

type authoredQuestion struct {
	Text    string   `json:"text"`
	Type    string   `json:"type"`
	Choices []string `json:"choices"`
	Answers []string `json:"answers"`
}

type authorOutput struct {
	Questions []authoredQuestion `json:"questions"`
}

// Generate asks the LLM for req.Count questions and validates each.
func (a *Author) Generate(ctx context.Context, req AuthorRequest) ([]catalog.Question, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	topic, ok := a.graph.Topic(req.Topic)
	if !ok {
		return nil, apperr.NotFound("topic", req.Topic)
	}
	if topic.SubjectArea != req.SubjectArea {
		return nil, apperr.ValidationFields(fmt.Sprintf("topic %q is not in subject area %q", req.Topic, req.SubjectArea), "Topic")
	}

	input := AuthorInput{Request: req}
	if bank, ok := a.graph.QuestionBank(req.SubjectArea); ok {
		for _, q := range bank.Questions {
			if slices.Contains(q.Topics, req.Topic) {
				input.Existing = append(input.Existing, q)
			}
		}
	}

	ctx = llm.WithPurpose(ctx, llm.PurposeQuestionAuthoring)
	resp, err := a.provider.Generate(ctx, llm.Request{
		System:      authorSystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildAuthorMessage(topic, input, a.cfg.MaxPriorQuestions)}},
		Schema:      AuthoredQuestionsSchema,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return nil, llm.AsAppError(err)
	}

	var raw authorOutput
	if err := json.Unmarshal(resp.Content, &raw); err != nil {
		return nil, llm.AsAppError(&llm.ErrInvalidResponse{Content: resp.Content, Err: err})
	}
	if len(raw.Questions) == 0 {
		return nil, apperr.Unavailable("question author returned no questions", nil)
	}
	if len(raw.Questions) > req.Count {
		raw.Questions = raw.Questions[:req.Count]
	}

	out := make([]catalog.Question, 0, len(raw.Questions))
	for _, rq := range raw.Questions {
		q := catalog.Question{
			ID:      "gen-" + uuid.NewString()[:8],
			Topics:  []string{req.Topic},
			Band:    req.Band,
			Type:    catalog.QuestionType(rq.Type),
			Text:    strings.TrimSpace(rq.Text),
			Choices: rq.Choices,
			Answers: rq.Answers,
		}
		if req.Type != "" && q.Type != req.Type {
			return nil, apperr.Unavailable("generated question rejected", &QuestionError{
				Validator: "type", Message: fmt.Sprintf("got %q, want %q", q.Type, req.Type),
			})
		}
		for _, v := range a.cfg.Validators {
			if qerr := v.Validate(&q, input); qerr != nil {
				return nil, apperr.Unavailable("generated question rejected", qerr)
			}
		}
		input.Existing = append(input.Existing, q)
		out = append(out, q)
	}
	return out, nil
}

// AuthoredQuestionsSchema is the structured output requested from the LLM.
var AuthoredQuestionsSchema = &llm.Schema{
	Name:        "authored-questions",
	Description: "A batch of assessment questions for one topic",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{"type": "string"},
						"type": map[string]any{
							"type": "string",
							"enum": []any{"multiple_choice", "true_false", "short_answer", "multi_select"},
						},
						"choices": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"answers": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required":             []any{"text", "type", "answers"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []any{"questions"},
		"additionalProperties": false,
	},
}

const authorSystemPrompt = `You write assessment questions for an adaptive learning engine.

Rules:
- Every question must test the given topic at the given difficulty.
- Use plain ASCII text for math. No LaTeX.
- multiple_choice: 4 choices, exactly one answer, copied verbatim from the choices.
- multi_select: 4 to 6 choices, every correct choice listed in answers.
- true_false: answers is ["true"] or ["false"], no choices.
- short_answer: list every acceptable spelling of the answer, no choices.
- Do not repeat any question from the "existing" list.`

func buildAuthorMessage(topic catalog.Topic, input AuthorInput, maxPrior int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject area: %s\n", input.Request.SubjectArea)
	fmt.Fprintf(&b, "Topic: %s (%s)\n", topic.Name, topic.ID)
	if len(topic.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(topic.Keywords, ", "))
	}
	fmt.Fprintf(&b, "Difficulty: %s\n", input.Request.Band)
	if input.Request.Type != "" {
		fmt.Fprintf(&b, "Question type: %s\n", input.Request.Type)
	}
	fmt.Fprintf(&b, "Count: %d\n", input.Request.Count)

	b.WriteString("\nExisting questions:\n")
	prior := input.Existing
	if maxPrior > 0 && len(prior) > maxPrior {
		prior = prior[len(prior)-maxPrior:]
	}
	if len(prior) == 0 {
		b.WriteString("None")
	}
	for i, q := range prior {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// StructuralValidator checks required fields, lengths, and choice shape.
type StructuralValidator struct{}

func (v *StructuralValidator) Name() string { return "structural" }

func (v *StructuralValidator) Validate(q *catalog.Question, _ AuthorInput) *QuestionError {
	switch {
	case q.Text == "":
		return &QuestionError{Validator: v.Name(), Message: "text is empty"}
	case len(q.Text) > 500:
		return &QuestionError{Validator: v.Name(), Message: "text exceeds 500 characters"}
	case !q.Type.Valid() || q.Type == catalog.QuestionOpen:
		return &QuestionError{Validator: v.Name(), Message: fmt.Sprintf("unsupported type %q", q.Type)}
	}

	needsChoices := q.Type == catalog.QuestionMultipleChoice || q.Type == catalog.QuestionMultiSelect
	if !needsChoices {
		if len(q.Choices) > 0 {
			return &QuestionError{Validator: v.Name(), Message: fmt.Sprintf("%s questions take no choices", q.Type)}
		}
		return nil
	}
	if len(q.Choices) < 2 || len(q.Choices) > 8 {
		return &QuestionError{Validator: v.Name(), Message: "choice questions need 2 to 8 choices"}
	}
	seen := make(map[string]bool, len(q.Choices))
	for _, c := range q.Choices {
		k := strings.ToLower(strings.TrimSpace(c))
		if k == "" || seen[k] {
			return &QuestionError{Validator: v.Name(), Message: "choices must be non-empty and distinct"}
		}
		seen[k] = true
	}
	return nil
}

// AnswerKeyValidator checks that the answer key fits the question type.
type AnswerKeyValidator struct{}

func (v *AnswerKeyValidator) Name() string { return "answer-key" }

func (v *AnswerKeyValidator) Validate(q *catalog.Question, _ AuthorInput) *QuestionError {
	if len(q.Answers) == 0 {
		return &QuestionError{Validator: v.Name(), Message: "answers are empty"}
	}
	inChoices := func(a string) bool {
		return slices.ContainsFunc(q.Choices, func(c string) bool {
			return strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(a))
		})
	}

	switch q.Type {
	case catalog.QuestionMultipleChoice:
		if len(q.Answers) != 1 || !inChoices(q.Answers[0]) {
			return &QuestionError{Validator: v.Name(), Message: "multiple choice needs exactly one answer taken from the choices"}
		}
	case catalog.QuestionMultiSelect:
		for _, a := range q.Answers {
			if !inChoices(a) {
				return &QuestionError{Validator: v.Name(), Message: fmt.Sprintf("answer %q is not a choice", a)}
			}
		}
		if len(q.Answers) == len(q.Choices) {
			return &QuestionError{Validator: v.Name(), Message: "multi select cannot mark every choice correct"}
		}
	case catalog.QuestionTrueFalse:
		a := strings.ToLower(strings.TrimSpace(q.Answers[0]))
		if len(q.Answers) != 1 || (a != "true" && a != "false") {
			return &QuestionError{Validator: v.Name(), Message: `true/false answer must be "true" or "false"`}
		}
	}
	return nil
}

// DuplicateValidator rejects questions whose text repeats an existing one.
type DuplicateValidator struct{}

func (v *DuplicateValidator) Name() string { return "duplicate" }

func (v *DuplicateValidator) Validate(q *catalog.Question, input AuthorInput) *QuestionError {
	text := strings.Join(strings.Fields(strings.ToLower(q.Text)), " ")
	for _, e := range input.Existing {
		if strings.Join(strings.Fields(strings.ToLower(e.Text)), " ") == text {
			return &QuestionError{Validator: v.Name(), Message: fmt.Sprintf("duplicates existing question %q", e.ID)}
		}
	}
	return nil
}
