package llm

import "context"

// Purpose labels why a request was made. It is recorded with every LLM
// event and used as the metrics label, so values must stay low-cardinality.
type Purpose string

const (
	PurposeUnknown           Purpose = "unknown"
	PurposeContentAnalysis   Purpose = "content-analysis"
	PurposeQuestionAuthoring Purpose = "question-authoring"
)

type purposeKey struct{}

// WithPurpose tags ctx so downstream providers can attribute the request.
func WithPurpose(ctx context.Context, p Purpose) context.Context {
	return context.WithValue(ctx, purposeKey{}, p)
}

// PurposeFrom returns the tag set by WithPurpose, or PurposeUnknown.
func PurposeFrom(ctx context.Context) Purpose {
	if p, ok := ctx.Value(purposeKey{}).(Purpose); ok && p != "" {
		return p
	}
	return PurposeUnknown
}
