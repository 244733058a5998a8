package analysis

import (
	"context"
	"strings"
	"unicode"

	"github.com/abhisek/pathwise/internal/catalog"
)

// RuleAnalyzer tags content by matching catalog topic keywords. It never
// calls out and always succeeds, so it serves as the fallback.
type RuleAnalyzer struct {
	graph *catalog.Graph
}

// NewRuleAnalyzer creates a keyword analyzer over the catalog's topics.
func NewRuleAnalyzer(graph *catalog.Graph) *RuleAnalyzer {
	return &RuleAnalyzer{graph: graph}
}

func (a *RuleAnalyzer) Name() string { return "rules" }

// Analyze returns every candidate topic whose name or keyword occurs in the
// text, in catalog order. Difficulty is the mean difficulty of catalog items
// tagged with the matched topics, or 0.5 when nothing matched.
func (a *RuleAnalyzer) Analyze(_ context.Context, req Request) (*Result, error) {
	text := normalizeText(req.Text)

	var topics []string
	for _, t := range candidateTopics(a.graph, req.SubjectArea) {
		if matchesTopic(text, t) {
			topics = append(topics, t.ID)
		}
	}

	return &Result{
		Topics:     topics,
		Difficulty: a.difficulty(topics),
		Summary:    firstSentence(req.Text, 160),
	}, nil
}

func (a *RuleAnalyzer) difficulty(topics []string) float64 {
	sum, n := 0.0, 0
	for _, t := range topics {
		for _, it := range a.graph.ItemsByTopic(t) {
			sum += it.Difficulty
			n++
		}
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

func matchesTopic(text string, t catalog.Topic) bool {
	if t.Name != "" && containsPhrase(text, normalizeText(t.Name)) {
		return true
	}
	for _, kw := range t.Keywords {
		if containsPhrase(text, normalizeText(kw)) {
			return true
		}
	}
	return false
}

// containsPhrase matches phrase on word boundaries so "limit" does not
// match "delimiter".
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for i := 0; ; {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(phrase)
		if boundary(text, start-1) && boundary(text, end) {
			return true
		}
		i = start + 1
	}
}

func boundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	r := rune(text[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func firstSentence(s string, limit int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".?!\n"); i >= 0 {
		s = s[:i+1]
	}
	if r := []rune(s); len(r) > limit {
		s = string(r[:limit-1]) + "…"
	}
	return s
}
