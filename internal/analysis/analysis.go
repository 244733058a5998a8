// Package analysis classifies free-form learning content into catalog topics
// and a difficulty estimate. A remote LLM analyzer is preferred; a
// deterministic keyword analyzer takes over when the remote one is missing
// or failing.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/logger"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/validate"
)

// Type selects what the caller needs from an analysis.
type Type string

const (
	TypeTopics     Type = "topics"
	TypeDifficulty Type = "difficulty"
	TypeFull       Type = "full"
)

// Request is the input to an analysis.
type Request struct {
	Text string `validate:"required"`
	Type Type   `validate:"omitempty,oneof=topics difficulty full"`

	// SubjectArea restricts topic candidates when set.
	SubjectArea string
}

// Result is a structured analysis of one piece of content.
type Result struct {
	Topics     []string `json:"topics"`
	Difficulty float64  `json:"difficulty"`
	Summary    string   `json:"summary,omitempty"`

	// Analyzer names the implementation that produced the result.
	Analyzer string `json:"analyzer"`

	// FallbackUsed is true when the deterministic analyzer answered in
	// place of the preferred one.
	FallbackUsed bool `json:"fallback_used"`

	// FallbackReason is the error kind that forced the fallback, if any.
	FallbackReason apperr.Kind `json:"fallback_reason,omitempty"`
}

// Analyzer is one content-analysis strategy.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
	Name() string
}

// Selector picks between a preferred analyzer and a deterministic fallback
// by availability. After a rate limit carrying a retry-after hint, the
// preferred analyzer is skipped until the hint expires.
type Selector struct {
	preferred Analyzer
	fallback  Analyzer
	log       *logger.Logger
	now       func() time.Time

	mu        sync.Mutex
	holdUntil time.Time
}

// NewSelector creates a selector. preferred may be nil, in which case every
// request is served by fallback and flagged as such.
func NewSelector(preferred, fallback Analyzer, log *logger.Logger) *Selector {
	return &Selector{
		preferred: preferred,
		fallback:  fallback,
		log:       logger.OrNop(log),
		now:       time.Now,
	}
}

// Analyze validates req and runs the preferred analyzer, falling back on
// external failures. Non-external errors from the preferred analyzer are
// returned as-is.
func (s *Selector) Analyze(ctx context.Context, req Request) (*Result, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = TypeFull
	}

	if s.preferred == nil {
		return s.runFallback(ctx, req, apperr.KindUnavailable)
	}
	if s.heldOff() {
		return s.runFallback(ctx, req, apperr.KindRateLimited)
	}

	res, err := s.preferred.Analyze(ctx, req)
	if err == nil {
		res.Analyzer = s.preferred.Name()
		return res, nil
	}
	if !apperr.IsExternal(err) {
		return nil, err
	}

	var ae *apperr.Error
	if apperr.Is(err, apperr.KindRateLimited) && errors.As(err, &ae) && ae.RetryAfter > 0 {
		s.holdOff(ae.RetryAfter)
	}
	s.log.Warn("content analysis falling back", "analyzer", s.preferred.Name(), "error", err)
	return s.runFallback(ctx, req, apperr.KindOf(err))
}

func (s *Selector) runFallback(ctx context.Context, req Request, reason apperr.Kind) (*Result, error) {
	res, err := s.fallback.Analyze(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fallback analysis: %w", err)
	}
	metrics.AnalysisFallback(string(reason))
	res.Analyzer = s.fallback.Name()
	res.FallbackUsed = true
	res.FallbackReason = reason
	return res, nil
}

func (s *Selector) heldOff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.holdUntil)
}

func (s *Selector) holdOff(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until := s.now().Add(d); until.After(s.holdUntil) {
		s.holdUntil = until
	}
}
