// Package engagement derives a recency-weighted behavior profile from the
// interaction log.
package engagement

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/logger"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/validate"
)

// Interaction types.
const (
	EventView     = "view"
	EventStart    = "start"
	EventComplete = "complete"
)

// HalfLife is the age at which an interaction counts half toward momentum.
const HalfLife = 7 * 24 * time.Hour

// Pattern is the cached engagement summary.
type Pattern = store.EngagementPatternData

// Event is one interaction as reported by the content-serving layer.
type Event struct {
	ContentID       string    `json:"content_id" validate:"required"`
	ContentType     string    `json:"content_type" validate:"omitempty,oneof=course lesson assessment"`
	Type            string    `json:"interaction_type" validate:"required,oneof=view start complete"`
	DurationSeconds int64     `json:"duration_seconds" validate:"gte=0"`
	Timestamp       time.Time `json:"timestamp"`
}

// Deps bundles the repositories the analyzer uses.
type Deps struct {
	Students     store.StudentRepo
	Interactions store.InteractionRepo
	Patterns     store.PatternRepo
}

// Service records interactions and serves engagement patterns.
type Service struct {
	graph *catalog.Graph
	deps  Deps
	log   *logger.Logger
	now   func() time.Time
}

func NewService(graph *catalog.Graph, deps Deps, log *logger.Logger) *Service {
	return &Service{graph: graph, deps: deps, log: logger.OrNop(log), now: time.Now}
}

// Record appends events to the log. The cached pattern is recomputed only
// when the batch contains a completion.
func (s *Service) Record(ctx context.Context, studentID string, events []Event) error {
	if err := validate.Var("student_id", studentID, "required"); err != nil {
		return err
	}
	if err := validate.Var("events", events, "min=1"); err != nil {
		return err
	}
	if _, err := s.deps.Students.GetStudent(ctx, studentID); err != nil {
		return err
	}

	now := s.now().UTC()
	batch := make([]store.Interaction, 0, len(events))
	completes := false
	for i, ev := range events {
		if err := validate.Struct(ev); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		it, err := s.graph.Item(ev.ContentID)
		if err != nil {
			return err
		}
		if ev.ContentType != "" && catalog.ContentType(ev.ContentType) != it.Type {
			return apperr.ValidationFields(
				fmt.Sprintf("event %d: content %q is a %s, not a %s", i, ev.ContentID, it.Type, ev.ContentType), "content_type")
		}
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = now
		}
		batch = append(batch, store.Interaction{
			StudentID:   studentID,
			ContentID:   ev.ContentID,
			ContentType: string(it.Type),
			Type:        ev.Type,
			Duration:    time.Duration(ev.DurationSeconds) * time.Second,
			Timestamp:   ts.UTC(),
		})
		completes = completes || ev.Type == EventComplete
	}

	if err := s.deps.Interactions.AppendInteractions(ctx, batch); err != nil {
		return fmt.Errorf("append interactions: %w", err)
	}
	if !completes {
		return nil
	}
	_, err := s.recompute(ctx, studentID)
	return err
}

// Analyze returns the cached pattern, computing it when none exists yet.
func (s *Service) Analyze(ctx context.Context, studentID string) (*Pattern, error) {
	if _, err := s.deps.Students.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	cached, err := s.deps.Patterns.GetPattern(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	if cached != nil {
		return cached, nil
	}
	return s.recompute(ctx, studentID)
}

func (s *Service) recompute(ctx context.Context, studentID string) (*Pattern, error) {
	events, err := s.deps.Interactions.ListInteractions(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	p := Compute(studentID, events, s.now().UTC())
	if err := s.deps.Patterns.SavePattern(ctx, p); err != nil {
		return nil, fmt.Errorf("save pattern: %w", err)
	}
	s.log.Debug("engagement recomputed", "student", studentID, "events", p.EventCount)
	return p, nil
}

// Compute folds the event log into a pattern as of now. Momentum per type
// is its decayed event count scaled so the most active type reads 1.
func Compute(studentID string, events []store.Interaction, now time.Time) *Pattern {
	p := &Pattern{
		StudentID:  studentID,
		ByType:     make(map[string]store.TypeEngagement),
		EventCount: len(events),
		ComputedAt: now,
	}

	var (
		starts, completions int
		sessionTotal        time.Duration
		sessions            int
	)
	for _, ev := range events {
		te := p.ByType[ev.ContentType]
		switch ev.Type {
		case EventView:
			te.Views++
		case EventStart:
			te.Starts++
			starts++
		case EventComplete:
			te.Completions++
			completions++
		}
		te.DecayedCount += decay(now.Sub(ev.Timestamp))
		p.ByType[ev.ContentType] = te

		if ev.Duration > 0 {
			sessionTotal += ev.Duration
			sessions++
		}
	}

	peak := 0.0
	for _, te := range p.ByType {
		peak = max(peak, te.DecayedCount)
	}
	for typ, te := range p.ByType {
		te.CompletionRate = rate(te.Completions, te.Starts)
		if peak > 0 {
			te.Momentum = te.DecayedCount / peak
		}
		p.ByType[typ] = te
	}

	p.CompletionRate = rate(completions, starts)
	if sessions > 0 {
		p.AvgSessionDuration = sessionTotal / time.Duration(sessions)
	}

	best := 0.0
	for _, ct := range catalog.AllContentTypes() {
		if te, ok := p.ByType[string(ct)]; ok && te.Momentum > best {
			best = te.Momentum
			p.PreferredType = string(ct)
		}
	}
	return p
}

// decay weighs an event of the given age. Future timestamps count fully.
func decay(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(HalfLife))
}

// rate is completions over starts. A completion without a logged start
// counts as its own start.
func rate(completions, starts int) float64 {
	d := max(starts, completions)
	if d == 0 {
		return 0
	}
	return float64(completions) / float64(d)
}
