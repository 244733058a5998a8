// Package recommend ranks reachable content for a student by a weighted
// sum of independently computed factors.
package recommend

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/engagement"
	"github.com/abhisek/pathwise/internal/logger"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/validate"
)

// Factor names, in the order they are summed and explained.
const (
	FactorGap        = "gap_relevance"
	FactorDifficulty = "difficulty_fit"
	FactorEngagement = "engagement_fit"
	FactorNovelty    = "novelty"
	FactorReadiness  = "prerequisite_readiness"
)

// FactorOrder lists every factor in summation order.
var FactorOrder = []string{FactorGap, FactorDifficulty, FactorEngagement, FactorNovelty, FactorReadiness}

// Weights scales each factor. They must sum to 1.
type Weights struct {
	Gap        float64 `validate:"gte=0,lte=1"`
	Difficulty float64 `validate:"gte=0,lte=1"`
	Engagement float64 `validate:"gte=0,lte=1"`
	Novelty    float64 `validate:"gte=0,lte=1"`
	Readiness  float64 `validate:"gte=0,lte=1"`
}

// DefaultWeights favors gap relevance and difficulty fit.
func DefaultWeights() Weights {
	return Weights{Gap: 0.35, Difficulty: 0.25, Engagement: 0.15, Novelty: 0.10, Readiness: 0.15}
}

func (w Weights) of(factor string) float64 {
	switch factor {
	case FactorGap:
		return w.Gap
	case FactorDifficulty:
		return w.Difficulty
	case FactorEngagement:
		return w.Engagement
	case FactorNovelty:
		return w.Novelty
	case FactorReadiness:
		return w.Readiness
	}
	return 0
}

func (w Weights) sum() float64 {
	return w.Gap + w.Difficulty + w.Engagement + w.Novelty + w.Readiness
}

// Config tunes the ranker.
type Config struct {
	Weights      Weights
	DefaultLimit int `validate:"gte=1,lte=100"`
}

func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), DefaultLimit: 10}
}

// Deps bundles the repositories the ranker reads and writes.
type Deps struct {
	Students        store.StudentRepo
	Profiles        store.ProfileRepo
	Gaps            store.GapRepo
	Progress        store.ProgressRepo
	Blocks          store.BlockRepo
	Interactions    store.InteractionRepo
	Recommendations store.RecommendationRepo
}

// Service generates and explains recommendations.
type Service struct {
	graph      *catalog.Graph
	deps       Deps
	engagement *engagement.Service
	cfg        Config
	log        *logger.Logger
	now        func() time.Time
}

// NewService creates a ranker. A nil engagement service leaves the
// engagement factor unavailable.
func NewService(graph *catalog.Graph, deps Deps, eng *engagement.Service, cfg Config, log *logger.Logger) (*Service, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, apperr.Configuration("recommend: %v", err)
	}
	if math.Abs(cfg.Weights.sum()-1) > 1e-9 {
		return nil, apperr.Configuration("recommend: weights sum to %.4f, want 1", cfg.Weights.sum())
	}
	return &Service{
		graph:      graph,
		deps:       deps,
		engagement: eng,
		cfg:        cfg,
		log:        logger.OrNop(log),
		now:        time.Now,
	}, nil
}

// Options narrows a Generate call.
type Options struct {
	ContentType      string `json:"content_type" validate:"omitempty,oneof=course lesson assessment"`
	Limit            int    `json:"limit" validate:"gte=0,lte=100"`
	ExcludeCompleted bool   `json:"exclude_completed"`
}

// inputs is everything one ranking reads, loaded up front.
type inputs struct {
	profile      *store.KnowledgeProfile
	gapSeverity  map[string]float64
	progress     map[string]store.ProgressRecord
	blocked      map[string]bool
	touched      map[string]int
	pattern      *engagement.Pattern
	patternError error
}

func (s *Service) load(ctx context.Context, studentID string) (*inputs, error) {
	in := &inputs{
		gapSeverity: map[string]float64{},
		progress:    map[string]store.ProgressRecord{},
		blocked:     map[string]bool{},
		touched:     map[string]int{},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.deps.Profiles.GetProfile(gctx, studentID)
		if err != nil {
			return fmt.Errorf("get profile: %w", err)
		}
		in.profile = p
		return nil
	})
	g.Go(func() error {
		gaps, err := s.deps.Gaps.ListGaps(gctx, studentID, store.GapFilter{UnresolvedOnly: true})
		if err != nil {
			return fmt.Errorf("list gaps: %w", err)
		}
		// Oldest first, so the latest gap per topic wins.
		for _, gap := range gaps {
			in.gapSeverity[gap.Topic] = gap.Severity
		}
		return nil
	})
	g.Go(func() error {
		recs, err := s.deps.Progress.ListProgress(gctx, studentID)
		if err != nil {
			return fmt.Errorf("list progress: %w", err)
		}
		for _, r := range recs {
			in.progress[r.ContentID] = r
		}
		return nil
	})
	g.Go(func() error {
		blocks, err := s.deps.Blocks.ListActiveBlocks(gctx, studentID)
		if err != nil {
			return fmt.Errorf("list blocks: %w", err)
		}
		for _, b := range blocks {
			in.blocked[b.ContentID] = true
		}
		return nil
	})
	g.Go(func() error {
		events, err := s.deps.Interactions.ListInteractions(gctx, studentID)
		if err != nil {
			return fmt.Errorf("list interactions: %w", err)
		}
		for _, ev := range events {
			in.touched[ev.ContentID]++
		}
		return nil
	})
	g.Go(func() error {
		if s.engagement == nil {
			in.patternError = apperr.Unavailable("engagement analyzer not configured", nil)
			return nil
		}
		// Engagement is optional input; a failure only disables its factor.
		in.pattern, in.patternError = s.engagement.Analyze(gctx, studentID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if in.patternError != nil {
		s.log.Warn("engagement factor unavailable", "student", studentID, "error", in.patternError)
	}
	return in, nil
}

// Generate ranks reachable content and stores the result.
func (s *Service) Generate(ctx context.Context, studentID string, opts Options) ([]store.Recommendation, error) {
	if err := validate.Var("student_id", studentID, "required"); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	if _, err := s.deps.Students.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit == 0 {
		limit = s.cfg.DefaultLimit
	}

	in, err := s.load(ctx, studentID)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		item     catalog.Item
		score    float64
		factors  map[string]store.FactorScore
		severity float64
	}
	var candidates []ranked
	for _, it := range s.graph.Items() {
		if !s.eligible(it, opts, in) {
			continue
		}
		factors, score := s.score(it, opts, in)
		candidates = append(candidates, ranked{item: it, score: score, factors: factors, severity: s.latestSeverity(it, in)})
	}

	slices.SortFunc(candidates, func(a, b ranked) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.severity, a.severity); c != 0 {
			return c
		}
		return cmp.Compare(a.item.ID, b.item.ID)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := s.now().UTC()
	recs := make([]store.Recommendation, 0, len(candidates))
	for i, c := range candidates {
		recs = append(recs, store.Recommendation{
			ID:          uuid.NewString(),
			StudentID:   studentID,
			ContentID:   c.item.ID,
			ContentType: string(c.item.Type),
			Rank:        i + 1,
			Score:       c.score,
			Factors:     c.factors,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	if len(recs) > 0 {
		if err := s.deps.Recommendations.SaveRecommendations(ctx, recs); err != nil {
			return nil, fmt.Errorf("save recommendations: %w", err)
		}
	}
	metrics.RecommendationsGenerated(len(recs))
	s.log.Debug("recommendations generated", "student", studentID, "count", len(recs))
	return recs, nil
}

// eligible drops filtered, blocked, unreachable and, when asked, completed
// content.
func (s *Service) eligible(it catalog.Item, opts Options, in *inputs) bool {
	if opts.ContentType != "" && string(it.Type) != opts.ContentType {
		return false
	}
	if opts.ContentType == "" && it.Type == catalog.TypeCourse {
		return false
	}
	if in.blocked[it.ID] {
		return false
	}
	if opts.ExcludeCompleted && in.progress[it.ID].Status == store.StatusCompleted {
		return false
	}
	for _, p := range s.graph.Prerequisites(it.ID) {
		r, ok := in.progress[p.ContentID]
		if !p.Satisfied(ok && r.Status == store.StatusCompleted, r.Score) {
			return false
		}
	}
	return true
}

// score computes each factor and their weighted sum. The sum runs in
// FactorOrder so Explain reproduces it exactly.
func (s *Service) score(it catalog.Item, opts Options, in *inputs) (map[string]store.FactorScore, float64) {
	values := map[string]float64{}
	available := map[string]bool{}

	values[FactorGap] = min(1, s.latestSeverity(it, in))
	available[FactorGap] = true

	if len(it.Topics) > 0 {
		sum := 0.0
		for _, topic := range it.Topics {
			sum += in.profile.Topic(topic).Mastery
		}
		values[FactorDifficulty] = 1 - math.Abs(it.Difficulty-sum/float64(len(it.Topics)))
		available[FactorDifficulty] = true
	}

	if in.patternError == nil && in.pattern != nil {
		values[FactorEngagement] = in.pattern.ByType[string(it.Type)].Momentum
		available[FactorEngagement] = true
	}

	if opts.ExcludeCompleted {
		values[FactorNovelty] = 1 / float64(1+in.touched[it.ID])
	} else {
		values[FactorNovelty] = 1
	}
	available[FactorNovelty] = true

	values[FactorReadiness] = s.readiness(it, in)
	available[FactorReadiness] = true

	factors := make(map[string]store.FactorScore, len(FactorOrder))
	total := 0.0
	for _, name := range FactorOrder {
		fs := store.FactorScore{Weight: s.cfg.Weights.of(name), Available: available[name]}
		if fs.Available {
			fs.Value = clamp01(values[name])
			fs.Contribution = fs.Weight * fs.Value
		}
		total += fs.Contribution
		factors[name] = fs
	}
	return factors, total
}

// latestSeverity is the highest latest-gap severity among the item's topics.
func (s *Service) latestSeverity(it catalog.Item, in *inputs) float64 {
	sev := 0.0
	for _, topic := range it.Topics {
		sev = max(sev, in.gapSeverity[topic])
	}
	return sev
}

// readiness averages how comfortably each prerequisite was passed. Scored
// prerequisites count score/100; unscored completions count 1.
func (s *Service) readiness(it catalog.Item, in *inputs) float64 {
	prereqs := s.graph.Prerequisites(it.ID)
	if len(prereqs) == 0 {
		return 1
	}
	sum := 0.0
	for _, p := range prereqs {
		r := in.progress[p.ContentID]
		if r.Score != nil {
			sum += *r.Score / 100
		} else {
			sum++
		}
	}
	return sum / float64(len(prereqs))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
