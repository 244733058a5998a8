// Package engine builds the learning services from configuration and holds
// them for the HTTP layer and the CLI.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/abhisek/pathwise/internal/analysis"
	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/assessment"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/config"
	"github.com/abhisek/pathwise/internal/engagement"
	"github.com/abhisek/pathwise/internal/gaps"
	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/llm"
	"github.com/abhisek/pathwise/internal/logger"
	"github.com/abhisek/pathwise/internal/notify"
	"github.com/abhisek/pathwise/internal/profile"
	"github.com/abhisek/pathwise/internal/progression"
	"github.com/abhisek/pathwise/internal/recommend"
	"github.com/abhisek/pathwise/internal/roadmap"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/store/memstore"
	"github.com/abhisek/pathwise/internal/validate"
)

// Engine owns the services and the resources behind them.
type Engine struct {
	Graph *catalog.Graph
	Repos store.Repos
	Log   *logger.Logger

	Profiles    *profile.Service
	Analysis    *analysis.Selector
	Gaps        *gaps.Service
	Assessments *assessment.Service
	Progression *progression.Service
	Engagement  *engagement.Service
	Recommend   *recommend.Service
	Roadmap     *roadmap.Service

	// Author is nil when no LLM provider is configured.
	Author *assessment.Author

	publisher notify.Publisher
	closers   []func() error
	now       func() time.Time
}

// Options overrides what New would otherwise build from configuration.
type Options struct {
	Graph     *catalog.Graph
	Repos     *store.Repos
	Provider  llm.Provider
	Publisher notify.Publisher
}

// New opens the record store, loads the catalog, connects the optional
// Redis publisher and LLM provider, and wires every service.
func New(ctx context.Context, cfg config.Config, opts Options, log *logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log)
	e := &Engine{Log: log, now: time.Now}

	if err := e.build(ctx, cfg, opts); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(ctx context.Context, cfg config.Config, opts Options) error {
	var err error

	e.Graph = opts.Graph
	if e.Graph == nil {
		if e.Graph, err = loadCatalog(cfg.CatalogPath); err != nil {
			return err
		}
	}

	if opts.Repos != nil {
		e.Repos = *opts.Repos
	} else if e.Repos, err = e.openStore(cfg.Database); err != nil {
		return err
	}

	e.publisher = opts.Publisher
	if e.publisher == nil {
		e.publisher = e.openPublisher(ctx, cfg.Redis)
	}
	e.closers = append(e.closers, e.publisher.Close)

	provider := opts.Provider
	if provider == nil && cfg.LLM.Enabled() {
		provider, err = llm.NewProvider(ctx, cfg.LLM, e.Repos.Events, e.Log)
		if err != nil {
			return fmt.Errorf("llm provider: %w", err)
		}
	}

	var remote analysis.Analyzer
	if provider != nil {
		remote = analysis.NewRemoteAnalyzer(provider, e.Graph, analysis.DefaultRemoteConfig())
		e.Author = assessment.NewAuthor(provider, e.Graph, assessment.DefaultAuthorConfig())
	}
	e.Analysis = analysis.NewSelector(remote, analysis.NewRuleAnalyzer(e.Graph), e.Log.With("component", "analysis"))

	r := e.Repos
	locks := keylock.New()
	e.Profiles = profile.NewService(r.Profiles, locks)

	e.Gaps, err = gaps.NewService(e.Graph, e.Profiles, gaps.Deps{
		Students: r.Students, Gaps: r.Gaps, Attempts: r.Attempts, Assessments: r.Assessments,
	}, e.Analysis, gaps.Config{Threshold: cfg.Engine.GapThreshold}, e.Log.With("component", "gaps"))
	if err != nil {
		return err
	}

	acfg := assessment.DefaultConfig()
	acfg.PassingScore = cfg.Engine.PassingScore
	acfg.TimeLimit = cfg.Engine.AssessmentLimit
	e.Assessments, err = assessment.NewService(e.Graph, assessment.Deps{
		Students: r.Students, Profiles: r.Profiles, Gaps: r.Gaps, Assessments: r.Assessments, Attempts: r.Attempts,
	}, acfg, e.Log.With("component", "assessment"))
	if err != nil {
		return err
	}

	e.Progression, err = progression.NewService(e.Graph, progression.Deps{
		Students: r.Students, Progress: r.Progress, Blocks: r.Blocks,
	}, e.publisher, locks, progression.Config{MaxWriteRetries: cfg.Engine.MaxWriteRetries}, e.Log.With("component", "progression"))
	if err != nil {
		return err
	}

	e.Engagement = engagement.NewService(e.Graph, engagement.Deps{
		Students: r.Students, Interactions: r.Interactions, Patterns: r.Patterns,
	}, e.Log.With("component", "engagement"))

	e.Recommend, err = recommend.NewService(e.Graph, recommend.Deps{
		Students: r.Students, Profiles: r.Profiles, Gaps: r.Gaps, Progress: r.Progress,
		Blocks: r.Blocks, Interactions: r.Interactions, Recommendations: r.Recommendations,
	}, e.Engagement, recommend.DefaultConfig(), e.Log.With("component", "recommend"))
	if err != nil {
		return err
	}

	e.Roadmap, err = roadmap.NewService(e.Graph, roadmap.Deps{
		Students: r.Students, Gaps: r.Gaps, Progress: r.Progress, Roadmaps: r.Roadmaps,
	}, roadmap.Config{MaxExploredNodes: cfg.Engine.MaxExploredNodes, PlanningWeeks: cfg.Engine.PlanningWeeks},
		e.Log.With("component", "roadmap"))
	return err
}

func loadCatalog(path string) (*catalog.Graph, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

func (e *Engine) openStore(cfg config.DatabaseConfig) (store.Repos, error) {
	if cfg.Path == config.MemoryDatabase {
		e.Log.Warn("using in-memory record store; data is lost on exit")
		return memstore.New().Repos(), nil
	}
	path := cfg.Path
	if path == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return store.Repos{}, fmt.Errorf("resolve database path: %w", err)
		}
		path = p
	} else if err := store.EnsureDir(path); err != nil {
		return store.Repos{}, fmt.Errorf("create database dir: %w", err)
	}

	st, err := store.Open(path)
	if err != nil {
		return store.Repos{}, fmt.Errorf("open store: %w", err)
	}
	e.closers = append(e.closers, st.Close)
	e.Log.Info("record store opened", "path", path)
	return st.Repos(), nil
}

// openPublisher connects to Redis when configured. A Redis failure is not
// fatal; unlocks are then only logged.
func (e *Engine) openPublisher(ctx context.Context, cfg config.RedisConfig) notify.Publisher {
	if cfg.URL == "" {
		return notify.NewLogPublisher(e.Log)
	}
	pub, err := notify.NewRedisPublisher(ctx, notify.RedisConfig{URL: cfg.URL, Channel: cfg.Channel}, e.Log)
	if err != nil {
		e.Log.Warn("redis unavailable, unlock events will only be logged", "error", err)
		return notify.NewLogPublisher(e.Log)
	}
	return pub
}

// Close releases the store and the publisher. It is safe to call twice.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Enrollment registers a student and the courses they take.
type Enrollment struct {
	StudentID string   `json:"student_id" validate:"required,max=128"`
	Courses   []string `json:"courses" validate:"dive,required"`
}

// Enroll creates the student if needed and adds courses. Existing
// enrollments are kept.
func (e *Engine) Enroll(ctx context.Context, in Enrollment) (*store.Student, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	for _, id := range in.Courses {
		it, err := e.Graph.Item(id)
		if err != nil {
			return nil, err
		}
		if it.Type != catalog.TypeCourse {
			return nil, apperr.ValidationFields(fmt.Sprintf("%q is a %s, not a course", id, it.Type), "courses")
		}
	}

	st, err := e.Repos.Students.GetStudent(ctx, in.StudentID)
	switch {
	case apperr.Is(err, apperr.KindNotFound):
		st = &store.Student{ID: in.StudentID, CreatedAt: e.now().UTC()}
	case err != nil:
		return nil, err
	}
	for _, id := range in.Courses {
		if !slices.Contains(st.EnrolledCourses, id) {
			st.EnrolledCourses = append(st.EnrolledCourses, id)
		}
	}
	if err := e.Repos.Students.SaveStudent(ctx, st); err != nil {
		return nil, fmt.Errorf("save student: %w", err)
	}
	return st, nil
}

// GradedAttempt is a graded submission and the gaps it revealed.
type GradedAttempt struct {
	Attempt *store.AssessmentAttempt `json:"attempt"`
	Gaps    []store.KnowledgeGap     `json:"gaps"`
}

// Submit grades a submission and feeds it to the gap analyzer. The graded
// attempt is stored before analysis; when analysis fails the attempt stays
// stored and can be analyzed again through the gap analyzer.
func (e *Engine) Submit(ctx context.Context, sub assessment.Submission) (*GradedAttempt, error) {
	attempt, err := e.Assessments.SubmitAttempt(ctx, sub)
	if err != nil {
		return nil, err
	}
	found, err := e.Gaps.Analyze(ctx, attempt.StudentID, attempt.AssessmentID, attempt.ID)
	if err != nil {
		e.Log.Warn("attempt saved but gap analysis failed", "attempt", attempt.ID, "error", err)
		return nil, fmt.Errorf("attempt %s was saved but gap analysis failed, retry the analysis: %w", attempt.ID, err)
	}
	return &GradedAttempt{Attempt: attempt, Gaps: found}, nil
}

// AttemptOwner returns the student an attempt belongs to.
func (e *Engine) AttemptOwner(ctx context.Context, attemptID string) (string, error) {
	a, err := e.Repos.Attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return "", err
	}
	return a.StudentID, nil
}
