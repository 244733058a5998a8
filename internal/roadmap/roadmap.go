// Package roadmap plans an ordered, time-estimated learning path toward a
// student's goals.
package roadmap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/logger"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/validate"
)

// Config tunes the planner.
type Config struct {
	// MaxExploredNodes bounds the prerequisite search per generation.
	MaxExploredNodes int `validate:"gte=1"`
	// PlanningWeeks is the horizon used when no target date is given.
	PlanningWeeks int `validate:"gte=1,lte=520"`
}

func DefaultConfig() Config {
	return Config{MaxExploredNodes: 5000, PlanningWeeks: 4}
}

// TimeConstraints limits how much study time the plan may assume.
type TimeConstraints struct {
	HoursPerWeek     float64    `json:"hours_per_week" validate:"gt=0,lte=168"`
	TargetCompletion *time.Time `json:"target_completion,omitempty"`
}

// Options shapes a generation.
type Options struct {
	// TargetSkills are content IDs or topic IDs. Empty means every item in
	// the student's enrolled courses.
	TargetSkills    []string         `json:"target_skills" validate:"dive,required"`
	TimeConstraints *TimeConstraints `json:"time_constraints,omitempty"`
	ForceRegenerate bool             `json:"force_regenerate"`
}

// Deps bundles the repositories the planner uses.
type Deps struct {
	Students store.StudentRepo
	Gaps     store.GapRepo
	Progress store.ProgressRepo
	Roadmaps store.RoadmapRepo
}

// Service generates and maintains roadmaps.
type Service struct {
	graph *catalog.Graph
	deps  Deps
	cfg   Config
	log   *logger.Logger
	now   func() time.Time
}

func NewService(graph *catalog.Graph, deps Deps, cfg Config, log *logger.Logger) (*Service, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, apperr.Configuration("roadmap: %v", err)
	}
	return &Service{graph: graph, deps: deps, cfg: cfg, log: logger.OrNop(log), now: time.Now}, nil
}

// Generate returns the student's roadmap for opts. An active roadmap built
// from the same inputs is returned as is unless ForceRegenerate is set.
func (s *Service) Generate(ctx context.Context, studentID string, opts Options) (*store.Roadmap, error) {
	if err := validate.Var("student_id", studentID, "required"); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if tc := opts.TimeConstraints; tc != nil && tc.TargetCompletion != nil && !tc.TargetCompletion.After(now) {
		return nil, apperr.ValidationFields("target completion date must be in the future", "target_completion")
	}
	student, err := s.deps.Students.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	goals, err := s.goals(opts.TargetSkills, student.EnrolledCourses)
	if err != nil {
		return nil, err
	}
	hash := s.inputsHash(opts, student.EnrolledCourses)

	existing, err := s.deps.Roadmaps.GetRoadmap(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("get roadmap: %w", err)
	}
	if existing != nil && existing.Status == store.RoadmapActive && existing.InputsHash == hash && !opts.ForceRegenerate {
		metrics.RoadmapResult(metrics.RoadmapReused)
		return existing, nil
	}

	progress, err := s.progress(ctx, studentID)
	if err != nil {
		return nil, err
	}
	ids, err := s.closure(goals, progress)
	if err != nil {
		metrics.RoadmapResult(metrics.RoadmapExhausted)
		return nil, err
	}
	severity, err := s.severities(ctx, studentID)
	if err != nil {
		return nil, err
	}

	rm := &store.Roadmap{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		Status:      store.RoadmapActive,
		InputsHash:  hash,
		GeneratedAt: now,
		UpdatedAt:   now,
	}
	if existing != nil {
		rm.ID = existing.ID
	}
	rm.Factors = s.plan(rm, ids, progress, severity, opts, now)
	rm.Factors.TargetSkills = opts.TargetSkills
	preserveCompleted(rm, existing)
	rm.TotalEstimatedMins = remainingMins(rm.Steps)

	if err := s.deps.Roadmaps.SaveRoadmap(ctx, rm); err != nil {
		return nil, fmt.Errorf("save roadmap: %w", err)
	}
	metrics.RoadmapResult(metrics.RoadmapGenerated)
	s.log.Info("roadmap generated", "student", studentID, "steps", len(rm.Steps),
		"minutes", rm.TotalEstimatedMins, "over_budget", rm.Factors.OverBudget)
	return rm, nil
}

// goals resolves target skills to non-course item IDs. Courses expand to
// their items.
func (s *Service) goals(targets, enrolled []string) ([]string, error) {
	var out []string
	add := func(it catalog.Item) {
		if it.Type == catalog.TypeCourse {
			for _, child := range s.graph.CourseItems(it.ID) {
				out = append(out, child.ID)
			}
			return
		}
		out = append(out, it.ID)
	}

	if len(targets) == 0 {
		if len(enrolled) == 0 {
			return nil, apperr.ValidationFields("no target skills given and the student is not enrolled in any course", "target_skills")
		}
		for _, id := range enrolled {
			it, err := s.graph.Item(id)
			if err != nil {
				return nil, err
			}
			add(it)
		}
		return out, nil
	}

	for _, t := range targets {
		if it, err := s.graph.Item(t); err == nil {
			add(it)
			continue
		}
		if _, ok := s.graph.Topic(t); ok {
			for _, it := range s.graph.ItemsByTopic(t) {
				add(it)
			}
			continue
		}
		return nil, apperr.NotFound("skill", t)
	}
	return out, nil
}

// closure walks prerequisites back from the goals. Completed items are
// kept but not walked past. A course prerequisite stands for all of its
// items.
func (s *Service) closure(goals []string, progress map[string]store.ProgressRecord) ([]string, error) {
	seen := make(map[string]bool)
	queue := slices.Clone(goals)
	explored := 0
	var out []string

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		explored++
		if explored > s.cfg.MaxExploredNodes {
			return nil, apperr.ResourceExhausted("roadmap search explored more than %d items", s.cfg.MaxExploredNodes)
		}

		it, err := s.graph.Item(id)
		if err != nil {
			return nil, err
		}
		if it.Type == catalog.TypeCourse {
			for _, child := range s.graph.CourseItems(id) {
				queue = append(queue, child.ID)
			}
			continue
		}
		out = append(out, id)
		if progress[id].Status == store.StatusCompleted {
			continue
		}
		for _, p := range s.graph.Prerequisites(id) {
			queue = append(queue, p.ContentID)
		}
	}

	slices.SortFunc(out, func(a, b string) int { return s.graph.TopoIndex(a) - s.graph.TopoIndex(b) })
	return out, nil
}

func (s *Service) progress(ctx context.Context, studentID string) (map[string]store.ProgressRecord, error) {
	recs, err := s.deps.Progress.ListProgress(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	out := make(map[string]store.ProgressRecord, len(recs))
	for _, r := range recs {
		out[r.ContentID] = r
	}
	return out, nil
}

// severities returns the latest unresolved gap severity per topic.
func (s *Service) severities(ctx context.Context, studentID string) (map[string]float64, error) {
	gaps, err := s.deps.Gaps.ListGaps(ctx, studentID, store.GapFilter{UnresolvedOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list gaps: %w", err)
	}
	out := make(map[string]float64)
	for _, g := range gaps {
		out[g.Topic] = g.Severity
	}
	return out, nil
}

// plan fills rm.Steps and returns the personalization factors. Steps are
// in topological order unless the remaining work exceeds the budget, in
// which case gap-severe branches are pulled forward.
func (s *Service) plan(rm *store.Roadmap, ids []string, progress map[string]store.ProgressRecord, severity map[string]float64, opts Options, now time.Time) store.PersonalizationFactors {
	pf := store.PersonalizationFactors{}
	for t := range severity {
		pf.GapTopics = append(pf.GapTopics, t)
	}
	slices.Sort(pf.GapTopics)

	priority := s.priorities(ids, severity)

	remaining := 0
	for _, id := range ids {
		if progress[id].Status != store.StatusCompleted {
			it, _ := s.graph.Item(id)
			remaining += it.EstimatedMins
		}
	}

	weeklyMins := 0
	if tc := opts.TimeConstraints; tc != nil {
		pf.HoursPerWeek = tc.HoursPerWeek
		pf.TargetCompletion = tc.TargetCompletion
		pf.PlanningWeeks = s.cfg.PlanningWeeks
		if tc.TargetCompletion != nil {
			pf.PlanningWeeks = int(math.Ceil(tc.TargetCompletion.Sub(now).Hours() / (24 * 7)))
		}
		weeklyMins = int(math.Round(tc.HoursPerWeek * 60))
		pf.BudgetMins = weeklyMins * pf.PlanningWeeks
		pf.OverBudget = remaining > pf.BudgetMins
	}

	order := ids
	if pf.OverBudget {
		order = s.prioritizedOrder(ids, priority)
		pf.Reprioritized = !slices.Equal(order, ids)
	}

	cum := 0
	for _, id := range order {
		it, _ := s.graph.Item(id)
		step := store.RoadmapStep{
			ContentID:        id,
			Title:            it.Title,
			ContentType:      string(it.Type),
			EstimatedMins:    it.EstimatedMins,
			CompletionStatus: stepStatus(progress, id),
			Priority:         priority[id],
			WithinBudget:     true,
		}
		if step.CompletionStatus != store.StatusCompleted {
			cum += it.EstimatedMins
			if weeklyMins > 0 {
				step.Week = max(1, (cum+weeklyMins-1)/weeklyMins)
				step.WithinBudget = cum <= pf.BudgetMins
			}
		}
		rm.Steps = append(rm.Steps, step)
	}
	return pf
}

// priorities scores each item by the worst gap among its topics and those
// of anything in the path that depends on it.
func (s *Service) priorities(ids []string, severity map[string]float64) map[string]float64 {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	out := make(map[string]float64, len(ids))
	// Reverse topological order visits dependents before prerequisites.
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		it, _ := s.graph.Item(id)
		p := out[id]
		for _, t := range it.Topics {
			p = max(p, severity[t])
		}
		out[id] = p
		for _, pre := range s.graph.Prerequisites(id) {
			if in[pre.ContentID] {
				out[pre.ContentID] = max(out[pre.ContentID], p)
			}
			for _, child := range s.graph.CourseItems(pre.ContentID) {
				if in[child.ID] {
					out[child.ID] = max(out[child.ID], p)
				}
			}
		}
	}
	return out
}

// prioritizedOrder is Kahn's algorithm over the path that always takes the
// ready item with the highest priority, then the earliest catalog position.
func (s *Service) prioritizedOrder(ids []string, priority map[string]float64) []string {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	deps := make(map[string][]string, len(ids))
	indeg := make(map[string]int, len(ids))
	for _, id := range ids {
		for _, pre := range s.requiredInPath(id, in) {
			deps[pre] = append(deps[pre], id)
			indeg[id]++
		}
	}

	var ready []string
	for _, id := range ids {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}
	out := make([]string, 0, len(ids))
	for len(ready) > 0 {
		slices.SortFunc(ready, func(a, b string) int {
			if priority[a] != priority[b] {
				if priority[a] > priority[b] {
					return -1
				}
				return 1
			}
			return s.graph.TopoIndex(a) - s.graph.TopoIndex(b)
		})
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)
		for _, next := range deps[id] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return out
}

// requiredInPath lists the path items that must precede id, resolving
// course prerequisites to their items.
func (s *Service) requiredInPath(id string, in map[string]bool) []string {
	var out []string
	for _, pre := range s.graph.Prerequisites(id) {
		if in[pre.ContentID] {
			out = append(out, pre.ContentID)
		}
		for _, child := range s.graph.CourseItems(pre.ContentID) {
			if in[child.ID] && !slices.Contains(out, child.ID) {
				out = append(out, child.ID)
			}
		}
	}
	return out
}

func stepStatus(progress map[string]store.ProgressRecord, id string) string {
	if r, ok := progress[id]; ok && r.Status != "" {
		return r.Status
	}
	return store.StatusNotStarted
}

// preserveCompleted carries completed statuses over from the previous
// roadmap.
func preserveCompleted(rm, prev *store.Roadmap) {
	if prev == nil {
		return
	}
	done := make(map[string]bool)
	for _, st := range prev.Steps {
		if st.CompletionStatus == store.StatusCompleted {
			done[st.ContentID] = true
		}
	}
	for i := range rm.Steps {
		if done[rm.Steps[i].ContentID] {
			rm.Steps[i].CompletionStatus = store.StatusCompleted
		}
	}
}

func remainingMins(steps []store.RoadmapStep) int {
	total := 0
	for _, st := range steps {
		if st.CompletionStatus != store.StatusCompleted {
			total += st.EstimatedMins
		}
	}
	return total
}

// inputsHash fingerprints everything Generate's output depends on apart
// from progress and gaps.
func (s *Service) inputsHash(opts Options, enrolled []string) string {
	key := struct {
		Targets  []string         `json:"targets"`
		Time     *TimeConstraints `json:"time"`
		Weeks    int              `json:"weeks"`
		Enrolled []string         `json:"enrolled"`
		Catalog  string           `json:"catalog"`
	}{opts.TargetSkills, opts.TimeConstraints, s.cfg.PlanningWeeks, enrolled, s.graph.Version()}
	raw, _ := json.Marshal(key)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// GetWithProgress returns the roadmap with step statuses refreshed from
// current progress. Completed steps stay completed.
func (s *Service) GetWithProgress(ctx context.Context, studentID string) (*store.Roadmap, error) {
	if _, err := s.deps.Students.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	rm, err := s.deps.Roadmaps.GetRoadmap(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("get roadmap: %w", err)
	}
	if rm == nil {
		return nil, apperr.NotFound("roadmap", studentID)
	}
	progress, err := s.progress(ctx, studentID)
	if err != nil {
		return nil, err
	}
	for i := range rm.Steps {
		st := &rm.Steps[i]
		if st.CompletionStatus == store.StatusCompleted {
			continue
		}
		st.CompletionStatus = stepStatus(progress, st.ContentID)
	}
	rm.TotalEstimatedMins = remainingMins(rm.Steps)
	return rm, nil
}

// SetStatus pauses or reactivates the roadmap. Roadmaps are never deleted.
func (s *Service) SetStatus(ctx context.Context, studentID, status string) (*store.Roadmap, error) {
	if err := validate.Var("status", status, "required,oneof=active paused"); err != nil {
		return nil, err
	}
	if _, err := s.deps.Students.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	rm, err := s.deps.Roadmaps.GetRoadmap(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("get roadmap: %w", err)
	}
	if rm == nil {
		return nil, apperr.NotFound("roadmap", studentID)
	}
	if rm.Status == status {
		return rm, nil
	}
	rm.Status = status
	rm.UpdatedAt = s.now().UTC()
	if err := s.deps.Roadmaps.SaveRoadmap(ctx, rm); err != nil {
		return nil, fmt.Errorf("save roadmap: %w", err)
	}
	s.log.Info("roadmap status changed", "student", studentID, "status", status)
	return rm, nil
}
