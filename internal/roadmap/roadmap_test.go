package roadmap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/store/memstore"
)

// Topological order: a, x, b, y, c1, z.
const testCatalog = `
version: v1.2.0
topics:
  - {id: basics, name: Basics, subject_area: math}
  - {id: weak, name: Weak Spot, subject_area: math}
items:
  - {id: c1, title: Course One, type: course, subject_area: math}
  - {id: a, title: A, type: lesson, subject_area: math, course: c1, topics: [basics], difficulty: 0.2, estimated_minutes: 300}
  - id: b
    title: B
    type: lesson
    subject_area: math
    course: c1
    topics: [basics]
    difficulty: 0.3
    estimated_minutes: 300
    prerequisites:
      - {id: a}
  - {id: x, title: X, type: lesson, subject_area: math, topics: [weak], difficulty: 0.4, estimated_minutes: 300}
  - id: y
    title: Y
    type: assessment
    subject_area: math
    topics: [weak]
    difficulty: 0.5
    estimated_minutes: 300
    prerequisites:
      - {id: x}
  - id: z
    title: Z
    type: lesson
    subject_area: math
    topics: [basics]
    difficulty: 0.6
    estimated_minutes: 60
    prerequisites:
      - {id: c1}
`

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc *Service
	mem *memstore.Store
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	c, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	g, err := catalog.New(c)
	require.NoError(t, err)

	mem := memstore.New()
	require.NoError(t, mem.SaveStudent(context.Background(), &store.Student{ID: "s1", EnrolledCourses: []string{"c1"}}))

	svc, err := NewService(g, Deps{Students: mem, Gaps: mem, Progress: mem, Roadmaps: mem}, cfg, nil)
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow }
	return &fixture{svc: svc, mem: mem}
}

func stepIDs(rm *store.Roadmap) []string {
	ids := make([]string, len(rm.Steps))
	for i, st := range rm.Steps {
		ids[i] = st.ContentID
	}
	return ids
}

func TestGenerate_OverBudgetPullsGapsForward(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, f.mem.AppendGap(ctx, &store.KnowledgeGap{ID: "g1", StudentID: "s1", Topic: "weak", Severity: 0.8, CreatedAt: testNow}))

	rm, err := f.svc.Generate(ctx, "s1", Options{
		TargetSkills:    []string{"b", "y"},
		TimeConstraints: &TimeConstraints{HoursPerWeek: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y", "a", "b"}, stepIDs(rm), "the full path is kept")
	assert.Equal(t, 1200, rm.TotalEstimatedMins)
	assert.True(t, rm.Factors.OverBudget)
	assert.True(t, rm.Factors.Reprioritized)
	assert.Equal(t, 240, rm.Factors.BudgetMins)
	assert.Equal(t, 4, rm.Factors.PlanningWeeks)
	assert.Equal(t, []string{"weak"}, rm.Factors.GapTopics)

	assert.Equal(t, 5, rm.Steps[0].Week)
	assert.Equal(t, 20, rm.Steps[3].Week)
	assert.InDelta(t, 0.8, rm.Steps[0].Priority, 1e-9)
	assert.Zero(t, rm.Steps[2].Priority)
	for _, st := range rm.Steps {
		assert.False(t, st.WithinBudget, st.ContentID)
		assert.Equal(t, store.StatusNotStarted, st.CompletionStatus)
	}
}

func TestGenerate_WithinBudgetKeepsTopologicalOrder(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, f.mem.AppendGap(ctx, &store.KnowledgeGap{ID: "g1", StudentID: "s1", Topic: "weak", Severity: 0.8, CreatedAt: testNow}))

	rm, err := f.svc.Generate(ctx, "s1", Options{
		TargetSkills:    []string{"b", "y"},
		TimeConstraints: &TimeConstraints{HoursPerWeek: 10},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "x", "b", "y"}, stepIDs(rm))
	assert.False(t, rm.Factors.OverBudget)
	assert.False(t, rm.Factors.Reprioritized)
	weeks := []int{1, 1, 2, 2}
	for i, st := range rm.Steps {
		assert.Equal(t, weeks[i], st.Week, st.ContentID)
		assert.True(t, st.WithinBudget, st.ContentID)
	}
}

func TestGenerate_TargetDateSetsHorizon(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	due := testNow.Add(13 * 24 * time.Hour)

	rm, err := f.svc.Generate(context.Background(), "s1", Options{
		TargetSkills:    []string{"weak"},
		TimeConstraints: &TimeConstraints{HoursPerWeek: 2, TargetCompletion: &due},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, stepIDs(rm), "topic targets expand to their items")
	assert.Equal(t, 2, rm.Factors.PlanningWeeks)
	assert.Equal(t, 240, rm.Factors.BudgetMins)
	assert.True(t, rm.Factors.OverBudget)
	assert.False(t, rm.Factors.Reprioritized, "no gaps, nothing to pull forward")
}

func TestGenerate_CoursePrerequisiteExpands(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	rm, err := f.svc.Generate(context.Background(), "s1", Options{TargetSkills: []string{"z"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "z"}, stepIDs(rm))
	assert.Equal(t, 660, rm.TotalEstimatedMins)
	assert.Zero(t, rm.Factors.BudgetMins)
	for _, st := range rm.Steps {
		assert.Zero(t, st.Week)
		assert.True(t, st.WithinBudget)
	}
}

func TestGenerate_DefaultsToEnrolledCourses(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	rm, err := f.svc.Generate(context.Background(), "s1", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stepIDs(rm))
	assert.Equal(t, store.RoadmapActive, rm.Status)
	assert.NotEmpty(t, rm.InputsHash)
}

func TestGenerate_Idempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	opts := Options{TargetSkills: []string{"y"}, TimeConstraints: &TimeConstraints{HoursPerWeek: 3}}

	first, err := f.svc.Generate(ctx, "s1", opts)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return testNow.Add(time.Hour) }
	second, err := f.svc.Generate(ctx, "s1", opts)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.GeneratedAt, second.GeneratedAt, "unchanged inputs reuse the active roadmap")
	assert.Equal(t, stepIDs(first), stepIDs(second))

	opts.ForceRegenerate = true
	third, err := f.svc.Generate(ctx, "s1", opts)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID, "one roadmap per student")
	assert.True(t, third.GeneratedAt.After(first.GeneratedAt))

	changed, err := f.svc.Generate(ctx, "s1", Options{TargetSkills: []string{"b"}})
	require.NoError(t, err)
	assert.NotEqual(t, first.InputsHash, changed.InputsHash)
	assert.Equal(t, []string{"a", "b"}, stepIDs(changed))
}

func TestGenerate_PreservesCompletedSteps(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	rec := &store.ProgressRecord{StudentID: "s1", ContentID: "a", ContentType: "lesson", Status: store.StatusCompleted, CompletionPercentage: 100}
	require.NoError(t, f.mem.SaveProgress(ctx, rec))

	rm, err := f.svc.Generate(ctx, "s1", Options{TargetSkills: []string{"b"}})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, stepIDs(rm))
	assert.Equal(t, store.StatusCompleted, rm.Steps[0].CompletionStatus)
	assert.Equal(t, 300, rm.TotalEstimatedMins, "completed work is not counted")

	rec.Status = store.StatusInProgress
	require.NoError(t, f.mem.SaveProgress(ctx, rec))

	rm, err = f.svc.Generate(ctx, "s1", Options{TargetSkills: []string{"b"}, ForceRegenerate: true})
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, rm.Steps[0].CompletionStatus)
}

func TestGetWithProgress(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.svc.GetWithProgress(ctx, "s1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.Generate(ctx, "s1", Options{TargetSkills: []string{"y"}})
	require.NoError(t, err)
	require.NoError(t, f.mem.SaveProgress(ctx, &store.ProgressRecord{
		StudentID: "s1", ContentID: "x", ContentType: "lesson", Status: store.StatusCompleted, CompletionPercentage: 100,
	}))
	require.NoError(t, f.mem.SaveProgress(ctx, &store.ProgressRecord{
		StudentID: "s1", ContentID: "y", ContentType: "assessment", Status: store.StatusInProgress, CompletionPercentage: 40,
	}))

	rm, err := f.svc.GetWithProgress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, rm.Steps[0].CompletionStatus)
	assert.Equal(t, store.StatusInProgress, rm.Steps[1].CompletionStatus)
	assert.Equal(t, 300, rm.TotalEstimatedMins)
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.svc.SetStatus(ctx, "s1", store.RoadmapPaused)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	first, err := f.svc.Generate(ctx, "s1", Options{})
	require.NoError(t, err)

	rm, err := f.svc.SetStatus(ctx, "s1", store.RoadmapPaused)
	require.NoError(t, err)
	assert.Equal(t, store.RoadmapPaused, rm.Status)

	_, err = f.svc.SetStatus(ctx, "s1", "archived")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	again, err := f.svc.Generate(ctx, "s1", Options{})
	require.NoError(t, err)
	assert.Equal(t, store.RoadmapActive, again.Status, "a paused roadmap is regenerated")
	assert.Equal(t, first.ID, again.ID)
}

func TestGenerate_ExploredNodesBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExploredNodes = 2
	f := newFixture(t, cfg)

	_, err := f.svc.Generate(context.Background(), "s1", Options{TargetSkills: []string{"z"}})
	assert.True(t, apperr.Is(err, apperr.KindResourceExhausted), "got %v", err)

	rm, err := f.svc.Generate(context.Background(), "s1", Options{TargetSkills: []string{"y"}})
	require.NoError(t, err)
	assert.Len(t, rm.Steps, 2)
}

func TestGenerate_Errors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, f.mem.SaveStudent(ctx, &store.Student{ID: "loner"}))
	past := testNow.Add(-time.Hour)

	tests := []struct {
		name    string
		student string
		opts    Options
		kind    apperr.Kind
	}{
		{"unknown student", "ghost", Options{}, apperr.KindNotFound},
		{"missing student", "", Options{}, apperr.KindValidation},
		{"unknown skill", "s1", Options{TargetSkills: []string{"nope"}}, apperr.KindNotFound},
		{"blank skill", "s1", Options{TargetSkills: []string{""}}, apperr.KindValidation},
		{"no goals", "loner", Options{}, apperr.KindValidation},
		{"past target", "s1", Options{TimeConstraints: &TimeConstraints{HoursPerWeek: 1, TargetCompletion: &past}}, apperr.KindValidation},
		{"zero hours", "s1", Options{TimeConstraints: &TimeConstraints{}}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Generate(ctx, tt.student, tt.opts)
			assert.True(t, apperr.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestNewService_RejectsBadConfig(t *testing.T) {
	_, err := NewService(nil, Deps{}, Config{}, nil)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}
