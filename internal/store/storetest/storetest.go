// Package storetest holds a behavioral test suite shared by every
// store.Repos implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/store"
)

// Factory returns a fresh, empty set of repositories.
type Factory func(t *testing.T) store.Repos

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises every repository in the bundle returned by newRepos.
func Run(t *testing.T, newRepos Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, r store.Repos)
	}{
		{"Students", testStudents},
		{"Profiles", testProfiles},
		{"Gaps", testGaps},
		{"ProgressVersioning", testProgressVersioning},
		{"Blocks", testBlocks},
		{"Attempts", testAttempts},
		{"Assessments", testAssessments},
		{"Interactions", testInteractions},
		{"Patterns", testPatterns},
		{"Recommendations", testRecommendations},
		{"Roadmaps", testRoadmaps},
		{"Events", testEvents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newRepos(t))
		})
	}
}

func testStudents(t *testing.T, r store.Repos) {
	ctx := context.Background()

	_, err := r.Students.GetStudent(ctx, "s1")
	require.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

	s := &store.Student{ID: "s1", EnrolledCourses: []string{"c1"}, CreatedAt: base}
	require.NoError(t, r.Students.SaveStudent(ctx, s))

	s.EnrolledCourses = append(s.EnrolledCourses, "c2")
	require.NoError(t, r.Students.SaveStudent(ctx, s))

	got, err := r.Students.GetStudent(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c2"}, got.EnrolledCourses)
	require.True(t, got.CreatedAt.Equal(base))
}

func testProfiles(t *testing.T, r store.Repos) {
	ctx := context.Background()

	p, err := r.Profiles.GetProfile(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, p.Topics)

	_, ok, err := r.Profiles.GetTopic(ctx, "s1", "algebra")
	require.NoError(t, err)
	require.False(t, ok)

	tm := store.TopicMastery{Topic: "algebra", Mastery: 0.4, Confidence: 0.2, Observations: 1, LastUpdated: base}
	require.NoError(t, r.Profiles.SaveTopic(ctx, "s1", tm))
	tm.Mastery = 0.7
	tm.Observations = 2
	require.NoError(t, r.Profiles.SaveTopic(ctx, "s1", tm))

	got, ok, err := r.Profiles.GetTopic(ctx, "s1", "algebra")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 0.7, got.Mastery, 1e-9)
	require.Equal(t, 2, got.Observations)

	p, err = r.Profiles.GetProfile(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, p.Topics, 1)

	other, err := r.Profiles.GetProfile(ctx, "s2")
	require.NoError(t, err)
	require.Empty(t, other.Topics)
}

func testGaps(t *testing.T, r store.Repos) {
	ctx := context.Background()

	for i, topic := range []string{"a", "b", "a"} {
		require.NoError(t, r.Gaps.AppendGap(ctx, &store.KnowledgeGap{
			ID:           string(rune('1' + i)),
			StudentID:    "s1",
			SubjectArea:  "math",
			Topic:        topic,
			Severity:     0.3,
			DetectedFrom: "attempt-1",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := r.Gaps.ListGaps(ctx, "s1", store.GapFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "1", all[0].ID)
	require.Equal(t, "3", all[2].ID)

	n, err := r.Gaps.ResolveGaps(ctx, "s1", "a", base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = r.Gaps.ResolveGaps(ctx, "s1", "a", base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	open, err := r.Gaps.ListGaps(ctx, "s1", store.GapFilter{UnresolvedOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "b", open[0].Topic)

	resolved, err := r.Gaps.ListGaps(ctx, "s1", store.GapFilter{Topic: "a"})
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	for _, g := range resolved {
		require.True(t, g.Resolved)
		require.NotNil(t, g.ResolvedAt)
	}

	fromAttempt, err := r.Gaps.ListGaps(ctx, "s1", store.GapFilter{DetectedFrom: "attempt-1"})
	require.NoError(t, err)
	require.Len(t, fromAttempt, 3)
	fromOther, err := r.Gaps.ListGaps(ctx, "s1", store.GapFilter{DetectedFrom: "attempt-2"})
	require.NoError(t, err)
	require.Empty(t, fromOther)
}

func testProgressVersioning(t *testing.T, r store.Repos) {
	ctx := context.Background()

	got, err := r.Progress.GetProgress(ctx, "s1", "l1")
	require.NoError(t, err)
	require.Nil(t, got)

	rec := &store.ProgressRecord{
		StudentID:   "s1",
		ContentID:   "l1",
		ContentType: "lesson",
		Status:      store.StatusInProgress,
		TimeSpent:   90 * time.Second,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
	require.NoError(t, r.Progress.SaveProgress(ctx, rec))
	require.EqualValues(t, 1, rec.Version)

	dup := &store.ProgressRecord{StudentID: "s1", ContentID: "l1", Status: store.StatusInProgress, CreatedAt: base, UpdatedAt: base}
	require.True(t, errors.Is(r.Progress.SaveProgress(ctx, dup), store.ErrVersionConflict))

	stale := *rec
	score := 82.5
	rec.Status = store.StatusCompleted
	rec.CompletionPercentage = 100
	rec.Score = &score
	rec.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, r.Progress.SaveProgress(ctx, rec))
	require.EqualValues(t, 2, rec.Version)

	stale.Status = store.StatusNotStarted
	require.True(t, errors.Is(r.Progress.SaveProgress(ctx, &stale), store.ErrVersionConflict))

	got, err = r.Progress.GetProgress(ctx, "s1", "l1")
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, got.Status)
	require.NotNil(t, got.Score)
	require.InDelta(t, 82.5, *got.Score, 1e-9)
	require.Equal(t, 90*time.Second, got.TimeSpent)
	require.EqualValues(t, 2, got.Version)

	list, err := r.Progress.ListProgress(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func testBlocks(t *testing.T, r store.Repos) {
	ctx := context.Background()

	b, err := r.Blocks.ActiveBlock(ctx, "s1", "l1")
	require.NoError(t, err)
	require.Nil(t, b)

	require.NoError(t, r.Blocks.CreateBlock(ctx, &store.ProgressionBlock{
		ID: "b1", StudentID: "s1", ContentID: "l1", Reason: "review", BlockedBy: "t1", CreatedAt: base,
	}))

	b, err = r.Blocks.ActiveBlock(ctx, "s1", "l1")
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Equal(t, "review", b.Reason)

	active, err := r.Blocks.ListActiveBlocks(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, r.Blocks.ResolveBlock(ctx, "b1", "t1", base.Add(time.Hour)))
	err = r.Blocks.ResolveBlock(ctx, "b1", "t1", base.Add(2*time.Hour))
	require.True(t, apperr.Is(err, apperr.KindNotFound), "second resolve: %v", err)

	b, err = r.Blocks.ActiveBlock(ctx, "s1", "l1")
	require.NoError(t, err)
	require.Nil(t, b)

	active, err = r.Blocks.ListActiveBlocks(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, active)
}

func testAttempts(t *testing.T, r store.Repos) {
	ctx := context.Background()

	_, err := r.Attempts.GetAttempt(ctx, "a1")
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	a := &store.AssessmentAttempt{
		ID:           "a1",
		StudentID:    "s1",
		AssessmentID: "as1",
		Answers: []store.Answer{
			{QuestionID: "q1", Response: []string{"4"}, PointsEarned: 1, PointsPossible: 1, Graded: true},
			{QuestionID: "q2", Response: []string{"essay"}, PointsPossible: 2},
		},
		Score:       50,
		SubmittedAt: base,
		GradedBy:    "auto",
	}
	require.NoError(t, r.Attempts.CreateAttempt(ctx, a))

	now := base.Add(time.Hour)
	a.Answers[1].PointsEarned = 2
	a.Answers[1].Graded = true
	a.Score = 100
	a.Passed = true
	a.GradedBy = "t1"
	a.RegradedAt = &now
	require.NoError(t, r.Attempts.UpdateGrade(ctx, a))

	got, err := r.Attempts.GetAttempt(ctx, "a1")
	require.NoError(t, err)
	require.True(t, got.Passed)
	require.InDelta(t, 100, got.Score, 1e-9)
	require.Len(t, got.Answers, 2)
	require.True(t, got.Answers[1].Graded)
	require.NotNil(t, got.RegradedAt)
	require.Equal(t, "t1", got.GradedBy)

	list, err := r.Attempts.ListAttempts(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	err = r.Attempts.UpdateGrade(ctx, &store.AssessmentAttempt{ID: "missing"})
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	require.Nil(t, got.AnalyzedAt)
	marked, err := r.Attempts.MarkAnalyzed(ctx, "a1", now)
	require.NoError(t, err)
	require.True(t, marked)
	marked, err = r.Attempts.MarkAnalyzed(ctx, "a1", now.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, marked, "an attempt is marked once")

	got, err = r.Attempts.GetAttempt(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got.AnalyzedAt)
	require.True(t, got.AnalyzedAt.Equal(now))

	require.NoError(t, r.Attempts.UpdateGrade(ctx, got))
	got, err = r.Attempts.GetAttempt(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got.AnalyzedAt, "a regrade keeps the analysis stamp")

	_, err = r.Attempts.MarkAnalyzed(ctx, "missing", now)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func testAssessments(t *testing.T, r store.Repos) {
	ctx := context.Background()

	_, err := r.Assessments.GetAssessment(ctx, "x")
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	a := &store.AssessmentData{
		ID:          "as1",
		SubjectArea: "algebra",
		Kind:        "initial",
		Questions: []store.AssessmentQuestion{
			{QuestionID: "q1", Topics: []string{"variables"}, Band: "beginner", Type: "true_false", Answers: []string{"true"}, Points: 1},
		},
		TimeLimit:    30 * time.Minute,
		PassingScore: 70,
		CreatedAt:    base,
	}
	require.NoError(t, r.Assessments.SaveAssessment(ctx, a))

	got, err := r.Assessments.GetAssessment(ctx, "as1")
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, got.TimeLimit)
	require.Len(t, got.Questions, 1)
	require.Equal(t, []string{"true"}, got.Questions[0].Answers)
}

func testInteractions(t *testing.T, r store.Repos) {
	ctx := context.Background()

	require.NoError(t, r.Interactions.AppendInteractions(ctx, nil))

	batch := []store.Interaction{
		{StudentID: "s1", ContentID: "l2", ContentType: "lesson", Type: "start", Timestamp: base.Add(2 * time.Minute)},
		{StudentID: "s1", ContentID: "l1", ContentType: "lesson", Type: "view", Duration: time.Minute, Timestamp: base},
		{StudentID: "s2", ContentID: "l1", ContentType: "lesson", Type: "view", Timestamp: base},
	}
	require.NoError(t, r.Interactions.AppendInteractions(ctx, batch))
	require.Less(t, batch[0].Sequence, batch[1].Sequence)
	require.Less(t, batch[1].Sequence, batch[2].Sequence)

	events, err := r.Interactions.ListInteractions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "l1", events[0].ContentID)
	require.Equal(t, time.Minute, events[0].Duration)
	require.Equal(t, "l2", events[1].ContentID)
}

func testPatterns(t *testing.T, r store.Repos) {
	ctx := context.Background()

	p, err := r.Patterns.GetPattern(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, p)

	pat := &store.EngagementPatternData{
		StudentID:     "s1",
		ByType:        map[string]store.TypeEngagement{"lesson": {Views: 3, Completions: 1, Momentum: 0.8}},
		PreferredType: "lesson",
		EventCount:    4,
		ComputedAt:    base,
	}
	require.NoError(t, r.Patterns.SavePattern(ctx, pat))
	pat.EventCount = 5
	require.NoError(t, r.Patterns.SavePattern(ctx, pat))

	p, err = r.Patterns.GetPattern(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 5, p.EventCount)
	require.Equal(t, 3, p.ByType["lesson"].Views)
}

func testRecommendations(t *testing.T, r store.Repos) {
	ctx := context.Background()

	recs := []store.Recommendation{
		{ID: "r1", StudentID: "s1", ContentID: "l1", ContentType: "lesson", Rank: 1, Score: 0.8,
			Factors: map[string]store.FactorScore{"gap_relevance": {Value: 1, Weight: 0.35, Contribution: 0.35, Available: true}},
			CreatedAt: base, UpdatedAt: base},
		{ID: "r2", StudentID: "s1", ContentID: "l2", ContentType: "lesson", Rank: 2, Score: 0.5, CreatedAt: base, UpdatedAt: base},
	}
	require.NoError(t, r.Recommendations.SaveRecommendations(ctx, recs))

	require.NoError(t, r.Recommendations.MarkFeedback(ctx, "r1", true, false, base.Add(time.Minute)))
	require.NoError(t, r.Recommendations.MarkFeedback(ctx, "r1", false, true, base.Add(2*time.Minute)))
	require.NoError(t, r.Recommendations.MarkFeedback(ctx, "r1", false, false, base.Add(3*time.Minute)))

	got, err := r.Recommendations.GetRecommendation(ctx, "r1")
	require.NoError(t, err)
	require.True(t, got.Viewed)
	require.True(t, got.Clicked)
	require.InDelta(t, 0.8, got.Score, 1e-9)
	require.InDelta(t, 0.35, got.Factors["gap_relevance"].Contribution, 1e-9)

	err = r.Recommendations.MarkFeedback(ctx, "missing", true, true, base)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func testRoadmaps(t *testing.T, r store.Repos) {
	ctx := context.Background()

	rm, err := r.Roadmaps.GetRoadmap(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, rm)

	first := &store.Roadmap{
		ID:        "rm1",
		StudentID: "s1",
		Steps: []store.RoadmapStep{
			{ContentID: "l1", Title: "Intro", EstimatedMins: 30, CompletionStatus: store.StatusNotStarted},
		},
		TotalEstimatedMins: 30,
		Status:             store.RoadmapActive,
		InputsHash:         "h1",
		GeneratedAt:        base,
		UpdatedAt:          base,
	}
	require.NoError(t, r.Roadmaps.SaveRoadmap(ctx, first))

	second := *first
	second.ID = "rm2"
	second.InputsHash = "h2"
	second.Status = store.RoadmapPaused
	require.NoError(t, r.Roadmaps.SaveRoadmap(ctx, &second))

	rm, err = r.Roadmaps.GetRoadmap(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "rm2", rm.ID)
	require.Equal(t, store.RoadmapPaused, rm.Status)
	require.Len(t, rm.Steps, 1)
}

func testEvents(t *testing.T, r store.Repos) {
	err := r.Events.AppendLLMRequest(context.Background(), store.LLMRequestEventData{
		Provider:     "anthropic",
		Model:        "claude-sonnet-4-20250514",
		Purpose:      "content-analysis",
		InputTokens:  120,
		OutputTokens: 40,
		LatencyMs:    350,
		Success:      true,
	})
	require.NoError(t, err)
}
