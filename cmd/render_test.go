package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/pathwise/internal/analysis"
	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/progression"
	"github.com/abhisek/pathwise/internal/store"
)

func TestRenderOverview(t *testing.T) {
	score := 85.0
	out := renderOverview(&progression.CourseOverview{
		Course: progression.ItemStatus{ContentID: "algebra-101", Title: "Algebra I"},
		Items: []progression.ItemStatus{
			{ContentID: "alg-l1", Title: "Variables", State: catalog.StateCompleted, StateLabel: "completed", Score: &score},
			{ContentID: "alg-l2", Title: "Linear Equations", State: catalog.StateLocked, StateLabel: "locked", MissingPrerequisites: []string{"alg-l1"}},
		},
		Completed: 1,
		Total:     2,
	})
	assert.Contains(t, out, "Algebra I")
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "score 85")
	assert.Contains(t, out, "needs alg-l1")
}

func TestRenderGaps(t *testing.T) {
	assert.Contains(t, renderGaps(nil), "No knowledge gaps")

	out := renderGaps([]store.KnowledgeGap{
		{Topic: "variables", SubjectArea: "algebra", Severity: 0.3},
		{Topic: "quadratics", SubjectArea: "algebra", Severity: 0.9, Resolved: true},
	})
	assert.Less(t, strings.Index(out, "quadratics"), strings.Index(out, "variables"), "most severe first")
	assert.Contains(t, out, "resolved")
}

func TestRenderRecommendations(t *testing.T) {
	assert.Contains(t, renderRecommendations(nil), "Nothing to recommend")

	out := renderRecommendations([]store.Recommendation{{
		Rank: 1, ContentID: "alg-l2", ContentType: "lesson", Score: 0.62,
		Factors: map[string]store.FactorScore{
			"gap_relevance":   {Contribution: 0.4},
			"prereq_strength": {Contribution: 0.22},
		},
	}})
	assert.Contains(t, out, "alg-l2")
	assert.Contains(t, out, "0.620")
	assert.Contains(t, out, "gap_relevance")
}

func TestTopFactor(t *testing.T) {
	assert.Equal(t, "-", topFactor(nil))
	assert.Equal(t, "a", topFactor(map[string]store.FactorScore{
		"a": {Contribution: 0.3},
		"b": {Contribution: 0.3},
	}), "ties break by name")
}

func TestRenderRoadmap(t *testing.T) {
	out := renderRoadmap(&store.Roadmap{
		StudentID:          "s1",
		Status:             store.RoadmapActive,
		TotalEstimatedMins: 600,
		Factors: store.PersonalizationFactors{
			HoursPerWeek: 1, PlanningWeeks: 4, BudgetMins: 240,
			OverBudget: true, Reprioritized: true,
		},
		Steps: []store.RoadmapStep{
			{ContentID: "x", Title: "Weak topic", EstimatedMins: 300, Week: 5, CompletionStatus: store.StatusNotStarted},
			{ContentID: "a", Title: "Intro", EstimatedMins: 300, Week: 10, CompletionStatus: store.StatusNotStarted},
		},
	})
	assert.Contains(t, out, "600 min remaining")
	assert.Contains(t, out, "Budget 240 min over 4 weeks")
	assert.Contains(t, out, "Over budget")
	assert.Contains(t, out, "moved forward")
	assert.Contains(t, out, "w 5")
}

func TestRenderAnalysis(t *testing.T) {
	out := renderAnalysis(&analysis.Result{
		Topics: []string{"derivatives"}, Difficulty: 0.55,
		Analyzer: "rules", FallbackUsed: true, FallbackReason: apperr.KindUnavailable,
	})
	assert.Contains(t, out, "derivatives")
	assert.Contains(t, out, "0.55")
	assert.Contains(t, out, "rules (fallback: unavailable)")
}

func TestRoadmapOptions(t *testing.T) {
	newCmd := func(args ...string) *cobra.Command {
		c := &cobra.Command{}
		addRoadmapFlags(c)
		require.NoError(t, c.Flags().Parse(args))
		return c
	}

	opts, err := roadmapOptions(newCmd("--skill", "alg-l3", "--skill", "limits", "--force"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alg-l3", "limits"}, opts.TargetSkills)
	assert.True(t, opts.ForceRegenerate)
	assert.Nil(t, opts.TimeConstraints)

	opts, err = roadmapOptions(newCmd("--hours", "3", "--target", "2030-01-15"))
	require.NoError(t, err)
	require.NotNil(t, opts.TimeConstraints)
	assert.Equal(t, 3.0, opts.TimeConstraints.HoursPerWeek)
	assert.Equal(t, time.January, opts.TimeConstraints.TargetCompletion.Month())

	_, err = roadmapOptions(newCmd("--target", "2030-01-15"))
	assert.Error(t, err)
	_, err = roadmapOptions(newCmd("--hours", "3", "--target", "15/01/2030"))
	assert.Error(t, err)
}

func TestFormatPrereqs(t *testing.T) {
	minScore := 70.0
	assert.Equal(t, "-", formatPrereqs(nil))
	assert.Equal(t, "alg-l2, alg-a1 (≥70)", formatPrereqs([]catalog.Prerequisite{
		{ContentID: "alg-l2"}, {ContentID: "alg-a1", MinScore: &minScore},
	}))
}
