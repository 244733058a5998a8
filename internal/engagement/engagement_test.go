package engagement

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

func newTestService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	g, err := catalog.Default()
	require.NoError(t, err)
	mem := memstore.New()
	require.NoError(t, mem.SaveStudent(context.Background(), &store.Student{ID: "s1"}))
	return NewService(g, Deps{Students: mem, Interactions: mem, Patterns: mem}, nil), mem
}

func TestCompute(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []store.Interaction{
		{ContentType: "lesson", Type: EventStart, Timestamp: now.Add(-14 * 24 * time.Hour), Duration: 10 * time.Minute},
		{ContentType: "lesson", Type: EventComplete, Timestamp: now.Add(-14 * 24 * time.Hour), Duration: 20 * time.Minute},
		{ContentType: "assessment", Type: EventView, Timestamp: now},
		{ContentType: "assessment", Type: EventStart, Timestamp: now},
	}

	p := Compute("s1", events, now)
	assert.Equal(t, 4, p.EventCount)

	lesson := p.ByType["lesson"]
	assert.Equal(t, 1, lesson.Starts)
	assert.Equal(t, 1, lesson.Completions)
	assert.InDelta(t, 1.0, lesson.CompletionRate, 1e-9)
	assert.InDelta(t, 0.5, lesson.DecayedCount, 1e-9, "two events at two half-lives")
	assert.InDelta(t, 0.25, lesson.Momentum, 1e-9)

	quiz := p.ByType["assessment"]
	assert.Equal(t, 1, quiz.Views)
	assert.InDelta(t, 2.0, quiz.DecayedCount, 1e-9)
	assert.InDelta(t, 1.0, quiz.Momentum, 1e-9)
	assert.Zero(t, quiz.CompletionRate)

	assert.Equal(t, "assessment", p.PreferredType, "recent activity outweighs stale history")
	assert.InDelta(t, 0.5, p.CompletionRate, 1e-9)
	assert.Equal(t, 15*time.Minute, p.AvgSessionDuration)
}

func TestCompute_Empty(t *testing.T) {
	p := Compute("s1", nil, time.Now())
	assert.Zero(t, p.EventCount)
	assert.Empty(t, p.PreferredType)
	assert.Zero(t, p.CompletionRate)
}

func TestDecayAndRate(t *testing.T) {
	assert.InDelta(t, 1, decay(-time.Hour), 1e-9)
	assert.InDelta(t, 0.5, decay(HalfLife), 1e-9)
	assert.InDelta(t, 1, rate(2, 0), 1e-9)
	assert.Zero(t, rate(0, 0))
}

func TestRecord_RecomputesOnlyOnCompletion(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "s1", []Event{{ContentID: "alg-l1", Type: EventView}}))
	cached, err := mem.GetPattern(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, cached, "views do not trigger a recompute")

	require.NoError(t, svc.Record(ctx, "s1", []Event{
		{ContentID: "alg-l1", Type: EventStart, DurationSeconds: 60},
		{ContentID: "alg-l1", ContentType: "lesson", Type: EventComplete, DurationSeconds: 120},
	}))
	cached, err = mem.GetPattern(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 3, cached.EventCount)
	assert.Equal(t, "lesson", cached.PreferredType)

	require.NoError(t, svc.Record(ctx, "s1", []Event{{ContentID: "alg-a1", Type: EventView}}))
	p, err := svc.Analyze(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.EventCount, "Analyze serves the cache between completions")
}

func TestAnalyze_ComputesWhenUncached(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "s1", []Event{{ContentID: "alg-l1", Type: EventView}}))
	p, err := svc.Analyze(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.EventCount)
	assert.Equal(t, "lesson", p.PreferredType)
}

func TestRecord_Errors(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		student string
		events  []Event
		kind    apperr.Kind
	}{
		{"no events", "s1", nil, apperr.KindValidation},
		{"bad type", "s1", []Event{{ContentID: "alg-l1", Type: "like"}}, apperr.KindValidation},
		{"negative duration", "s1", []Event{{ContentID: "alg-l1", Type: EventView, DurationSeconds: -1}}, apperr.KindValidation},
		{"type mismatch", "s1", []Event{{ContentID: "alg-l1", ContentType: "assessment", Type: EventView}}, apperr.KindValidation},
		{"unknown content", "s1", []Event{{ContentID: "nope", Type: EventView}}, apperr.KindNotFound},
		{"unknown student", "ghost", []Event{{ContentID: "alg-l1", Type: EventView}}, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Record(ctx, tt.student, tt.events)
			assert.True(t, apperr.Is(err, tt.kind), "got %v", err)
		})
	}

	events, err := mem.ListInteractions(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, events, "a rejected batch writes nothing")
}
