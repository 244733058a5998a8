package progression

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/notify"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/store/memstore"
)

const testCatalog = `
version: v1.0.0
topics:
  - {id: t1, name: Topic One, subject_area: math}
items:
  - {id: c1, title: Course One, type: course, subject_area: math}
  - {id: l1, title: Lesson One, type: lesson, subject_area: math, course: c1, topics: [t1], difficulty: 0.2, estimated_minutes: 30}
  - id: l2
    title: Lesson Two
    type: lesson
    subject_area: math
    course: c1
    estimated_minutes: 30
    prerequisites:
      - {id: l1, min_score: 80}
  - id: q1
    title: Checkpoint
    type: assessment
    subject_area: math
    course: c1
    prerequisites:
      - {id: l2}
  - id: c2
    title: Course Two
    type: course
    subject_area: math
    prerequisites:
      - {id: c1}
  - {id: m1, title: Module One, type: lesson, subject_area: math, course: c2}
  - id: m2
    title: Module Two
    type: lesson
    subject_area: math
    course: c2
    prerequisites:
      - {id: m1}
  - {id: c3, title: Side Course, type: course, subject_area: math}
  - {id: p1, title: Part One, type: lesson, subject_area: math, course: c3}
  - {id: p2, title: Part Two, type: lesson, subject_area: math, course: c3}
  - id: j
    title: Joined
    type: lesson
    subject_area: math
    course: c3
    prerequisites:
      - {id: p1}
      - {id: p2}
`

type fixture struct {
	svc *Service
	mem *memstore.Store
	rec *notify.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	g, err := catalog.New(c)
	require.NoError(t, err)

	mem := memstore.New()
	require.NoError(t, mem.SaveStudent(context.Background(), &store.Student{ID: "s1"}))
	rec := &notify.Recorder{}
	svc, err := NewService(g, Deps{Students: mem, Progress: mem, Blocks: mem}, rec, nil, DefaultConfig(), nil)
	require.NoError(t, err)
	return &fixture{svc: svc, mem: mem, rec: rec}
}

func ptr(v float64) *float64 { return &v }

func (f *fixture) complete(t *testing.T, contentID string, score *float64) *UpdateResult {
	t.Helper()
	res, err := f.svc.UpdateProgress(context.Background(), ProgressUpdate{
		StudentID: "s1", ContentID: contentID, Status: store.StatusCompleted, Score: score,
	})
	require.NoError(t, err)
	return res
}

func TestUpdateProgress_UnlocksOnMinScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.complete(t, "l1", ptr(75))
	assert.Empty(t, res.UnlockedContentIDs)

	d, err := f.svc.CanAccess(ctx, "s1", "l2", "lesson")
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, ReasonMissing, d.Reason)
	assert.Equal(t, []string{"l1"}, d.MissingPrerequisites)

	res = f.complete(t, "l1", ptr(85))
	assert.Equal(t, []string{"l2"}, res.UnlockedContentIDs)
	assert.Equal(t, store.StatusCompleted, res.Record.Status)
	assert.InDelta(t, 85, *res.Record.Score, 1e-9)

	d, err = f.svc.CanAccess(ctx, "s1", "l2", "lesson")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, ReasonGranted, d.Reason)
	assert.Empty(t, d.MissingPrerequisites)

	events := f.rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "l1", events[0].TriggerID)
	assert.Equal(t, []string{"l2"}, events[0].Unlocked)
}

func TestUpdateProgress_CompletedIsSticky(t *testing.T) {
	f := newFixture(t)
	f.complete(t, "l1", ptr(90))

	res, err := f.svc.UpdateProgress(context.Background(), ProgressUpdate{
		StudentID: "s1", ContentID: "l1", Status: store.StatusInProgress,
		CompletionPercentage: ptr(10), Score: ptr(40), TimeSpentSeconds: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, res.Record.Status)
	assert.InDelta(t, 100, res.Record.CompletionPercentage, 1e-9)
	assert.InDelta(t, 90, *res.Record.Score, 1e-9, "best score is kept")
	assert.Equal(t, time.Minute, res.Record.TimeSpent)
	assert.Empty(t, res.UnlockedContentIDs, "nothing unlocks twice")

	d, err := f.svc.CanAccess(context.Background(), "s1", "l2", "")
	require.NoError(t, err)
	assert.True(t, d.Granted)
}

func TestUpdateProgress_StatusFromPercentage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.UpdateProgress(ctx, ProgressUpdate{StudentID: "s1", ContentID: "l1", CompletionPercentage: ptr(40)})
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, res.Record.Status)

	res, err = f.svc.UpdateProgress(ctx, ProgressUpdate{StudentID: "s1", ContentID: "l1", CompletionPercentage: ptr(20)})
	require.NoError(t, err)
	assert.InDelta(t, 40, res.Record.CompletionPercentage, 1e-9)

	res, err = f.svc.UpdateProgress(ctx, ProgressUpdate{StudentID: "s1", ContentID: "l1", CompletionPercentage: ptr(100)})
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, res.Record.Status)
	assert.Empty(t, res.UnlockedContentIDs, "l2 still needs a score")
}

func TestBlock_WinsOverGraph(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.svc.CanAccess(ctx, "s1", "l1", "lesson")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, ReasonNoPrerequisite, d.Reason)

	b, err := f.svc.Block(ctx, BlockInput{StudentID: "s1", ContentID: "l1", Reason: "review plagiarism"}, "i1")
	require.NoError(t, err)
	assert.Equal(t, "i1", b.BlockedBy)

	again, err := f.svc.Block(ctx, BlockInput{StudentID: "s1", ContentID: "l1", Reason: "again"}, "i2")
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.ID, "blocking twice keeps the first block")

	d, err = f.svc.CanAccess(ctx, "s1", "l1", "lesson")
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, ReasonBlocked, d.Reason)
	require.NotNil(t, d.Block)
	assert.Equal(t, "review plagiarism", d.Block.Reason)

	_, err = f.svc.UpdateProgress(ctx, ProgressUpdate{StudentID: "s1", ContentID: "l1", Status: store.StatusInProgress})
	assert.True(t, apperr.Is(err, apperr.KindPermissionDenied))

	d, err = f.svc.Unblock(ctx, "s1", "l1", "lesson", "i1")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Nil(t, d.Block)

	_, err = f.svc.Unblock(ctx, "s1", "l1", "lesson", "i1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUnblock_ReturnsGraphDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Block(ctx, BlockInput{StudentID: "s1", ContentID: "l2", Reason: "hold"}, "i1")
	require.NoError(t, err)

	res := f.complete(t, "l1", ptr(95))
	assert.Empty(t, res.UnlockedContentIDs, "blocked content is not reported as unlocked")

	d, err := f.svc.Unblock(ctx, "s1", "l2", "lesson", "i1")
	require.NoError(t, err)
	assert.True(t, d.Granted)

	_, err = f.svc.Block(ctx, BlockInput{StudentID: "s1", ContentID: "q1", Reason: "hold"}, "i1")
	require.NoError(t, err)
	d, err = f.svc.Unblock(ctx, "s1", "q1", "assessment", "i1")
	require.NoError(t, err)
	assert.False(t, d.Granted, "no block does not grant locked content")
	assert.Equal(t, []string{"l2"}, d.MissingPrerequisites)
}

func TestUpdateProgress_CourseCompletionPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.complete(t, "l1", ptr(90))
	f.complete(t, "l2", nil)
	res := f.complete(t, "q1", ptr(70))
	assert.ElementsMatch(t, []string{"c2", "m1"}, res.UnlockedContentIDs)

	course, err := f.mem.GetProgress(ctx, "s1", "c1")
	require.NoError(t, err)
	require.NotNil(t, course)
	assert.Equal(t, store.StatusCompleted, course.Status)
	assert.InDelta(t, 100, course.CompletionPercentage, 1e-9)

	ov, err := f.svc.CourseOverview(ctx, "s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateCompleted, ov.Course.State)
	assert.Equal(t, 3, ov.Completed)
	assert.Equal(t, 3, ov.Total)

	ov, err = f.svc.CourseOverview(ctx, "s1", "c2")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateAvailable, ov.Items[0].State)
	assert.Equal(t, catalog.StateLocked, ov.Items[1].State)
	assert.Equal(t, "locked", ov.Items[1].StateLabel)
}

func TestCourseOverview_States(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateProgress(ctx, ProgressUpdate{StudentID: "s1", ContentID: "l1", CompletionPercentage: ptr(50)})
	require.NoError(t, err)
	_, err = f.svc.Block(ctx, BlockInput{StudentID: "s1", ContentID: "q1", Reason: "hold"}, "i1")
	require.NoError(t, err)

	ov, err := f.svc.CourseOverview(ctx, "s1", "c1")
	require.NoError(t, err)
	require.Len(t, ov.Items, 3)
	states := map[string]catalog.ItemState{}
	for _, it := range ov.Items {
		states[it.ContentID] = it.State
	}
	assert.Equal(t, catalog.StateInProgress, states["l1"])
	assert.Equal(t, catalog.StateLocked, states["l2"])
	assert.Equal(t, catalog.StateBlocked, states["q1"])
	assert.Equal(t, catalog.StateInProgress, ov.Course.State, "course derives in_progress from a started item")

	_, err = f.svc.CourseOverview(ctx, "s1", "l1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdateProgress_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		u    ProgressUpdate
		kind apperr.Kind
	}{
		{"missing student", ProgressUpdate{ContentID: "l1"}, apperr.KindValidation},
		{"bad status", ProgressUpdate{StudentID: "s1", ContentID: "l1", Status: "blocked"}, apperr.KindValidation},
		{"bad percentage", ProgressUpdate{StudentID: "s1", ContentID: "l1", CompletionPercentage: ptr(120)}, apperr.KindValidation},
		{"type mismatch", ProgressUpdate{StudentID: "s1", ContentID: "l1", ContentType: "assessment"}, apperr.KindValidation},
		{"course is derived", ProgressUpdate{StudentID: "s1", ContentID: "c1"}, apperr.KindValidation},
		{"unknown student", ProgressUpdate{StudentID: "ghost", ContentID: "l1"}, apperr.KindNotFound},
		{"unknown content", ProgressUpdate{StudentID: "s1", ContentID: "nope"}, apperr.KindNotFound},
		{"locked content", ProgressUpdate{StudentID: "s1", ContentID: "l2", Status: store.StatusInProgress}, apperr.KindPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateProgress(ctx, tt.u)
			assert.True(t, apperr.Is(err, tt.kind), "got %v", err)
		})
	}

	_, err := f.svc.CanAccess(ctx, "s1", "", "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.Block(ctx, BlockInput{StudentID: "s1", ContentID: "l1"}, "i1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdateProgress_ConcurrentWritesSerialize(t *testing.T) {
	f := newFixture(t)
	const n = 25

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.UpdateProgress(context.Background(), ProgressUpdate{StudentID: "s1", ContentID: "l1", TimeSpentSeconds: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := f.mem.GetProgress(context.Background(), "s1", "l1")
	require.NoError(t, err)
	assert.Equal(t, n*time.Second, rec.TimeSpent)
	assert.Equal(t, int64(n), rec.Version)
}

func TestUpdateProgress_RacingCompletionsKeepUnlock(t *testing.T) {
	for range 20 {
		f := newFixture(t)
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			unlocked []string
		)
		for _, id := range []string{"p1", "p2"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := f.svc.UpdateProgress(context.Background(), ProgressUpdate{StudentID: "s1", ContentID: id, Status: store.StatusCompleted})
				assert.NoError(t, err)
				if res != nil {
					mu.Lock()
					unlocked = append(unlocked, res.UnlockedContentIDs...)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Contains(t, unlocked, "j")
	}
}

func TestResetProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.complete(t, "l1", ptr(90))
	f.complete(t, "l2", nil)
	f.complete(t, "q1", nil)

	rec, err := f.svc.ResetProgress(ctx, "s1", "l2", "i1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusNotStarted, rec.Status)
	assert.Nil(t, rec.Score)

	course, err := f.mem.GetProgress(ctx, "s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, course.Status)

	d, err := f.svc.CanAccess(ctx, "s1", "m1", "")
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, []string{"c1"}, d.MissingPrerequisites)

	_, err = f.svc.ResetProgress(ctx, "s1", "m2", "i1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.svc.ResetProgress(ctx, "s1", "c1", "i1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdateProgress_BlockStopsStartedContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.complete(t, "l1", ptr(90))
	_, err := f.svc.UpdateProgress(ctx, ProgressUpdate{StudentID: "s1", ContentID: "l2", Status: store.StatusInProgress})
	require.NoError(t, err)

	_, err = f.svc.Block(ctx, BlockInput{StudentID: "s1", ContentID: "l2", Reason: "hold"}, "i1")
	require.NoError(t, err)
	before := len(f.rec.Events())

	_, err = f.svc.UpdateProgress(ctx, ProgressUpdate{StudentID: "s1", ContentID: "l2", Status: store.StatusCompleted})
	require.True(t, apperr.Is(err, apperr.KindPermissionDenied), "got %v", err)

	rec, err := f.mem.GetProgress(ctx, "s1", "l2")
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, rec.Status)
	assert.Len(t, f.rec.Events(), before, "nothing unlocks through a blocked item")

	d, err := f.svc.CanAccess(ctx, "s1", "q1", "")
	require.NoError(t, err)
	assert.False(t, d.Granted)

	_, err = f.svc.Unblock(ctx, "s1", "l2", "lesson", "i1")
	require.NoError(t, err)
	res := f.complete(t, "l2", nil)
	assert.Equal(t, []string{"q1"}, res.UnlockedContentIDs)
}

func TestUpdateProgress_GrantedAccessIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.complete(t, "l1", ptr(85))
	f.complete(t, "l2", nil)

	granted := func() {
		t.Helper()
		for _, id := range []string{"l1", "l2", "q1"} {
			d, err := f.svc.CanAccess(ctx, "s1", id, "")
			require.NoError(t, err)
			assert.True(t, d.Granted, "%s lost access", id)
		}
	}
	granted()

	updates := []ProgressUpdate{
		{StudentID: "s1", ContentID: "l1", Score: ptr(10)},
		{StudentID: "s1", ContentID: "l1", Status: store.StatusInProgress, CompletionPercentage: ptr(5)},
		{StudentID: "s1", ContentID: "l1", Status: store.StatusNotStarted, Score: ptr(0)},
		{StudentID: "s1", ContentID: "l2", Status: store.StatusInProgress},
		{StudentID: "s1", ContentID: "l2", CompletionPercentage: ptr(0), TimeSpentSeconds: 30},
		{StudentID: "s1", ContentID: "q1", Score: ptr(20)},
		{StudentID: "s1", ContentID: "q1", Status: store.StatusInProgress, CompletionPercentage: ptr(1)},
	}
	for _, u := range updates {
		res, err := f.svc.UpdateProgress(ctx, u)
		require.NoError(t, err)
		assert.Empty(t, res.UnlockedContentIDs)
		granted()
	}
}

func TestMerge(t *testing.T) {
	now := time.Now()
	it := catalog.Item{ID: "l1", Type: catalog.TypeLesson}

	fresh := merge(nil, it, ProgressUpdate{StudentID: "s1", ContentID: "l1"}, now)
	assert.Equal(t, store.StatusNotStarted, fresh.Status)
	assert.Equal(t, "lesson", fresh.ContentType)
	assert.Equal(t, now, fresh.CreatedAt)

	started := merge(fresh, it, ProgressUpdate{StudentID: "s1", ContentID: "l1", Score: ptr(50)}, now)
	assert.Equal(t, store.StatusInProgress, started.Status)

	back := merge(started, it, ProgressUpdate{StudentID: "s1", ContentID: "l1", Status: store.StatusNotStarted}, now)
	assert.Equal(t, store.StatusInProgress, back.Status, "status never moves backwards")
}

func TestNewService_RejectsBadConfig(t *testing.T) {
	_, err := NewService(nil, Deps{}, nil, nil, Config{}, nil)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}
