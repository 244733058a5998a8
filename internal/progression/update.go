package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/validate"
)

func newID() string { return uuid.NewString() }

// ProgressUpdate reports activity on one item. Zero fields leave the
// stored value alone; TimeSpent is added to the running total.
type ProgressUpdate struct {
	StudentID            string   `json:"student_id" validate:"required"`
	ContentID            string   `json:"content_id" validate:"required"`
	ContentType          string   `json:"content_type" validate:"omitempty,oneof=lesson assessment course"`
	Status               string   `json:"status" validate:"omitempty,oneof=not_started in_progress completed"`
	CompletionPercentage *float64 `json:"completion_percentage" validate:"omitempty,gte=0,lte=100"`
	TimeSpentSeconds     int64    `json:"time_spent_seconds" validate:"gte=0"`
	Score                *float64 `json:"score" validate:"omitempty,gte=0,lte=100"`
}

// UpdateResult carries the stored record and everything the update made
// newly accessible, in catalog order.
type UpdateResult struct {
	Record             *store.ProgressRecord `json:"record"`
	UnlockedContentIDs []string              `json:"unlocked_content_ids"`
}

// UpdateProgress records progress and propagates unlocks breadth-first
// through the item's dependents. Starting an item the student cannot
// access is rejected, and so is any update to blocked content.
func (s *Service) UpdateProgress(ctx context.Context, u ProgressUpdate) (*UpdateResult, error) {
	if err := validate.Struct(u); err != nil {
		return nil, err
	}
	it, err := s.resolveItem(ctx, u.StudentID, u.ContentID, u.ContentType)
	if err != nil {
		return nil, err
	}
	if it.Type == catalog.TypeCourse {
		return nil, apperr.ValidationFields(
			fmt.Sprintf("course %q progress is derived from its items", u.ContentID), "content_id")
	}

	before, after, err := s.writeRecord(ctx, it, u)
	if err != nil {
		return nil, err
	}

	idx, err := s.loadIndex(ctx, u.StudentID)
	if err != nil {
		return nil, err
	}
	prev := idx.with(u.ContentID, before)
	unlocked, err := s.propagate(ctx, u.StudentID, u.ContentID, prev, idx)
	if err != nil {
		return nil, err
	}

	s.publishUnlocks(ctx, u.StudentID, u.ContentID, unlocked)
	if unlocked == nil {
		unlocked = []string{}
	}
	return &UpdateResult{Record: after, UnlockedContentIDs: unlocked}, nil
}

// writeRecord merges u into the stored record under the per-item lock and
// retries on version conflicts. It returns the record before and after.
func (s *Service) writeRecord(ctx context.Context, it catalog.Item, u ProgressUpdate) (*store.ProgressRecord, *store.ProgressRecord, error) {
	unlock := s.locks.Lock(keylock.Key("progress", u.StudentID, u.ContentID))
	defer unlock()

	for range s.cfg.MaxWriteRetries {
		cur, err := s.deps.Progress.GetProgress(ctx, u.StudentID, u.ContentID)
		if err != nil {
			return nil, nil, fmt.Errorf("get progress: %w", err)
		}
		if cur == nil {
			err = s.checkStartable(ctx, u.StudentID, u.ContentID)
		} else {
			err = s.checkNotBlocked(ctx, u.StudentID, u.ContentID)
		}
		if err != nil {
			return nil, nil, err
		}

		next := merge(cur, it, u, s.now().UTC())
		err = s.deps.Progress.SaveProgress(ctx, next)
		if isConflict(err) {
			metrics.ProgressConflict()
			s.log.Debug("progress write conflict, retrying", "student", u.StudentID, "content", u.ContentID)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("save progress: %w", err)
		}
		return cur, next, nil
	}
	return nil, nil, apperr.Conflict("progress for %q kept changing; gave up after %d attempts", u.ContentID, s.cfg.MaxWriteRetries)
}

// checkStartable denies creating a record for locked or blocked content.
func (s *Service) checkStartable(ctx context.Context, studentID, contentID string) error {
	idx, err := s.loadIndex(ctx, studentID)
	if err != nil {
		return err
	}
	d, err := s.decide(ctx, studentID, contentID, idx)
	if err != nil {
		return err
	}
	if !d.Granted {
		return apperr.PermissionDenied("content %q is not accessible: %s", contentID, d.Reason)
	}
	return nil
}

// checkNotBlocked denies further updates to started content once an
// instructor blocks it. Prerequisites are not rechecked: access granted
// once stays granted.
func (s *Service) checkNotBlocked(ctx context.Context, studentID, contentID string) error {
	block, err := s.deps.Blocks.ActiveBlock(ctx, studentID, contentID)
	if err != nil {
		return fmt.Errorf("active block: %w", err)
	}
	if block != nil {
		return apperr.PermissionDenied("content %q is not accessible: %s", contentID, ReasonBlocked)
	}
	return nil
}

var statusRank = map[string]int{
	store.StatusNotStarted: 0,
	store.StatusInProgress: 1,
	store.StatusCompleted:  2,
}

// merge applies u on top of cur. Status only moves forward, the best
// score is kept and completion percentage never drops.
func merge(cur *store.ProgressRecord, it catalog.Item, u ProgressUpdate, now time.Time) *store.ProgressRecord {
	next := store.ProgressRecord{
		StudentID:   u.StudentID,
		ContentID:   u.ContentID,
		ContentType: string(it.Type),
		Status:      store.StatusNotStarted,
		CreatedAt:   now,
	}
	if cur != nil {
		next = *cur
	}
	next.UpdatedAt = now
	next.TimeSpent += time.Duration(u.TimeSpentSeconds) * time.Second

	if u.CompletionPercentage != nil {
		next.CompletionPercentage = max(next.CompletionPercentage, *u.CompletionPercentage)
	}
	if u.Score != nil && (next.Score == nil || *u.Score > *next.Score) {
		score := *u.Score
		next.Score = &score
	}

	want := u.Status
	if want == "" {
		switch {
		case next.CompletionPercentage >= 100:
			want = store.StatusCompleted
		case next.CompletionPercentage > 0 || u.TimeSpentSeconds > 0 || u.Score != nil:
			want = store.StatusInProgress
		}
	}
	if statusRank[want] > statusRank[next.Status] {
		next.Status = want
	}
	if next.Status == store.StatusCompleted {
		next.CompletionPercentage = 100
	}
	return &next
}

// with returns a copy of idx where id holds rec, or nothing when rec is nil.
func (idx progressIndex) with(id string, rec *store.ProgressRecord) progressIndex {
	out := make(progressIndex, len(idx))
	for k, v := range idx {
		out[k] = v
	}
	if rec == nil {
		delete(out, id)
	} else {
		out[id] = *rec
	}
	return out
}

// propagate walks dependents of changed items. prev is the state without
// this request's writes; cur is the state with them. Courses whose derived
// status changes are written and walked in turn.
func (s *Service) propagate(ctx context.Context, studentID, startID string, prev, cur progressIndex) ([]string, error) {
	var unlocked []string
	seen := map[string]bool{}
	queue := []string{startID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, dep := range s.graph.Dependents(id) {
			if !seen[dep] && len(s.missing(dep, prev)) > 0 && len(s.missing(dep, cur)) == 0 {
				seen[dep] = true
				block, err := s.deps.Blocks.ActiveBlock(ctx, studentID, dep)
				if err != nil {
					return nil, fmt.Errorf("active block: %w", err)
				}
				if block == nil {
					unlocked = append(unlocked, dep)
				}
			}

			it, err := s.graph.Item(dep)
			if err != nil {
				return nil, err
			}
			if it.Type != catalog.TypeCourse || it.ID != s.courseOf(id) {
				continue
			}
			before, after, changed, err := s.deriveCourse(ctx, studentID, it, cur)
			if err != nil {
				return nil, err
			}
			if !changed {
				continue
			}
			prev = prev.with(it.ID, before)
			cur = cur.with(it.ID, after)
			queue = append(queue, it.ID)
		}
	}
	return sortedByTopo(s.graph, unlocked), nil
}

func (s *Service) courseOf(id string) string {
	it, err := s.graph.Item(id)
	if err != nil {
		return ""
	}
	return it.CourseID
}

// courseStatus derives a course's status from its items.
func (s *Service) courseStatus(courseID string, idx progressIndex) string {
	items := s.graph.CourseItems(courseID)
	if len(items) == 0 {
		return store.StatusNotStarted
	}
	done, started := 0, 0
	for _, it := range items {
		if idx.completed(it.ID) {
			done++
		}
		if r, ok := idx[it.ID]; ok && r.Status != store.StatusNotStarted {
			started++
		}
	}
	switch {
	case done == len(items):
		return store.StatusCompleted
	case started > 0:
		return store.StatusInProgress
	}
	return store.StatusNotStarted
}

// deriveCourse writes the course record when the derived status differs
// from the stored one.
func (s *Service) deriveCourse(ctx context.Context, studentID string, course catalog.Item, idx progressIndex) (*store.ProgressRecord, *store.ProgressRecord, bool, error) {
	unlock := s.locks.Lock(keylock.Key("progress", studentID, course.ID))
	defer unlock()

	for range s.cfg.MaxWriteRetries {
		cur, err := s.deps.Progress.GetProgress(ctx, studentID, course.ID)
		if err != nil {
			return nil, nil, false, fmt.Errorf("get progress: %w", err)
		}
		status := s.courseStatus(course.ID, idx)
		if cur != nil && cur.Status == status {
			return cur, cur, false, nil
		}
		if cur == nil && status == store.StatusNotStarted {
			return nil, nil, false, nil
		}

		now := s.now().UTC()
		next := &store.ProgressRecord{StudentID: studentID, ContentID: course.ID, ContentType: string(course.Type), CreatedAt: now}
		if cur != nil {
			cp := *cur
			next = &cp
		}
		next.Status = status
		next.CompletionPercentage = s.coursePercent(course.ID, idx)
		next.UpdatedAt = now

		err = s.deps.Progress.SaveProgress(ctx, next)
		if isConflict(err) {
			metrics.ProgressConflict()
			continue
		}
		if err != nil {
			return nil, nil, false, fmt.Errorf("save course progress: %w", err)
		}
		s.log.Debug("course status derived", "student", studentID, "course", course.ID, "status", status)
		return cur, next, true, nil
	}
	return nil, nil, false, apperr.Conflict("progress for course %q kept changing", course.ID)
}

func (s *Service) coursePercent(courseID string, idx progressIndex) float64 {
	items := s.graph.CourseItems(courseID)
	if len(items) == 0 {
		return 0
	}
	done := 0
	for _, it := range items {
		if idx.completed(it.ID) {
			done++
		}
	}
	return 100 * float64(done) / float64(len(items))
}

// ResetProgress returns an item to not_started. It is an instructor
// override; the containing course is re-derived and may drop back from
// completed.
func (s *Service) ResetProgress(ctx context.Context, studentID, contentID, actor string) (*store.ProgressRecord, error) {
	if err := validate.Var("actor", actor, "required"); err != nil {
		return nil, err
	}
	it, err := s.resolveItem(ctx, studentID, contentID, "")
	if err != nil {
		return nil, err
	}
	if it.Type == catalog.TypeCourse {
		return nil, apperr.ValidationFields(
			fmt.Sprintf("course %q progress is derived from its items", contentID), "content_id")
	}

	rec, err := s.resetRecord(ctx, studentID, contentID)
	if err != nil {
		return nil, err
	}
	s.log.Info("progress reset", "student", studentID, "content", contentID, "by", actor)

	if it.CourseID != "" {
		idx, err := s.loadIndex(ctx, studentID)
		if err != nil {
			return nil, err
		}
		course, err := s.graph.Item(it.CourseID)
		if err != nil {
			return nil, err
		}
		if _, _, _, err := s.deriveCourse(ctx, studentID, course, idx); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (s *Service) resetRecord(ctx context.Context, studentID, contentID string) (*store.ProgressRecord, error) {
	unlock := s.locks.Lock(keylock.Key("progress", studentID, contentID))
	defer unlock()

	for range s.cfg.MaxWriteRetries {
		cur, err := s.deps.Progress.GetProgress(ctx, studentID, contentID)
		if err != nil {
			return nil, fmt.Errorf("get progress: %w", err)
		}
		if cur == nil {
			return nil, apperr.NotFound("progress", studentID+"/"+contentID)
		}
		next := *cur
		next.Status = store.StatusNotStarted
		next.CompletionPercentage = 0
		next.Score = nil
		next.UpdatedAt = s.now().UTC()

		err = s.deps.Progress.SaveProgress(ctx, &next)
		if isConflict(err) {
			metrics.ProgressConflict()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save progress: %w", err)
		}
		return &next, nil
	}
	return nil, apperr.Conflict("progress for %q kept changing", contentID)
}
