// Package progression gates content on the prerequisite graph and
// propagates unlocks as progress is recorded.
package progression

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/logger"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/notify"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/validate"
)

// Access decision reasons.
const (
	ReasonGranted        = "prerequisites satisfied"
	ReasonNoPrerequisite = "no prerequisites"
	ReasonMissing        = "prerequisites not met"
	ReasonBlocked        = "blocked by instructor"
)

// Config tunes the controller.
type Config struct {
	// MaxWriteRetries bounds version-conflict retries per record write.
	MaxWriteRetries int `validate:"gte=1,lte=50"`
}

// DefaultConfig returns the default controller settings.
func DefaultConfig() Config {
	return Config{MaxWriteRetries: 5}
}

// Deps bundles the repositories the controller uses.
type Deps struct {
	Students store.StudentRepo
	Progress store.ProgressRepo
	Blocks   store.BlockRepo
}

// AccessDecision is the answer to CanAccess.
type AccessDecision struct {
	ContentID            string                  `json:"content_id"`
	Granted              bool                    `json:"granted"`
	Reason               string                  `json:"reason"`
	MissingPrerequisites []string                `json:"missing_prerequisites"`
	Block                *store.ProgressionBlock `json:"block,omitempty"`
}

// Service is the progression controller.
type Service struct {
	graph     *catalog.Graph
	deps      Deps
	publisher notify.Publisher
	locks     *keylock.Map
	cfg       Config
	log       *logger.Logger
	now       func() time.Time
}

// NewService creates a controller. A nil publisher logs unlock events; a
// nil lock map gets a private one.
func NewService(graph *catalog.Graph, deps Deps, publisher notify.Publisher, locks *keylock.Map, cfg Config, log *logger.Logger) (*Service, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, apperr.Configuration("progression: %v", err)
	}
	log = logger.OrNop(log)
	if publisher == nil {
		publisher = notify.NewLogPublisher(log)
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{
		graph:     graph,
		deps:      deps,
		publisher: publisher,
		locks:     locks,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}, nil
}

// progressIndex maps content ID to the student's record.
type progressIndex map[string]store.ProgressRecord

func (s *Service) loadIndex(ctx context.Context, studentID string) (progressIndex, error) {
	recs, err := s.deps.Progress.ListProgress(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	idx := make(progressIndex, len(recs))
	for _, r := range recs {
		idx[r.ContentID] = r
	}
	return idx, nil
}

func (idx progressIndex) completed(id string) bool {
	r, ok := idx[id]
	return ok && r.Status == store.StatusCompleted
}

// missing returns the prerequisites of id that idx does not satisfy.
func (s *Service) missing(id string, idx progressIndex) []string {
	var out []string
	for _, p := range s.graph.Prerequisites(id) {
		r, ok := idx[p.ContentID]
		if !p.Satisfied(ok && r.Status == store.StatusCompleted, r.Score) {
			out = append(out, p.ContentID)
		}
	}
	return out
}

// resolveItem checks that the student and item exist and that contentType,
// when given, matches the catalog.
func (s *Service) resolveItem(ctx context.Context, studentID, contentID, contentType string) (catalog.Item, error) {
	if _, err := s.deps.Students.GetStudent(ctx, studentID); err != nil {
		return catalog.Item{}, err
	}
	it, err := s.graph.Item(contentID)
	if err != nil {
		return catalog.Item{}, err
	}
	if contentType != "" && catalog.ContentType(contentType) != it.Type {
		return catalog.Item{}, apperr.ValidationFields(
			fmt.Sprintf("content %q is a %s, not a %s", contentID, it.Type, contentType), "content_type")
	}
	return it, nil
}

// CanAccess decides whether the student may open the content. An
// unresolved block denies access regardless of the graph.
func (s *Service) CanAccess(ctx context.Context, studentID, contentID, contentType string) (*AccessDecision, error) {
	if err := validate.Var("student_id", studentID, "required"); err != nil {
		return nil, err
	}
	if err := validate.Var("content_id", contentID, "required"); err != nil {
		return nil, err
	}
	if _, err := s.resolveItem(ctx, studentID, contentID, contentType); err != nil {
		return nil, err
	}
	idx, err := s.loadIndex(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return s.decide(ctx, studentID, contentID, idx)
}

func (s *Service) decide(ctx context.Context, studentID, contentID string, idx progressIndex) (*AccessDecision, error) {
	d := &AccessDecision{ContentID: contentID, MissingPrerequisites: s.missing(contentID, idx)}
	block, err := s.deps.Blocks.ActiveBlock(ctx, studentID, contentID)
	if err != nil {
		return nil, fmt.Errorf("active block: %w", err)
	}
	switch {
	case block != nil:
		d.Reason = ReasonBlocked
		d.Block = block
	case len(d.MissingPrerequisites) > 0:
		d.Reason = ReasonMissing
	case len(s.graph.Prerequisites(contentID)) == 0:
		d.Granted = true
		d.Reason = ReasonNoPrerequisite
	default:
		d.Granted = true
		d.Reason = ReasonGranted
	}
	if d.MissingPrerequisites == nil {
		d.MissingPrerequisites = []string{}
	}
	return d, nil
}

// BlockInput describes an instructor block.
type BlockInput struct {
	StudentID string `json:"student_id" validate:"required"`
	ContentID string `json:"content_id" validate:"required"`
	Reason    string `json:"reason" validate:"required,max=500"`
}

// Block denies the student access to content until unblocked. Blocking
// already-blocked content returns the existing block.
func (s *Service) Block(ctx context.Context, in BlockInput, actor string) (*store.ProgressionBlock, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if err := validate.Var("actor", actor, "required"); err != nil {
		return nil, err
	}
	if _, err := s.resolveItem(ctx, in.StudentID, in.ContentID, ""); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(keylock.Key("block", in.StudentID, in.ContentID))
	defer unlock()

	existing, err := s.deps.Blocks.ActiveBlock(ctx, in.StudentID, in.ContentID)
	if err != nil {
		return nil, fmt.Errorf("active block: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	b := &store.ProgressionBlock{
		ID:        newID(),
		StudentID: in.StudentID,
		ContentID: in.ContentID,
		Reason:    in.Reason,
		BlockedBy: actor,
		CreatedAt: s.now().UTC(),
	}
	if err := s.deps.Blocks.CreateBlock(ctx, b); err != nil {
		return nil, fmt.Errorf("create block: %w", err)
	}
	s.log.Info("content blocked", "student", in.StudentID, "content", in.ContentID, "by", actor)
	return b, nil
}

// Unblock resolves the active block and returns the access decision the
// graph now gives.
func (s *Service) Unblock(ctx context.Context, studentID, contentID, contentType, actor string) (*AccessDecision, error) {
	if err := validate.Var("actor", actor, "required"); err != nil {
		return nil, err
	}
	if _, err := s.resolveItem(ctx, studentID, contentID, contentType); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(keylock.Key("block", studentID, contentID))
	existing, err := s.deps.Blocks.ActiveBlock(ctx, studentID, contentID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("active block: %w", err)
	}
	if existing == nil {
		unlock()
		return nil, apperr.NotFound("block", studentID+"/"+contentID)
	}
	err = s.deps.Blocks.ResolveBlock(ctx, existing.ID, actor, s.now().UTC())
	unlock()
	if err != nil {
		return nil, fmt.Errorf("resolve block: %w", err)
	}
	s.log.Info("content unblocked", "student", studentID, "content", contentID, "by", actor)

	idx, err := s.loadIndex(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return s.decide(ctx, studentID, contentID, idx)
}

// ItemStatus is one row of a course overview.
type ItemStatus struct {
	ContentID            string            `json:"content_id"`
	Title                string            `json:"title"`
	ContentType          string            `json:"content_type"`
	State                catalog.ItemState `json:"-"`
	StateLabel           string            `json:"state"`
	CompletionPercentage float64           `json:"completion_percentage"`
	Score                *float64          `json:"score,omitempty"`
	MissingPrerequisites []string          `json:"missing_prerequisites,omitempty"`
}

// CourseOverview summarizes a student's standing in one course.
type CourseOverview struct {
	Course    ItemStatus   `json:"course"`
	Items     []ItemStatus `json:"items"`
	Completed int          `json:"completed"`
	Total     int          `json:"total"`
}

// CourseOverview returns the display state of a course and each of its
// items.
func (s *Service) CourseOverview(ctx context.Context, studentID, courseID string) (*CourseOverview, error) {
	course, err := s.resolveItem(ctx, studentID, courseID, "")
	if err != nil {
		return nil, err
	}
	if course.Type != catalog.TypeCourse {
		return nil, apperr.ValidationFields(fmt.Sprintf("content %q is not a course", courseID), "course_id")
	}
	idx, err := s.loadIndex(ctx, studentID)
	if err != nil {
		return nil, err
	}
	blocks, err := s.deps.Blocks.ListActiveBlocks(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	blocked := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		blocked[b.ContentID] = true
	}

	ov := &CourseOverview{Course: s.itemStatus(course, idx, blocked)}
	for _, it := range s.graph.CourseItems(courseID) {
		st := s.itemStatus(it, idx, blocked)
		if st.State == catalog.StateCompleted {
			ov.Completed++
		}
		ov.Items = append(ov.Items, st)
	}
	ov.Total = len(ov.Items)
	return ov, nil
}

func (s *Service) itemStatus(it catalog.Item, idx progressIndex, blocked map[string]bool) ItemStatus {
	st := ItemStatus{
		ContentID:   it.ID,
		Title:       it.Title,
		ContentType: string(it.Type),
	}
	rec, ok := idx[it.ID]
	if ok {
		st.CompletionPercentage = rec.CompletionPercentage
		st.Score = rec.Score
	}
	st.MissingPrerequisites = s.missing(it.ID, idx)
	switch {
	case blocked[it.ID]:
		st.State = catalog.StateBlocked
	case ok && rec.Status == store.StatusCompleted:
		st.State = catalog.StateCompleted
	case ok && rec.Status == store.StatusInProgress:
		st.State = catalog.StateInProgress
	case len(st.MissingPrerequisites) == 0:
		st.State = catalog.StateAvailable
	default:
		st.State = catalog.StateLocked
	}
	st.StateLabel = st.State.String()
	return st
}

// isConflict reports a lost optimistic-write race.
func isConflict(err error) bool {
	return errors.Is(err, store.ErrVersionConflict)
}

func sortedByTopo(g *catalog.Graph, ids []string) []string {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b string) int { return g.TopoIndex(a) - g.TopoIndex(b) })
	return out
}

func (s *Service) publishUnlocks(ctx context.Context, studentID, triggerID string, unlocked []string) {
	if len(unlocked) == 0 {
		return
	}
	metrics.Unlocked(len(unlocked))
	ev := notify.UnlockEvent{StudentID: studentID, TriggerID: triggerID, Unlocked: unlocked, At: s.now().UTC()}
	if err := s.publisher.PublishUnlock(ctx, ev); err != nil {
		s.log.Warn("unlock publish failed", "student", studentID, "error", err)
	}
}
