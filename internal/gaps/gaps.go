// Package gaps turns graded assessment attempts into mastery updates and
// knowledge gap records.
package gaps

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/pathwise/internal/analysis"
	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/logger"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/profile"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/validate"
)

// Config tunes gap detection. The EMA weight is not configurable.
type Config struct {
	// Threshold is the mastery below which a topic is a gap.
	Threshold float64 `validate:"gt=0,lte=1"`
}

// DefaultConfig returns the default gap threshold.
func DefaultConfig() Config {
	return Config{Threshold: 0.6}
}

// Severity scores a gap: how far mastery sits under the threshold, scaled
// by the topic's importance in the graph.
func Severity(threshold, mastery, importance float64) float64 {
	if mastery >= threshold {
		return 0
	}
	return (threshold - mastery) * importance
}

// Deps bundles the repositories the analyzer reads and writes.
type Deps struct {
	Students    store.StudentRepo
	Gaps        store.GapRepo
	Attempts    store.AttemptRepo
	Assessments store.AssessmentRepo
}

// Service analyzes attempts. It is the only writer of knowledge profiles.
type Service struct {
	graph    *catalog.Graph
	profiles *profile.Service
	deps     Deps
	tagger   *analysis.Selector
	locks    *keylock.Map
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// NewService creates a gap analyzer. tagger classifies questions that carry
// no topic tags; when nil such questions are skipped.
func NewService(graph *catalog.Graph, profiles *profile.Service, deps Deps, tagger *analysis.Selector, cfg Config, log *logger.Logger) (*Service, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, apperr.Configuration("gap analyzer: %v", err)
	}
	return &Service{
		graph:    graph,
		profiles: profiles,
		deps:     deps,
		tagger:   tagger,
		locks:    keylock.New(),
		cfg:      cfg,
		log:      logger.OrNop(log),
		now:      time.Now,
	}, nil
}

// Threshold returns the configured gap threshold.
func (s *Service) Threshold() float64 { return s.cfg.Threshold }

// Analyze folds one attempt into the student's profile and returns the gaps
// it produced. An attempt is folded in once; later calls return the gaps
// recorded the first time without observing again.
func (s *Service) Analyze(ctx context.Context, studentID, assessmentID, attemptID string) ([]store.KnowledgeGap, error) {
	if _, err := s.deps.Students.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	attempt, err := s.deps.Attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != studentID {
		return nil, apperr.ValidationFields(fmt.Sprintf("attempt %q does not belong to student %q", attemptID, studentID), "attempt_id")
	}
	if attempt.AssessmentID != assessmentID {
		return nil, apperr.ValidationFields(fmt.Sprintf("attempt %q is not for assessment %q", attemptID, assessmentID), "assessment_id")
	}
	return s.applyOnce(ctx, attempt.ID)
}

// ExtraGap is a gap reported from outside assessment analysis, such as an
// instructor observation.
type ExtraGap struct {
	SubjectArea  string  `validate:"required"`
	Topic        string  `validate:"required"`
	Severity     float64 `validate:"gte=0"`
	DetectedFrom string  `validate:"required"`
}

// UpdateProfile applies a batch of stored attempts in submission order,
// skipping any already analyzed, records extra gaps, and returns the
// resulting profile.
func (s *Service) UpdateProfile(ctx context.Context, studentID string, attempts []store.AssessmentAttempt, extra []ExtraGap) (*store.KnowledgeProfile, error) {
	if _, err := s.deps.Students.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	for i, eg := range extra {
		if err := validate.Struct(eg); err != nil {
			return nil, fmt.Errorf("extra gap %d: %w", i, err)
		}
		if _, ok := s.graph.Topic(eg.Topic); !ok {
			return nil, apperr.NotFound("topic", eg.Topic)
		}
	}
	for _, a := range attempts {
		if a.StudentID != studentID {
			return nil, apperr.ValidationFields(fmt.Sprintf("attempt %q does not belong to student %q", a.ID, studentID), "attempts")
		}
	}

	ordered := slices.Clone(attempts)
	slices.SortStableFunc(ordered, func(a, b store.AssessmentAttempt) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})
	for _, a := range ordered {
		if _, err := s.applyOnce(ctx, a.ID); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	for _, eg := range extra {
		gap := &store.KnowledgeGap{
			ID:           uuid.NewString(),
			StudentID:    studentID,
			SubjectArea:  eg.SubjectArea,
			Topic:        eg.Topic,
			Severity:     eg.Severity,
			DetectedFrom: eg.DetectedFrom,
			CreatedAt:    now,
		}
		if err := s.deps.Gaps.AppendGap(ctx, gap); err != nil {
			return nil, fmt.Errorf("append gap: %w", err)
		}
	}
	if len(extra) > 0 {
		metrics.GapsDetected(extra[0].SubjectArea, len(extra))
	}

	return s.profiles.Get(ctx, studentID)
}

// Profile returns the student's knowledge profile.
func (s *Service) Profile(ctx context.Context, studentID string) (*store.KnowledgeProfile, error) {
	if _, err := s.deps.Students.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	return s.profiles.Get(ctx, studentID)
}

// ListGaps returns the student's gaps, oldest first.
func (s *Service) ListGaps(ctx context.Context, studentID string, unresolvedOnly bool) ([]store.KnowledgeGap, error) {
	if _, err := s.deps.Students.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	return s.deps.Gaps.ListGaps(ctx, studentID, store.GapFilter{UnresolvedOnly: unresolvedOnly})
}

// applyOnce analyzes the stored attempt unless it has been analyzed
// before, in which case it returns the gaps attributed to it.
func (s *Service) applyOnce(ctx context.Context, attemptID string) ([]store.KnowledgeGap, error) {
	unlock := s.locks.Lock(keylock.Key("attempt", attemptID))
	defer unlock()

	attempt, err := s.deps.Attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.AnalyzedAt != nil {
		s.log.Debug("attempt already analyzed", "attempt", attempt.ID, "at", attempt.AnalyzedAt)
		return s.deps.Gaps.ListGaps(ctx, attempt.StudentID, store.GapFilter{DetectedFrom: attempt.ID})
	}

	gaps, err := s.applyAttempt(ctx, attempt)
	if err != nil {
		return nil, err
	}
	marked, err := s.deps.Attempts.MarkAnalyzed(ctx, attempt.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !marked {
		s.log.Warn("attempt was analyzed concurrently by another process", "attempt", attempt.ID)
	}
	return gaps, nil
}

type observation struct {
	topics []string
	signal float64
}

// applyAttempt observes every graded answer in question order. A topic
// yields at most one gap per attempt, judged on its mastery after the
// attempt's last observation. Questions are tagged before the profile is
// touched, so a tagging failure leaves the profile unchanged.
func (s *Service) applyAttempt(ctx context.Context, attempt *store.AssessmentAttempt) ([]store.KnowledgeGap, error) {
	assessment, err := s.deps.Assessments.GetAssessment(ctx, attempt.AssessmentID)
	if err != nil {
		return nil, err
	}
	questions := make(map[string]store.AssessmentQuestion, len(assessment.Questions))
	for _, q := range assessment.Questions {
		questions[q.QuestionID] = q
	}

	var observations []observation
	for _, ans := range attempt.Answers {
		if !ans.Graded || ans.PointsPossible <= 0 {
			continue
		}
		q, ok := questions[ans.QuestionID]
		if !ok {
			continue
		}
		topics, err := s.questionTopics(ctx, q, assessment.SubjectArea)
		if err != nil {
			return nil, err
		}
		observations = append(observations, observation{topics: topics, signal: signal(ans)})
	}

	final := make(map[string]profile.Change)
	var order []string
	for _, obs := range observations {
		for _, topic := range obs.topics {
			ch, err := s.profiles.Observe(ctx, attempt.StudentID, topic, obs.signal)
			if err != nil {
				return nil, err
			}
			if _, seen := final[topic]; !seen {
				order = append(order, topic)
			}
			final[topic] = ch
		}
	}

	now := s.now().UTC()
	var gaps []store.KnowledgeGap
	for _, topic := range order {
		mastery := final[topic].After.Mastery
		if mastery >= s.cfg.Threshold {
			n, err := s.deps.Gaps.ResolveGaps(ctx, attempt.StudentID, topic, now)
			if err != nil {
				return nil, fmt.Errorf("resolve gaps for %s: %w", topic, err)
			}
			if n > 0 {
				s.log.Debug("gaps resolved", "student", attempt.StudentID, "topic", topic, "count", n)
			}
			continue
		}
		gap := store.KnowledgeGap{
			ID:           uuid.NewString(),
			StudentID:    attempt.StudentID,
			SubjectArea:  s.subjectOf(topic, assessment.SubjectArea),
			Topic:        topic,
			Severity:     Severity(s.cfg.Threshold, mastery, s.graph.TopicImportance(topic)),
			DetectedFrom: attempt.ID,
			CreatedAt:    now,
		}
		if err := s.deps.Gaps.AppendGap(ctx, &gap); err != nil {
			return nil, fmt.Errorf("append gap: %w", err)
		}
		gaps = append(gaps, gap)
	}

	metrics.GapsDetected(assessment.SubjectArea, len(gaps))
	s.log.Info("attempt analyzed", "student", attempt.StudentID, "attempt", attempt.ID,
		"topics", len(order), "gaps", len(gaps))
	return gaps, nil
}

// questionTopics returns the question's tags, asking the analysis strategy
// when it has none.
func (s *Service) questionTopics(ctx context.Context, q store.AssessmentQuestion, subjectArea string) ([]string, error) {
	if len(q.Topics) > 0 {
		return q.Topics, nil
	}
	if s.tagger == nil || q.Text == "" {
		return nil, nil
	}
	res, err := s.tagger.Analyze(ctx, analysis.Request{Text: q.Text, Type: analysis.TypeTopics, SubjectArea: subjectArea})
	if err != nil {
		return nil, fmt.Errorf("tag question %s: %w", q.QuestionID, err)
	}
	if res.FallbackUsed {
		s.log.Debug("question tagged by fallback", "question", q.QuestionID, "reason", res.FallbackReason)
	}
	return res.Topics, nil
}

func (s *Service) subjectOf(topic, fallback string) string {
	if t, ok := s.graph.Topic(topic); ok && t.SubjectArea != "" {
		return t.SubjectArea
	}
	return fallback
}

// signal is 1 for full credit, 0 for none, and the earned fraction for
// partial credit.
func signal(a store.Answer) float64 {
	return max(0, min(1, a.PointsEarned/a.PointsPossible))
}
