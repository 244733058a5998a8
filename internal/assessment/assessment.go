// Package assessment builds initial and personalized assessments from the
// catalog's question banks, grades attempts, and authors new questions.
package assessment

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/logger"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/validate"
)

// Assessment kinds as stored.
const (
	KindInitial      = "initial"
	KindPersonalized = "personalized"
)

// Config holds service-wide defaults.
type Config struct {
	// QuestionsPerTopic caps personalized questions per target topic.
	QuestionsPerTopic int `validate:"gt=0"`

	// MaxQuestions caps the size of a personalized assessment.
	MaxQuestions int `validate:"gt=0"`

	TimeLimit    time.Duration `validate:"gt=0"`
	PassingScore float64       `validate:"gte=0,lte=100"`
}

// DefaultConfig returns the standard assessment defaults.
func DefaultConfig() Config {
	return Config{
		QuestionsPerTopic: 2,
		MaxQuestions:      10,
		TimeLimit:         30 * time.Minute,
		PassingScore:      70,
	}
}

// InitialConfig describes a placement assessment.
type InitialConfig struct {
	SubjectArea string `validate:"required"`

	// Topics defaults to every topic of the subject area.
	Topics []string

	QuestionsPerTopic int `validate:"gt=0"`

	// DifficultyLevels defaults to beginner, intermediate, advanced.
	DifficultyLevels []catalog.Band `validate:"omitempty,dive,oneof=beginner intermediate advanced"`

	// TimeLimit defaults to 30 minutes.
	TimeLimit time.Duration `validate:"gte=0"`

	// PassingScore defaults to the service setting.
	PassingScore float64 `validate:"gte=0,lte=100"`
}

// Deps bundles the repositories the service uses.
type Deps struct {
	Students    store.StudentRepo
	Profiles    store.ProfileRepo
	Gaps        store.GapRepo
	Assessments store.AssessmentRepo
	Attempts    store.AttemptRepo
}

// Service generates and grades assessments.
type Service struct {
	graph *catalog.Graph
	deps  Deps
	cfg   Config
	log   *logger.Logger
	now   func() time.Time
}

// NewService creates an assessment service.
func NewService(graph *catalog.Graph, deps Deps, cfg Config, log *logger.Logger) (*Service, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, apperr.Configuration("assessment: %v", err)
	}
	return &Service{graph: graph, deps: deps, cfg: cfg, log: logger.OrNop(log), now: time.Now}, nil
}

// Get returns a stored assessment.
func (s *Service) Get(ctx context.Context, id string) (*store.AssessmentData, error) {
	return s.deps.Assessments.GetAssessment(ctx, id)
}

// CreateInitial draws QuestionsPerTopic questions for every topic, rotating
// through the difficulty levels so each topic spans the range. A placement
// over the whole subject area also draws up to QuestionsPerTopic untagged
// questions; their topics are inferred when the attempt is analyzed.
func (s *Service) CreateInitial(ctx context.Context, cfg InitialConfig) (*store.AssessmentData, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	bank, ok := s.graph.QuestionBank(cfg.SubjectArea)
	if !ok {
		return nil, apperr.Configuration("no question bank for subject area %q", cfg.SubjectArea)
	}

	topics := cfg.Topics
	if len(topics) == 0 {
		for _, t := range s.graph.SubjectTopics(cfg.SubjectArea) {
			topics = append(topics, t.ID)
		}
	}
	if len(topics) == 0 {
		return nil, apperr.ValidationFields(fmt.Sprintf("subject area %q has no topics", cfg.SubjectArea), "Topics")
	}
	for _, t := range topics {
		if _, ok := s.graph.Topic(t); !ok {
			return nil, apperr.NotFound("topic", t)
		}
	}

	levels := cfg.DifficultyLevels
	if len(levels) == 0 {
		levels = catalog.AllBands()
	}
	if cfg.TimeLimit == 0 {
		cfg.TimeLimit = s.cfg.TimeLimit
	}
	if cfg.PassingScore == 0 {
		cfg.PassingScore = s.cfg.PassingScore
	}

	pools := slices.Clone(topics)
	if len(cfg.Topics) == 0 {
		pools = append(pools, untagged)
	}

	used := make(map[string]bool)
	var questions []store.AssessmentQuestion
	for _, topic := range pools {
		picked := drawRotating(bank, topic, levels, cfg.QuestionsPerTopic, used)
		if len(picked) < cfg.QuestionsPerTopic && topic != untagged {
			s.log.Debug("question bank short for topic", "topic", topic, "want", cfg.QuestionsPerTopic, "got", len(picked))
		}
		questions = append(questions, picked...)
	}
	if len(questions) == 0 {
		return nil, apperr.Configuration("question bank %q has no questions for the requested topics and levels", cfg.SubjectArea)
	}

	a := &store.AssessmentData{
		ID:           uuid.NewString(),
		SubjectArea:  cfg.SubjectArea,
		Kind:         KindInitial,
		Questions:    questions,
		TimeLimit:    cfg.TimeLimit,
		PassingScore: cfg.PassingScore,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.deps.Assessments.SaveAssessment(ctx, a); err != nil {
		return nil, fmt.Errorf("save assessment: %w", err)
	}
	return a, nil
}

// GeneratePersonalized targets the student's weakest topics in the subject
// area. Topics with unresolved gaps come first, most severe first; the rest
// follow from lowest mastery. Each topic draws from the band whose nominal
// difficulty is closest to the student's mastery.
func (s *Service) GeneratePersonalized(ctx context.Context, studentID, subjectArea string) (*store.AssessmentData, error) {
	if err := validate.Var("subject_area", subjectArea, "required"); err != nil {
		return nil, err
	}
	if _, err := s.deps.Students.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	bank, ok := s.graph.QuestionBank(subjectArea)
	if !ok {
		return nil, apperr.Configuration("no question bank for subject area %q", subjectArea)
	}

	prof, err := s.deps.Profiles.GetProfile(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	gaps, err := s.deps.Gaps.ListGaps(ctx, studentID, store.GapFilter{UnresolvedOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load gaps: %w", err)
	}
	severity := make(map[string]float64)
	for _, g := range gaps {
		// Oldest first, so the latest gap wins.
		severity[g.Topic] = g.Severity
	}

	targets := orderTargets(s.graph.SubjectTopics(subjectArea), prof, severity)

	used := make(map[string]bool)
	var questions []store.AssessmentQuestion
	for _, topic := range targets {
		if len(questions) >= s.cfg.MaxQuestions {
			break
		}
		mastery := prof.Topic(topic).Mastery
		picked := 0
		for _, band := range bandsByDistance(mastery) {
			for picked < s.cfg.QuestionsPerTopic && len(questions) < s.cfg.MaxQuestions {
				q, ok := nextQuestion(bank, topic, band, used)
				if !ok {
					break
				}
				used[q.ID] = true
				questions = append(questions, frozen(q))
				picked++
			}
		}
	}
	if len(questions) == 0 {
		return nil, apperr.Configuration("question bank %q has no topic-tagged questions", subjectArea)
	}

	a := &store.AssessmentData{
		ID:           uuid.NewString(),
		StudentID:    studentID,
		SubjectArea:  subjectArea,
		Kind:         KindPersonalized,
		Questions:    questions,
		TimeLimit:    s.cfg.TimeLimit,
		PassingScore: s.cfg.PassingScore,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.deps.Assessments.SaveAssessment(ctx, a); err != nil {
		return nil, fmt.Errorf("save assessment: %w", err)
	}
	s.log.Info("personalized assessment generated", "student", studentID, "subject", subjectArea,
		"questions", len(questions), "gap_topics", len(severity))
	return a, nil
}

func orderTargets(topics []catalog.Topic, prof *store.KnowledgeProfile, severity map[string]float64) []string {
	type target struct {
		id       string
		idx      int
		severity float64
		gap      bool
		mastery  float64
	}
	ts := make([]target, 0, len(topics))
	for i, t := range topics {
		sev, gap := severity[t.ID]
		ts = append(ts, target{id: t.ID, idx: i, severity: sev, gap: gap, mastery: prof.Topic(t.ID).Mastery})
	}
	slices.SortStableFunc(ts, func(a, b target) int {
		switch {
		case a.gap != b.gap:
			if a.gap {
				return -1
			}
			return 1
		case a.gap && a.severity != b.severity:
			return cmp.Compare(b.severity, a.severity)
		case !a.gap && a.mastery != b.mastery:
			return cmp.Compare(a.mastery, b.mastery)
		}
		return cmp.Compare(a.idx, b.idx)
	})
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.id
	}
	return out
}

// bandsByDistance orders bands by how close their nominal difficulty is to
// mastery. Ties go to the easier band.
func bandsByDistance(mastery float64) []catalog.Band {
	bands := catalog.AllBands()
	slices.SortStableFunc(bands, func(a, b catalog.Band) int {
		return cmp.Compare(math.Abs(a.Nominal()-mastery), math.Abs(b.Nominal()-mastery))
	})
	return bands
}

// untagged selects bank questions that carry no topic tags.
const untagged = ""

// drawRotating picks up to n unused questions for topic, one band at a time
// in levels order, until n are picked or the bank runs dry.
func drawRotating(bank catalog.QuestionBank, topic string, levels []catalog.Band, n int, used map[string]bool) []store.AssessmentQuestion {
	var picked []store.AssessmentQuestion
	for len(picked) < n {
		progressed := false
		for _, band := range levels {
			if len(picked) == n {
				break
			}
			q, ok := nextQuestion(bank, topic, band, used)
			if !ok {
				continue
			}
			used[q.ID] = true
			picked = append(picked, frozen(q))
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return picked
}

func nextQuestion(bank catalog.QuestionBank, topic string, band catalog.Band, used map[string]bool) (catalog.Question, bool) {
	for _, q := range bank.Questions {
		if used[q.ID] || q.Band != band {
			continue
		}
		match := slices.Contains(q.Topics, topic)
		if topic == untagged {
			match = len(q.Topics) == 0
		}
		if match {
			return q, true
		}
	}
	return catalog.Question{}, false
}

func frozen(q catalog.Question) store.AssessmentQuestion {
	return store.AssessmentQuestion{
		QuestionID: q.ID,
		Topics:     slices.Clone(q.Topics),
		Band:       string(q.Band),
		Type:       string(q.Type),
		Text:       q.Text,
		Choices:    slices.Clone(q.Choices),
		Answers:    slices.Clone(q.Answers),
		Points:     q.MaxPoints(),
	}
}
