package store

import (
	"errors"
	"time"
)

// ErrVersionConflict is returned by SaveProgress when another writer
// updated the record first.
var ErrVersionConflict = errors.New("progress record version conflict")

// Progress status values as stored.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Roadmap status values as stored.
const (
	RoadmapActive = "active"
	RoadmapPaused = "paused"
)

// Student is a learner known to the engine.
type Student struct {
	ID              string    `json:"id"`
	EnrolledCourses []string  `json:"enrolled_courses"`
	CreatedAt       time.Time `json:"created_at"`
}

// TopicMastery is the per-topic entry of a knowledge profile.
type TopicMastery struct {
	Topic        string    `json:"topic"`
	Mastery      float64   `json:"mastery"`
	Confidence   float64   `json:"confidence"`
	Observations int       `json:"observations"`
	LastUpdated  time.Time `json:"last_updated"`
}

// KnowledgeProfile maps topics to mastery for one student.
type KnowledgeProfile struct {
	StudentID string                  `json:"student_id"`
	Topics    map[string]TopicMastery `json:"topics"`
}

// Topic returns the entry for topic. Unobserved topics read as zero mastery
// and zero confidence.
func (p *KnowledgeProfile) Topic(topic string) TopicMastery {
	if p == nil || p.Topics == nil {
		return TopicMastery{Topic: topic}
	}
	if tm, ok := p.Topics[topic]; ok {
		return tm
	}
	return TopicMastery{Topic: topic}
}

// KnowledgeGap is one detected weakness. Gaps are appended and resolved.
type KnowledgeGap struct {
	ID           string     `json:"id"`
	StudentID    string     `json:"student_id"`
	SubjectArea  string     `json:"subject_area"`
	Topic        string     `json:"topic"`
	Severity     float64    `json:"severity"`
	DetectedFrom string     `json:"detected_from"`
	Resolved     bool       `json:"resolved"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ProgressRecord tracks one student's progress on one content item.
type ProgressRecord struct {
	StudentID            string        `json:"student_id"`
	ContentID            string        `json:"content_id"`
	ContentType          string        `json:"content_type"`
	Status               string        `json:"status"`
	CompletionPercentage float64       `json:"completion_percentage"`
	TimeSpent            time.Duration `json:"time_spent"`
	Score                *float64      `json:"score,omitempty"`
	Version              int64         `json:"version"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// ProgressionBlock is an instructor override denying access.
type ProgressionBlock struct {
	ID         string     `json:"id"`
	StudentID  string     `json:"student_id"`
	ContentID  string     `json:"content_id"`
	Reason     string     `json:"reason"`
	BlockedBy  string     `json:"blocked_by"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// Answer is one graded response inside an attempt.
type Answer struct {
	QuestionID     string   `json:"question_id"`
	Response       []string `json:"response"`
	PointsEarned   float64  `json:"points_earned"`
	PointsPossible float64  `json:"points_possible"`
	// Graded is false for open questions awaiting an instructor.
	Graded bool `json:"graded"`
}

// AssessmentAttempt is one submission. Only a regrade may change it.
type AssessmentAttempt struct {
	ID           string     `json:"id"`
	StudentID    string     `json:"student_id"`
	AssessmentID string     `json:"assessment_id"`
	Answers      []Answer   `json:"answers"`
	Score        float64    `json:"score"`
	Passed       bool       `json:"passed"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	GradedBy     string     `json:"graded_by,omitempty"`
	RegradedAt   *time.Time `json:"regraded_at,omitempty"`
	// AnalyzedAt is set once the gap analyzer has folded the attempt into
	// the student's profile.
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
}

// AssessmentQuestion is a question as frozen into a generated assessment.
type AssessmentQuestion struct {
	QuestionID string   `json:"question_id"`
	Topics     []string `json:"topics"`
	Band       string   `json:"band"`
	Type       string   `json:"type"`
	Text       string   `json:"text"`
	Choices    []string `json:"choices,omitempty"`
	Answers    []string `json:"answers,omitempty"`
	Points     float64  `json:"points"`
}

// AssessmentData is a persisted generated assessment.
type AssessmentData struct {
	ID           string               `json:"id"`
	StudentID    string               `json:"student_id,omitempty"`
	SubjectArea  string               `json:"subject_area"`
	Kind         string               `json:"kind"`
	Questions    []AssessmentQuestion `json:"questions"`
	TimeLimit    time.Duration        `json:"time_limit"`
	PassingScore float64              `json:"passing_score"`
	CreatedAt    time.Time            `json:"created_at"`
}

// Interaction is one logged engagement event.
type Interaction struct {
	Sequence    int64         `json:"sequence"`
	StudentID   string        `json:"student_id"`
	ContentID   string        `json:"content_id"`
	ContentType string        `json:"content_type"`
	Type        string        `json:"type"`
	Duration    time.Duration `json:"duration"`
	Timestamp   time.Time     `json:"timestamp"`
}

// TypeEngagement holds per-content-type engagement figures.
type TypeEngagement struct {
	Views          int     `json:"views"`
	Starts         int     `json:"starts"`
	Completions    int     `json:"completions"`
	DecayedCount   float64 `json:"decayed_count"`
	CompletionRate float64 `json:"completion_rate"`
	Momentum       float64 `json:"momentum"`
}

// EngagementPatternData is the cached engagement summary for a student.
type EngagementPatternData struct {
	StudentID          string                    `json:"student_id"`
	ByType             map[string]TypeEngagement `json:"by_type"`
	CompletionRate     float64                   `json:"completion_rate"`
	AvgSessionDuration time.Duration             `json:"avg_session_duration"`
	PreferredType      string                    `json:"preferred_type,omitempty"`
	EventCount         int                       `json:"event_count"`
	ComputedAt         time.Time                 `json:"computed_at"`
}

// FactorScore is one factor's share of a recommendation score.
type FactorScore struct {
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	// Available is false when the factor could not be computed and
	// contributed zero.
	Available bool `json:"available"`
}

// Recommendation is a ranked suggestion. Score and factors are write-once.
type Recommendation struct {
	ID          string                 `json:"id"`
	StudentID   string                 `json:"student_id"`
	ContentID   string                 `json:"content_id"`
	ContentType string                 `json:"content_type"`
	Rank        int                    `json:"rank"`
	Score       float64                `json:"score"`
	Factors     map[string]FactorScore `json:"factors"`
	Viewed      bool                   `json:"viewed"`
	Clicked     bool                   `json:"clicked"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// RoadmapStep is one ordered entry in a learning path.
type RoadmapStep struct {
	ContentID        string  `json:"content_id"`
	Title            string  `json:"title"`
	ContentType      string  `json:"content_type"`
	EstimatedMins    int     `json:"estimated_minutes"`
	CompletionStatus string  `json:"completion_status"`
	Priority         float64 `json:"priority"`
	Week             int     `json:"week"`
	WithinBudget     bool    `json:"within_budget"`
}

// PersonalizationFactors records the inputs and decisions behind a roadmap.
type PersonalizationFactors struct {
	TargetSkills     []string   `json:"target_skills,omitempty"`
	HoursPerWeek     float64    `json:"hours_per_week,omitempty"`
	TargetCompletion *time.Time `json:"target_completion,omitempty"`
	PlanningWeeks    int        `json:"planning_weeks,omitempty"`
	BudgetMins       int        `json:"budget_minutes,omitempty"`
	OverBudget       bool       `json:"over_budget"`
	Reprioritized    bool       `json:"reprioritized"`
	GapTopics        []string   `json:"gap_topics,omitempty"`
}

// Roadmap is a student's ordered learning path.
type Roadmap struct {
	ID                 string                 `json:"id"`
	StudentID          string                 `json:"student_id"`
	Steps              []RoadmapStep          `json:"steps"`
	TotalEstimatedMins int                    `json:"total_estimated_minutes"`
	Factors            PersonalizationFactors `json:"personalization_factors"`
	Status             string                 `json:"status"`
	InputsHash         string                 `json:"inputs_hash"`
	GeneratedAt        time.Time              `json:"generated_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// LLMRequestEventData captures the data for a single LLM request event.
type LLMRequestEventData struct {
	Provider     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}
