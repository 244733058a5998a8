package store

import (
	"context"
	"time"
)

// GapFilter narrows ListGaps.
type GapFilter struct {
	Topic          string
	DetectedFrom   string
	UnresolvedOnly bool
}

// StudentRepo manages the student registry and enrollments.
type StudentRepo interface {
	// GetStudent returns the student or an apperr not-found error.
	GetStudent(ctx context.Context, id string) (*Student, error)

	// SaveStudent creates or replaces a student record.
	SaveStudent(ctx context.Context, s *Student) error
}

// ProfileRepo manages per-topic mastery. Only the gap analyzer writes here.
type ProfileRepo interface {
	// GetProfile returns every tracked topic for the student. A student with
	// no observations yields an empty profile, not an error.
	GetProfile(ctx context.Context, studentID string) (*KnowledgeProfile, error)

	// GetTopic returns one topic entry, or ok=false when never observed.
	GetTopic(ctx context.Context, studentID, topic string) (TopicMastery, bool, error)

	// SaveTopic upserts one topic entry.
	SaveTopic(ctx context.Context, studentID string, tm TopicMastery) error
}

// GapRepo is the append-only knowledge gap log.
type GapRepo interface {
	AppendGap(ctx context.Context, gap *KnowledgeGap) error

	// ListGaps returns gaps ordered by creation time, oldest first.
	ListGaps(ctx context.Context, studentID string, filter GapFilter) ([]KnowledgeGap, error)

	// ResolveGaps marks every unresolved gap for the topic resolved and
	// returns how many changed.
	ResolveGaps(ctx context.Context, studentID, topic string, at time.Time) (int, error)
}

// ProgressRepo stores one progress record per (student, content).
type ProgressRepo interface {
	// GetProgress returns the record or nil when none exists.
	GetProgress(ctx context.Context, studentID, contentID string) (*ProgressRecord, error)

	ListProgress(ctx context.Context, studentID string) ([]ProgressRecord, error)

	// SaveProgress inserts when rec.Version is 0, otherwise updates only if
	// the stored version still equals rec.Version. On success rec.Version is
	// advanced. A lost race returns ErrVersionConflict.
	SaveProgress(ctx context.Context, rec *ProgressRecord) error
}

// BlockRepo stores instructor blocks. Blocks are resolved, never deleted.
type BlockRepo interface {
	CreateBlock(ctx context.Context, b *ProgressionBlock) error

	// ActiveBlock returns the unresolved block for the pair, or nil.
	ActiveBlock(ctx context.Context, studentID, contentID string) (*ProgressionBlock, error)

	ListActiveBlocks(ctx context.Context, studentID string) ([]ProgressionBlock, error)

	ResolveBlock(ctx context.Context, id, resolvedBy string, at time.Time) error
}

// AttemptRepo stores assessment attempts.
type AttemptRepo interface {
	CreateAttempt(ctx context.Context, a *AssessmentAttempt) error

	// GetAttempt returns the attempt or an apperr not-found error.
	GetAttempt(ctx context.Context, id string) (*AssessmentAttempt, error)

	ListAttempts(ctx context.Context, studentID string) ([]AssessmentAttempt, error)

	// UpdateGrade replaces answers, score, and pass state after a regrade.
	UpdateGrade(ctx context.Context, a *AssessmentAttempt) error

	// MarkAnalyzed stamps the attempt as analyzed. It reports false when an
	// earlier call already did.
	MarkAnalyzed(ctx context.Context, id string, at time.Time) (bool, error)
}

// AssessmentRepo stores generated assessments.
type AssessmentRepo interface {
	SaveAssessment(ctx context.Context, a *AssessmentData) error

	// GetAssessment returns the assessment or an apperr not-found error.
	GetAssessment(ctx context.Context, id string) (*AssessmentData, error)
}

// InteractionRepo is the append-only interaction log.
type InteractionRepo interface {
	AppendInteractions(ctx context.Context, events []Interaction) error

	// ListInteractions returns events for the student in timestamp order.
	ListInteractions(ctx context.Context, studentID string) ([]Interaction, error)
}

// PatternRepo caches derived engagement patterns.
type PatternRepo interface {
	// GetPattern returns the cached pattern or nil.
	GetPattern(ctx context.Context, studentID string) (*EngagementPatternData, error)

	SavePattern(ctx context.Context, p *EngagementPatternData) error
}

// RecommendationRepo stores generated recommendations.
type RecommendationRepo interface {
	SaveRecommendations(ctx context.Context, recs []Recommendation) error

	// GetRecommendation returns the recommendation or an apperr not-found error.
	GetRecommendation(ctx context.Context, id string) (*Recommendation, error)

	// MarkFeedback sets viewed/clicked flags. Flags only move from false to
	// true; passing false leaves a flag unchanged.
	MarkFeedback(ctx context.Context, id string, viewed, clicked bool, at time.Time) error
}

// RoadmapRepo stores at most one roadmap per student.
type RoadmapRepo interface {
	// GetRoadmap returns the student's roadmap or nil.
	GetRoadmap(ctx context.Context, studentID string) (*Roadmap, error)

	// SaveRoadmap upserts by student.
	SaveRoadmap(ctx context.Context, r *Roadmap) error
}

// EventRepo provides append access to audit events.
type EventRepo interface {
	// AppendLLMRequest records an LLM API call event.
	AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error
}

// Repos bundles one repository per entity family.
type Repos struct {
	Students        StudentRepo
	Profiles        ProfileRepo
	Gaps            GapRepo
	Progress        ProgressRepo
	Blocks          BlockRepo
	Attempts        AttemptRepo
	Assessments     AssessmentRepo
	Interactions    InteractionRepo
	Patterns        PatternRepo
	Recommendations RecommendationRepo
	Roadmaps        RoadmapRepo
	Events          EventRepo
}
