package catalog

// ContentType distinguishes the gated content kinds.
type ContentType string

const (
	TypeCourse     ContentType = "course"
	TypeLesson     ContentType = "lesson"
	TypeAssessment ContentType = "assessment"
)

// AllContentTypes returns the content types in display order.
func AllContentTypes() []ContentType {
	return []ContentType{TypeCourse, TypeLesson, TypeAssessment}
}

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case TypeCourse, TypeLesson, TypeAssessment:
		return true
	}
	return false
}

// Prerequisite is one edge of the graph: the owning item requires ContentID
// to be completed, and when MinScore is set, scored at least MinScore (0-100).
type Prerequisite struct {
	ContentID string   `yaml:"id" json:"content_id"`
	MinScore  *float64 `yaml:"min_score,omitempty" json:"min_score,omitempty"`
}

// Item is a single gated content node.
type Item struct {
	ID          string      `yaml:"id" json:"id"`
	Title       string      `yaml:"title" json:"title"`
	Type        ContentType `yaml:"type" json:"type"`
	SubjectArea string      `yaml:"subject_area" json:"subject_area"`

	// CourseID is the containing course for lessons and assessments.
	CourseID string `yaml:"course,omitempty" json:"course_id,omitempty"`

	Topics []string `yaml:"topics,omitempty" json:"topics,omitempty"`

	// Difficulty is normalized to [0,1].
	Difficulty    float64        `yaml:"difficulty" json:"difficulty"`
	EstimatedMins int            `yaml:"estimated_minutes" json:"estimated_minutes"`
	Prerequisites []Prerequisite `yaml:"prerequisites,omitempty" json:"prerequisites,omitempty"`
}

// Topic is a unit of knowledge that mastery is tracked against.
type Topic struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	SubjectArea string   `yaml:"subject_area" json:"subject_area"`
	Keywords    []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

// Band is a coarse difficulty level for bank questions.
type Band string

const (
	BandBeginner     Band = "beginner"
	BandIntermediate Band = "intermediate"
	BandAdvanced     Band = "advanced"
)

// AllBands returns the bands from easiest to hardest.
func AllBands() []Band {
	return []Band{BandBeginner, BandIntermediate, BandAdvanced}
}

// Nominal returns the band's representative difficulty on the [0,1] scale.
func (b Band) Nominal() float64 {
	switch b {
	case BandBeginner:
		return 0.2
	case BandIntermediate:
		return 0.5
	case BandAdvanced:
		return 0.8
	}
	return 0.5
}

// Valid reports whether b is a known band.
func (b Band) Valid() bool {
	switch b {
	case BandBeginner, BandIntermediate, BandAdvanced:
		return true
	}
	return false
}

// QuestionType describes how an answer is graded.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionShortAnswer    QuestionType = "short_answer"
	// QuestionMultiSelect awards partial credit per correct choice.
	QuestionMultiSelect QuestionType = "multi_select"
	// QuestionOpen has no answer key and is graded by an instructor.
	QuestionOpen QuestionType = "open"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionShortAnswer, QuestionMultiSelect, QuestionOpen:
		return true
	}
	return false
}

// Question is a bank question. Topics may be empty, in which case topics
// are inferred from the text when an attempt is analyzed.
type Question struct {
	ID      string       `yaml:"id" json:"id"`
	Topics  []string     `yaml:"topics,omitempty" json:"topics,omitempty"`
	Band    Band         `yaml:"difficulty" json:"difficulty"`
	Type    QuestionType `yaml:"type" json:"type"`
	Text    string       `yaml:"text" json:"text"`
	Choices []string     `yaml:"choices,omitempty" json:"choices,omitempty"`

	// Answers holds the accepted answer(s). Multi-select questions list
	// every correct choice.
	Answers []string `yaml:"answers,omitempty" json:"answers,omitempty"`
	Points  float64  `yaml:"points,omitempty" json:"points,omitempty"`
}

// MaxPoints returns the question's point value, defaulting to 1.
func (q Question) MaxPoints() float64 {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// QuestionBank groups questions for one subject area.
type QuestionBank struct {
	SubjectArea string     `yaml:"subject_area" json:"subject_area"`
	Questions   []Question `yaml:"questions" json:"questions"`
}

// Catalog is the full content definition loaded at startup.
type Catalog struct {
	Version       string         `yaml:"version" json:"version"`
	Topics        []Topic        `yaml:"topics" json:"topics"`
	Items         []Item         `yaml:"items" json:"items"`
	QuestionBanks []QuestionBank `yaml:"question_banks,omitempty" json:"question_banks,omitempty"`
}

// ItemState is an item's state relative to one student.
type ItemState int

const (
	StateLocked     ItemState = iota // One or more prerequisites unmet
	StateAvailable                   // Prerequisites met, not yet started
	StateInProgress                  // Started, not completed
	StateCompleted                   // Completed
	StateBlocked                     // Manually blocked by an instructor
)

// String returns a lowercase label for the state.
func (s ItemState) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateAvailable:
		return "available"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Icon returns a single-character display icon for the state.
func (s ItemState) Icon() string {
	switch s {
	case StateLocked:
		return "\U0001F512" // lock
	case StateAvailable:
		return "○" // open circle
	case StateInProgress:
		return "◐" // half circle
	case StateCompleted:
		return "✓" // check mark
	case StateBlocked:
		return "⛔" // no entry
	default:
		return "?"
	}
}
