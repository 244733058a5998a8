package assessment

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/validate"
)

// AutoGrader is recorded as GradedBy for machine-graded attempts.
const AutoGrader = "auto"

// Submission is a student's set of responses to one assessment.
type Submission struct {
	StudentID    string `validate:"required"`
	AssessmentID string `validate:"required"`

	// Responses maps question ID to the chosen or typed answer(s).
	Responses map[string][]string

	// StartedAt, when set, is checked against the time limit.
	StartedAt *time.Time
}

// SubmitAttempt grades a submission and stores the attempt. Open questions
// stay ungraded until an instructor regrades them.
func (s *Service) SubmitAttempt(ctx context.Context, sub Submission) (*store.AssessmentAttempt, error) {
	if err := validate.Struct(sub); err != nil {
		return nil, err
	}
	if _, err := s.deps.Students.GetStudent(ctx, sub.StudentID); err != nil {
		return nil, err
	}
	a, err := s.deps.Assessments.GetAssessment(ctx, sub.AssessmentID)
	if err != nil {
		return nil, err
	}
	if a.StudentID != "" && a.StudentID != sub.StudentID {
		return nil, apperr.ValidationFields(fmt.Sprintf("assessment %q was generated for another student", a.ID), "AssessmentID")
	}

	now := s.now().UTC()
	if sub.StartedAt != nil && a.TimeLimit > 0 && now.Sub(*sub.StartedAt) > a.TimeLimit {
		return nil, apperr.ValidationFields(fmt.Sprintf("submitted after the %s time limit", a.TimeLimit), "StartedAt")
	}

	known := make(map[string]bool, len(a.Questions))
	for _, q := range a.Questions {
		known[q.QuestionID] = true
	}
	for qid := range sub.Responses {
		if !known[qid] {
			return nil, apperr.ValidationFields(fmt.Sprintf("question %q is not part of assessment %q", qid, a.ID), "Responses")
		}
	}

	answers := make([]store.Answer, 0, len(a.Questions))
	for _, q := range a.Questions {
		answers = append(answers, GradeAnswer(q, sub.Responses[q.QuestionID]))
	}
	score, passed := Score(answers, a.PassingScore)

	attempt := &store.AssessmentAttempt{
		ID:           uuid.NewString(),
		StudentID:    sub.StudentID,
		AssessmentID: a.ID,
		Answers:      answers,
		Score:        score,
		Passed:       passed,
		SubmittedAt:  now,
		GradedBy:     AutoGrader,
	}
	if err := s.deps.Attempts.CreateAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("save attempt: %w", err)
	}
	s.log.Info("attempt graded", "student", sub.StudentID, "assessment", a.ID, "score", score, "passed", passed)
	return attempt, nil
}

// Regrade is an instructor's manual grading of selected answers.
type Regrade struct {
	AttemptID string `validate:"required"`

	// Points maps question ID to points earned.
	Points map[string]float64 `validate:"required,min=1"`

	GradedBy string `validate:"required"`
}

// RegradeAttempt applies manual grades and recomputes score and pass state.
// It is the only way an attempt changes after submission.
func (s *Service) RegradeAttempt(ctx context.Context, r Regrade) (*store.AssessmentAttempt, error) {
	if err := validate.Struct(r); err != nil {
		return nil, err
	}
	attempt, err := s.deps.Attempts.GetAttempt(ctx, r.AttemptID)
	if err != nil {
		return nil, err
	}
	a, err := s.deps.Assessments.GetAssessment(ctx, attempt.AssessmentID)
	if err != nil {
		return nil, err
	}

	for qid, pts := range r.Points {
		i := slices.IndexFunc(attempt.Answers, func(ans store.Answer) bool { return ans.QuestionID == qid })
		if i < 0 {
			return nil, apperr.ValidationFields(fmt.Sprintf("question %q is not part of attempt %q", qid, attempt.ID), "Points")
		}
		possible := attempt.Answers[i].PointsPossible
		if pts < 0 || pts > possible {
			return nil, apperr.ValidationFields(fmt.Sprintf("points for %q must be in [0, %g]", qid, possible), "Points")
		}
		attempt.Answers[i].PointsEarned = pts
		attempt.Answers[i].Graded = true
	}

	now := s.now().UTC()
	attempt.Score, attempt.Passed = Score(attempt.Answers, a.PassingScore)
	attempt.GradedBy = r.GradedBy
	attempt.RegradedAt = &now
	if err := s.deps.Attempts.UpdateGrade(ctx, attempt); err != nil {
		return nil, fmt.Errorf("update grade: %w", err)
	}
	s.log.Info("attempt regraded", "attempt", attempt.ID, "by", r.GradedBy, "score", attempt.Score)
	return attempt, nil
}

// Score returns the percentage earned over graded answers. An attempt with
// answers still awaiting manual grading never passes.
func Score(answers []store.Answer, passingScore float64) (float64, bool) {
	earned, possible := 0.0, 0.0
	pending := false
	for _, a := range answers {
		if !a.Graded {
			pending = true
			continue
		}
		earned += a.PointsEarned
		possible += a.PointsPossible
	}
	if possible == 0 {
		return 0, false
	}
	score := 100 * earned / possible
	return score, !pending && score >= passingScore
}

// GradeAnswer grades one response against the frozen question.
func GradeAnswer(q store.AssessmentQuestion, response []string) store.Answer {
	ans := store.Answer{
		QuestionID:     q.QuestionID,
		Response:       response,
		PointsPossible: q.Points,
		Graded:         true,
	}
	if ans.PointsPossible <= 0 {
		ans.PointsPossible = 1
	}

	switch catalog.QuestionType(q.Type) {
	case catalog.QuestionOpen:
		ans.Graded = false
	case catalog.QuestionMultiSelect:
		ans.PointsEarned = ans.PointsPossible * multiSelectCredit(q, response)
	default:
		if len(response) > 0 && matchesAny(q, response[0]) {
			ans.PointsEarned = ans.PointsPossible
		}
	}
	return ans
}

func matchesAny(q store.AssessmentQuestion, response string) bool {
	got := normalizeResponse(q, response)
	if got == "" {
		return false
	}
	for _, want := range q.Answers {
		if got == normalizeResponse(q, want) {
			return true
		}
	}
	return false
}

// multiSelectCredit awards one share per correct selection and removes one
// per wrong selection, floored at zero.
func multiSelectCredit(q store.AssessmentQuestion, response []string) float64 {
	if len(q.Answers) == 0 {
		return 0
	}
	correct := make(map[string]bool, len(q.Answers))
	for _, a := range q.Answers {
		correct[normalizeResponse(q, a)] = true
	}
	seen := make(map[string]bool)
	right, wrong := 0, 0
	for _, r := range response {
		n := normalizeResponse(q, r)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		if correct[n] {
			right++
		} else {
			wrong++
		}
	}
	return max(0, float64(right-wrong)) / float64(len(correct))
}

// normalizeResponse lowercases, collapses whitespace, and drops a trailing
// period. Choice questions also accept a 1-based index or a letter.
func normalizeResponse(q store.AssessmentQuestion, s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	s = strings.TrimSuffix(s, ".")

	if len(q.Choices) > 0 {
		if idx, err := strconv.Atoi(s); err == nil && idx >= 1 && idx <= len(q.Choices) {
			return normalizeResponse(store.AssessmentQuestion{}, q.Choices[idx-1])
		}
		if len(s) == 1 && s[0] >= 'a' && int(s[0]-'a') < len(q.Choices) {
			return normalizeResponse(store.AssessmentQuestion{}, q.Choices[s[0]-'a'])
		}
	}

	if catalog.QuestionType(q.Type) == catalog.QuestionTrueFalse {
		switch s {
		case "t", "true", "yes":
			return "true"
		case "f", "false", "no":
			return "false"
		}
	}
	return s
}
