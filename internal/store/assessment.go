package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/pathwise/internal/apperr"
)

var attemptCols = []string{
	"id", "student_id", "assessment_id", "answers", "score", "passed",
	"submitted_at", "graded_by", "regraded_at", "analyzed_at",
}

type attemptRepo struct {
	db *sql.DB
}

func scanAttempt(sc interface{ Scan(...any) error }) (*AssessmentAttempt, error) {
	var (
		a          AssessmentAttempt
		answers    string
		regradedAt sql.NullTime
		analyzedAt sql.NullTime
	)
	if err := sc.Scan(&a.ID, &a.StudentID, &a.AssessmentID, &answers, &a.Score, &a.Passed,
		&a.SubmittedAt, &a.GradedBy, &regradedAt, &analyzedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(answers, &a.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	if regradedAt.Valid {
		t := regradedAt.Time
		a.RegradedAt = &t
	}
	if analyzedAt.Valid {
		t := analyzedAt.Time
		a.AnalyzedAt = &t
	}
	return &a, nil
}

func (r *attemptRepo) CreateAttempt(ctx context.Context, a *AssessmentAttempt) error {
	answers, err := toJSON(a.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = execStmt(ctx, r.db, sqlb().Insert(attemptsTable.Name).
		Columns(attemptCols...).
		Values(a.ID, a.StudentID, a.AssessmentID, answers, a.Score, a.Passed,
			a.SubmittedAt.UTC(), a.GradedBy, nil, nil))
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (r *attemptRepo) GetAttempt(ctx context.Context, id string) (*AssessmentAttempt, error) {
	a, err := scanAttempt(queryRow(ctx, r.db, sqlb().Select(attemptCols...).
		From(sqlb().Table(attemptsTable.Name)).
		Where(entsql.EQ("id", id))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("attempt", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query attempt: %w", err)
	}
	return a, nil
}

func (r *attemptRepo) ListAttempts(ctx context.Context, studentID string) ([]AssessmentAttempt, error) {
	var attempts []AssessmentAttempt
	err := queryAll(ctx, r.db, sqlb().Select(attemptCols...).
		From(sqlb().Table(attemptsTable.Name)).
		Where(entsql.EQ("student_id", studentID)).
		OrderBy("submitted_at", "id"),
		func(rows *sql.Rows) error {
			a, err := scanAttempt(rows)
			if err != nil {
				return err
			}
			attempts = append(attempts, *a)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	return attempts, nil
}

func (r *attemptRepo) UpdateGrade(ctx context.Context, a *AssessmentAttempt) error {
	answers, err := toJSON(a.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	var regradedAt any
	if a.RegradedAt != nil {
		regradedAt = a.RegradedAt.UTC()
	}
	res, err := execStmt(ctx, r.db, sqlb().Update(attemptsTable.Name).
		Set("answers", answers).
		Set("score", a.Score).
		Set("passed", a.Passed).
		Set("graded_by", a.GradedBy).
		Set("regraded_at", regradedAt).
		Where(entsql.EQ("id", a.ID)))
	if err != nil {
		return fmt.Errorf("update attempt grade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update attempt grade: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("attempt", a.ID)
	}
	return nil
}

type assessmentRepo struct {
	db *sql.DB
}

func (r *assessmentRepo) SaveAssessment(ctx context.Context, a *AssessmentData) error {
	data, err := toJSON(a)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}
	_, err = execStmt(ctx, r.db, sqlb().Insert(assessmentsTable.Name).
		Columns("id", "student_id", "subject_area", "kind", "data", "created_at").
		Values(a.ID, a.StudentID, a.SubjectArea, a.Kind, data, a.CreatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()))
	if err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}
	return nil
}

func (r *assessmentRepo) GetAssessment(ctx context.Context, id string) (*AssessmentData, error) {
	var data string
	err := queryRow(ctx, r.db, sqlb().Select("data").
		From(sqlb().Table(assessmentsTable.Name)).
		Where(entsql.EQ("id", id))).
		Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("assessment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query assessment: %w", err)
	}
	var a AssessmentData
	if err := fromJSON(data, &a); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	return &a, nil
}

func (r *attemptRepo) MarkAnalyzed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := execStmt(ctx, r.db, sqlb().Update(attemptsTable.Name).
		Set("analyzed_at", at.UTC()).
		Where(entsql.And(entsql.EQ("id", id), entsql.IsNull("analyzed_at"))))
	if err != nil {
		return false, fmt.Errorf("mark attempt analyzed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark attempt analyzed: %w", err)
	}
	if n == 0 {
		if _, err := r.GetAttempt(ctx, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}
