package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/pathwise/internal/apperr"
)

type studentRepo struct {
	db *sql.DB
}

func (r *studentRepo) GetStudent(ctx context.Context, id string) (*Student, error) {
	var (
		s       Student
		courses string
	)
	err := queryRow(ctx, r.db, sqlb().Select("id", "enrolled_courses", "created_at").
		From(sqlb().Table(studentsTable.Name)).
		Where(entsql.EQ("id", id))).
		Scan(&s.ID, &courses, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("student", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query student: %w", err)
	}
	if err := fromJSON(courses, &s.EnrolledCourses); err != nil {
		return nil, fmt.Errorf("decode enrolled courses: %w", err)
	}
	return &s, nil
}

func (r *studentRepo) SaveStudent(ctx context.Context, s *Student) error {
	courses, err := toJSON(s.EnrolledCourses)
	if err != nil {
		return fmt.Errorf("encode enrolled courses: %w", err)
	}
	_, err = execStmt(ctx, r.db, sqlb().Insert(studentsTable.Name).
		Columns("id", "enrolled_courses", "created_at").
		Values(s.ID, courses, s.CreatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()))
	if err != nil {
		return fmt.Errorf("save student: %w", err)
	}
	return nil
}
