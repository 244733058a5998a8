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

var recommendationCols = []string{
	"id", "student_id", "content_id", "content_type", "rank", "score",
	"factors", "viewed", "clicked", "created_at", "updated_at",
}

type recommendationRepo struct {
	db *sql.DB
}

func (r *recommendationRepo) SaveRecommendations(ctx context.Context, recs []Recommendation) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recommendation batch: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		factors, err := toJSON(rec.Factors)
		if err != nil {
			return fmt.Errorf("encode factors: %w", err)
		}
		query, args := sqlb().Insert(recommendationsTable.Name).
			Columns(recommendationCols...).
			Values(rec.ID, rec.StudentID, rec.ContentID, rec.ContentType, rec.Rank, rec.Score,
				factors, rec.Viewed, rec.Clicked, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("save recommendation: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recommendation batch: %w", err)
	}
	return nil
}

func (r *recommendationRepo) GetRecommendation(ctx context.Context, id string) (*Recommendation, error) {
	var (
		rec     Recommendation
		factors string
	)
	err := queryRow(ctx, r.db, sqlb().Select(recommendationCols...).
		From(sqlb().Table(recommendationsTable.Name)).
		Where(entsql.EQ("id", id))).
		Scan(&rec.ID, &rec.StudentID, &rec.ContentID, &rec.ContentType, &rec.Rank, &rec.Score,
			&factors, &rec.Viewed, &rec.Clicked, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("recommendation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query recommendation: %w", err)
	}
	if err := fromJSON(factors, &rec.Factors); err != nil {
		return nil, fmt.Errorf("decode factors: %w", err)
	}
	return &rec, nil
}

func (r *recommendationRepo) MarkFeedback(ctx context.Context, id string, viewed, clicked bool, at time.Time) error {
	upd := sqlb().Update(recommendationsTable.Name).Set("updated_at", at.UTC())
	if viewed {
		upd = upd.Set("viewed", true)
	}
	if clicked {
		upd = upd.Set("clicked", true)
	}
	res, err := execStmt(ctx, r.db, upd.Where(entsql.EQ("id", id)))
	if err != nil {
		return fmt.Errorf("mark recommendation feedback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark recommendation feedback: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("recommendation", id)
	}
	return nil
}

type roadmapRepo struct {
	db *sql.DB
}

func (r *roadmapRepo) GetRoadmap(ctx context.Context, studentID string) (*Roadmap, error) {
	var data string
	err := queryRow(ctx, r.db, sqlb().Select("data").
		From(sqlb().Table(roadmapsTable.Name)).
		Where(entsql.EQ("student_id", studentID))).
		Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query roadmap: %w", err)
	}
	var rm Roadmap
	if err := fromJSON(data, &rm); err != nil {
		return nil, fmt.Errorf("decode roadmap: %w", err)
	}
	return &rm, nil
}

func (r *roadmapRepo) SaveRoadmap(ctx context.Context, rm *Roadmap) error {
	data, err := toJSON(rm)
	if err != nil {
		return fmt.Errorf("encode roadmap: %w", err)
	}
	_, err = execStmt(ctx, r.db, sqlb().Insert(roadmapsTable.Name).
		Columns("student_id", "id", "data", "status", "inputs_hash", "generated_at", "updated_at").
		Values(rm.StudentID, rm.ID, data, rm.Status, rm.InputsHash, rm.GeneratedAt.UTC(), rm.UpdatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("student_id"), entsql.ResolveWithNewValues()))
	if err != nil {
		return fmt.Errorf("save roadmap: %w", err)
	}
	return nil
}
