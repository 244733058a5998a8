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

var progressCols = []string{
	"student_id", "content_id", "content_type", "status", "completion_percentage",
	"time_spent_ms", "score", "version", "created_at", "updated_at",
}

type progressRepo struct {
	db *sql.DB
}

func scanProgress(sc interface{ Scan(...any) error }) (*ProgressRecord, error) {
	var (
		rec     ProgressRecord
		spentMs int64
		score   sql.NullFloat64
	)
	if err := sc.Scan(&rec.StudentID, &rec.ContentID, &rec.ContentType, &rec.Status,
		&rec.CompletionPercentage, &spentMs, &score, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.TimeSpent = time.Duration(spentMs) * time.Millisecond
	if score.Valid {
		s := score.Float64
		rec.Score = &s
	}
	return &rec, nil
}

func nullableScore(s *float64) any {
	if s == nil {
		return nil
	}
	return *s
}

func (r *progressRepo) GetProgress(ctx context.Context, studentID, contentID string) (*ProgressRecord, error) {
	rec, err := scanProgress(queryRow(ctx, r.db, sqlb().Select(progressCols...).
		From(sqlb().Table(progressTable.Name)).
		Where(entsql.And(entsql.EQ("student_id", studentID), entsql.EQ("content_id", contentID)))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	return rec, nil
}

func (r *progressRepo) ListProgress(ctx context.Context, studentID string) ([]ProgressRecord, error) {
	var recs []ProgressRecord
	err := queryAll(ctx, r.db, sqlb().Select(progressCols...).
		From(sqlb().Table(progressTable.Name)).
		Where(entsql.EQ("student_id", studentID)).
		OrderBy("content_id"),
		func(rows *sql.Rows) error {
			rec, err := scanProgress(rows)
			if err != nil {
				return err
			}
			recs = append(recs, *rec)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	return recs, nil
}

func (r *progressRepo) SaveProgress(ctx context.Context, rec *ProgressRecord) error {
	spentMs := rec.TimeSpent.Milliseconds()
	if rec.Version == 0 {
		res, err := execStmt(ctx, r.db, sqlb().Insert(progressTable.Name).
			Columns(progressCols...).
			Values(rec.StudentID, rec.ContentID, rec.ContentType, rec.Status, rec.CompletionPercentage,
				spentMs, nullableScore(rec.Score), int64(1), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()).
			OnConflict(entsql.ConflictColumns("student_id", "content_id"), entsql.DoNothing()))
		if err != nil {
			return fmt.Errorf("insert progress: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert progress: %w", err)
		}
		if n == 0 {
			return ErrVersionConflict
		}
		rec.Version = 1
		return nil
	}

	res, err := execStmt(ctx, r.db, sqlb().Update(progressTable.Name).
		Set("content_type", rec.ContentType).
		Set("status", rec.Status).
		Set("completion_percentage", rec.CompletionPercentage).
		Set("time_spent_ms", spentMs).
		Set("score", nullableScore(rec.Score)).
		Set("version", rec.Version+1).
		Set("updated_at", rec.UpdatedAt.UTC()).
		Where(entsql.And(
			entsql.EQ("student_id", rec.StudentID),
			entsql.EQ("content_id", rec.ContentID),
			entsql.EQ("version", rec.Version),
		)))
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	rec.Version++
	return nil
}

var blockCols = []string{"id", "student_id", "content_id", "reason", "blocked_by", "created_at", "resolved_at", "resolved_by"}

type blockRepo struct {
	db *sql.DB
}

func scanBlock(sc interface{ Scan(...any) error }) (*ProgressionBlock, error) {
	var (
		b          ProgressionBlock
		resolvedAt sql.NullTime
	)
	if err := sc.Scan(&b.ID, &b.StudentID, &b.ContentID, &b.Reason, &b.BlockedBy,
		&b.CreatedAt, &resolvedAt, &b.ResolvedBy); err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		b.ResolvedAt = &t
	}
	return &b, nil
}

func (r *blockRepo) CreateBlock(ctx context.Context, b *ProgressionBlock) error {
	_, err := execStmt(ctx, r.db, sqlb().Insert(blocksTable.Name).
		Columns(blockCols...).
		Values(b.ID, b.StudentID, b.ContentID, b.Reason, b.BlockedBy, b.CreatedAt.UTC(), nil, ""))
	if err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

func (r *blockRepo) ActiveBlock(ctx context.Context, studentID, contentID string) (*ProgressionBlock, error) {
	b, err := scanBlock(queryRow(ctx, r.db, sqlb().Select(blockCols...).
		From(sqlb().Table(blocksTable.Name)).
		Where(entsql.And(
			entsql.EQ("student_id", studentID),
			entsql.EQ("content_id", contentID),
			entsql.IsNull("resolved_at"),
		)).
		OrderBy(entsql.Desc("created_at")).
		Limit(1)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active block: %w", err)
	}
	return b, nil
}

func (r *blockRepo) ListActiveBlocks(ctx context.Context, studentID string) ([]ProgressionBlock, error) {
	var blocks []ProgressionBlock
	err := queryAll(ctx, r.db, sqlb().Select(blockCols...).
		From(sqlb().Table(blocksTable.Name)).
		Where(entsql.And(entsql.EQ("student_id", studentID), entsql.IsNull("resolved_at"))).
		OrderBy("created_at", "id"),
		func(rows *sql.Rows) error {
			b, err := scanBlock(rows)
			if err != nil {
				return err
			}
			blocks = append(blocks, *b)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("query active blocks: %w", err)
	}
	return blocks, nil
}

func (r *blockRepo) ResolveBlock(ctx context.Context, id, resolvedBy string, at time.Time) error {
	res, err := execStmt(ctx, r.db, sqlb().Update(blocksTable.Name).
		Set("resolved_at", at.UTC()).
		Set("resolved_by", resolvedBy).
		Where(entsql.And(entsql.EQ("id", id), entsql.IsNull("resolved_at"))))
	if err != nil {
		return fmt.Errorf("resolve block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve block: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("active block", id)
	}
	return nil
}
