package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

type interactionRepo struct {
	db  *sql.DB
	seq *sequenceCounter
}

// AppendInteractions writes the batch in one transaction so a failure leaves
// no partial batch behind.
func (r *interactionRepo) AppendInteractions(ctx context.Context, events []Interaction) error {
	if len(events) == 0 {
		return nil
	}
	first, err := r.seq.Reserve(ctx, len(events))
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin interaction batch: %w", err)
	}
	defer tx.Rollback()

	for i := range events {
		ev := &events[i]
		query, args := sqlb().Insert(interactionsTable.Name).
			Columns("sequence", "student_id", "content_id", "content_type", "type", "duration_ms", "timestamp").
			Values(first+int64(i), ev.StudentID, ev.ContentID, ev.ContentType, ev.Type,
				ev.Duration.Milliseconds(), ev.Timestamp.UTC()).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("append interaction: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit interaction batch: %w", err)
	}
	for i := range events {
		events[i].Sequence = first + int64(i)
	}
	return nil
}

func (r *interactionRepo) ListInteractions(ctx context.Context, studentID string) ([]Interaction, error) {
	var events []Interaction
	err := queryAll(ctx, r.db, sqlb().Select("sequence", "student_id", "content_id", "content_type", "type", "duration_ms", "timestamp").
		From(sqlb().Table(interactionsTable.Name)).
		Where(entsql.EQ("student_id", studentID)).
		OrderBy("timestamp", "sequence"),
		func(rows *sql.Rows) error {
			var (
				ev Interaction
				ms int64
			)
			if err := rows.Scan(&ev.Sequence, &ev.StudentID, &ev.ContentID, &ev.ContentType,
				&ev.Type, &ms, &ev.Timestamp); err != nil {
				return err
			}
			ev.Duration = time.Duration(ms) * time.Millisecond
			events = append(events, ev)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	return events, nil
}

type patternRepo struct {
	db *sql.DB
}

func (r *patternRepo) GetPattern(ctx context.Context, studentID string) (*EngagementPatternData, error) {
	var data string
	err := queryRow(ctx, r.db, sqlb().Select("data").
		From(sqlb().Table(patternsTable.Name)).
		Where(entsql.EQ("student_id", studentID))).
		Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query engagement pattern: %w", err)
	}
	var p EngagementPatternData
	if err := fromJSON(data, &p); err != nil {
		return nil, fmt.Errorf("decode engagement pattern: %w", err)
	}
	return &p, nil
}

func (r *patternRepo) SavePattern(ctx context.Context, p *EngagementPatternData) error {
	data, err := toJSON(p)
	if err != nil {
		return fmt.Errorf("encode engagement pattern: %w", err)
	}
	_, err = execStmt(ctx, r.db, sqlb().Insert(patternsTable.Name).
		Columns("student_id", "data", "computed_at").
		Values(p.StudentID, data, p.ComputedAt.UTC()).
		OnConflict(entsql.ConflictColumns("student_id"), entsql.ResolveWithNewValues()))
	if err != nil {
		return fmt.Errorf("save engagement pattern: %w", err)
	}
	return nil
}
