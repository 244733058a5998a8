package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

var topicMasteryCols = []string{"topic", "mastery", "confidence", "observations", "last_updated"}

type profileRepo struct {
	db *sql.DB
}

func (r *profileRepo) GetProfile(ctx context.Context, studentID string) (*KnowledgeProfile, error) {
	p := &KnowledgeProfile{StudentID: studentID, Topics: make(map[string]TopicMastery)}
	err := queryAll(ctx, r.db, sqlb().Select(topicMasteryCols...).
		From(sqlb().Table(topicMasteryTable.Name)).
		Where(entsql.EQ("student_id", studentID)),
		func(rows *sql.Rows) error {
			var tm TopicMastery
			if err := rows.Scan(&tm.Topic, &tm.Mastery, &tm.Confidence, &tm.Observations, &tm.LastUpdated); err != nil {
				return err
			}
			p.Topics[tm.Topic] = tm
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

func (r *profileRepo) GetTopic(ctx context.Context, studentID, topic string) (TopicMastery, bool, error) {
	var tm TopicMastery
	err := queryRow(ctx, r.db, sqlb().Select(topicMasteryCols...).
		From(sqlb().Table(topicMasteryTable.Name)).
		Where(entsql.And(entsql.EQ("student_id", studentID), entsql.EQ("topic", topic)))).
		Scan(&tm.Topic, &tm.Mastery, &tm.Confidence, &tm.Observations, &tm.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return TopicMastery{Topic: topic}, false, nil
	}
	if err != nil {
		return TopicMastery{}, false, fmt.Errorf("query topic mastery: %w", err)
	}
	return tm, true, nil
}

func (r *profileRepo) SaveTopic(ctx context.Context, studentID string, tm TopicMastery) error {
	_, err := execStmt(ctx, r.db, sqlb().Insert(topicMasteryTable.Name).
		Columns("student_id", "topic", "mastery", "confidence", "observations", "last_updated").
		Values(studentID, tm.Topic, tm.Mastery, tm.Confidence, tm.Observations, tm.LastUpdated.UTC()).
		OnConflict(entsql.ConflictColumns("student_id", "topic"), entsql.ResolveWithNewValues()))
	if err != nil {
		return fmt.Errorf("save topic mastery: %w", err)
	}
	return nil
}

type gapRepo struct {
	db *sql.DB
}

func (r *gapRepo) AppendGap(ctx context.Context, g *KnowledgeGap) error {
	var resolvedAt any
	if g.ResolvedAt != nil {
		resolvedAt = g.ResolvedAt.UTC()
	}
	_, err := execStmt(ctx, r.db, sqlb().Insert(gapsTable.Name).
		Columns("id", "student_id", "subject_area", "topic", "severity",
			"detected_from", "resolved", "resolved_at", "created_at").
		Values(g.ID, g.StudentID, g.SubjectArea, g.Topic, g.Severity,
			g.DetectedFrom, g.Resolved, resolvedAt, g.CreatedAt.UTC()))
	if err != nil {
		return fmt.Errorf("append knowledge gap: %w", err)
	}
	return nil
}

func (r *gapRepo) ListGaps(ctx context.Context, studentID string, filter GapFilter) ([]KnowledgeGap, error) {
	preds := []*entsql.Predicate{entsql.EQ("student_id", studentID)}
	if filter.Topic != "" {
		preds = append(preds, entsql.EQ("topic", filter.Topic))
	}
	if filter.DetectedFrom != "" {
		preds = append(preds, entsql.EQ("detected_from", filter.DetectedFrom))
	}
	if filter.UnresolvedOnly {
		preds = append(preds, entsql.EQ("resolved", false))
	}

	var gaps []KnowledgeGap
	err := queryAll(ctx, r.db, sqlb().Select("id", "student_id", "subject_area", "topic", "severity",
		"detected_from", "resolved", "resolved_at", "created_at").
		From(sqlb().Table(gapsTable.Name)).
		Where(entsql.And(preds...)).
		OrderBy("created_at", "id"),
		func(rows *sql.Rows) error {
			var (
				g          KnowledgeGap
				resolvedAt sql.NullTime
			)
			if err := rows.Scan(&g.ID, &g.StudentID, &g.SubjectArea, &g.Topic, &g.Severity,
				&g.DetectedFrom, &g.Resolved, &resolvedAt, &g.CreatedAt); err != nil {
				return err
			}
			if resolvedAt.Valid {
				t := resolvedAt.Time
				g.ResolvedAt = &t
			}
			gaps = append(gaps, g)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("query knowledge gaps: %w", err)
	}
	return gaps, nil
}

func (r *gapRepo) ResolveGaps(ctx context.Context, studentID, topic string, at time.Time) (int, error) {
	res, err := execStmt(ctx, r.db, sqlb().Update(gapsTable.Name).
		Set("resolved", true).
		Set("resolved_at", at.UTC()).
		Where(entsql.And(
			entsql.EQ("student_id", studentID),
			entsql.EQ("topic", topic),
			entsql.EQ("resolved", false),
		)))
	if err != nil {
		return 0, fmt.Errorf("resolve knowledge gaps: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("resolve knowledge gaps: %w", err)
	}
	return int(n), nil
}
