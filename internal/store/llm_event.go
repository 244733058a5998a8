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

// eventRepo implements EventRepo backed by SQLite and the global sequence counter.
type eventRepo struct {
	db  *sql.DB
	seq *sequenceCounter
}

func (r *eventRepo) AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error {
	seqNum, err := r.seq.Next(ctx)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	_, err = execStmt(ctx, r.db, sqlb().Insert(llmEventsTable.Name).
		Columns("sequence", "timestamp", "provider", "model", "purpose",
			"input_tokens", "output_tokens", "latency_ms", "success",
			"error_message", "request_body", "response_body").
		Values(seqNum, time.Now().UTC(), data.Provider, data.Model, data.Purpose,
			data.InputTokens, data.OutputTokens, data.LatencyMs, data.Success,
			data.ErrorMessage, data.RequestBody, data.ResponseBody))
	if err != nil {
		return fmt.Errorf("save LLM request event: %w", err)
	}

	return nil
}

// LLMEvent is a stored LLM request event.
type LLMEvent struct {
	Sequence  int64
	Timestamp time.Time
	LLMRequestEventData
}

// LLMEventQuery filters ListLLMEvents. A zero Limit returns every event.
type LLMEventQuery struct {
	Limit   int
	Purpose string
}

// ModelUsage aggregates the calls made to one model.
type ModelUsage struct {
	Model        string
	Calls        int
	InputTokens  int
	OutputTokens int
	AvgLatencyMs int64
}

var llmEventCols = []string{"sequence", "timestamp", "provider", "model", "purpose",
	"input_tokens", "output_tokens", "latency_ms", "success",
	"error_message", "request_body", "response_body"}

func scanLLMEvent(row interface{ Scan(...any) error }) (*LLMEvent, error) {
	var e LLMEvent
	err := row.Scan(&e.Sequence, &e.Timestamp, &e.Provider, &e.Model, &e.Purpose,
		&e.InputTokens, &e.OutputTokens, &e.LatencyMs, &e.Success,
		&e.ErrorMessage, &e.RequestBody, &e.ResponseBody)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListLLMEvents returns the most recent LLM request events, newest first.
func (s *Store) ListLLMEvents(ctx context.Context, q LLMEventQuery) ([]LLMEvent, error) {
	sel := sqlb().Select(llmEventCols...).
		From(sqlb().Table(llmEventsTable.Name)).
		OrderBy(entsql.Desc("sequence"))
	if q.Purpose != "" {
		sel = sel.Where(entsql.EQ("purpose", q.Purpose))
	}
	if q.Limit > 0 {
		sel = sel.Limit(q.Limit)
	}

	var events []LLMEvent
	err := queryAll(ctx, s.db, sel, func(rows *sql.Rows) error {
		e, err := scanLLMEvent(rows)
		if err != nil {
			return err
		}
		events = append(events, *e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query LLM events: %w", err)
	}
	return events, nil
}

// GetLLMEvent returns the event with the given sequence number.
func (s *Store) GetLLMEvent(ctx context.Context, sequence int64) (*LLMEvent, error) {
	e, err := scanLLMEvent(queryRow(ctx, s.db, sqlb().Select(llmEventCols...).
		From(sqlb().Table(llmEventsTable.Name)).
		Where(entsql.EQ("sequence", sequence))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("llm event", fmt.Sprint(sequence))
	}
	if err != nil {
		return nil, fmt.Errorf("query LLM event: %w", err)
	}
	return e, nil
}

// LLMUsageByModel sums token usage per model, ordered by model name.
func (s *Store) LLMUsageByModel(ctx context.Context) ([]ModelUsage, error) {
	var usage []ModelUsage
	err := queryAll(ctx, s.db, sqlb().
		Select("model", entsql.Count("*"), entsql.Sum("input_tokens"),
			entsql.Sum("output_tokens"), entsql.Avg("latency_ms")).
		From(sqlb().Table(llmEventsTable.Name)).
		GroupBy("model").
		OrderBy("model"),
		func(rows *sql.Rows) error {
			var u ModelUsage
			var avg float64
			if err := rows.Scan(&u.Model, &u.Calls, &u.InputTokens, &u.OutputTokens, &avg); err != nil {
				return err
			}
			u.AvgLatencyMs = int64(avg)
			usage = append(usage, u)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("query LLM usage: %w", err)
	}
	return usage, nil
}
