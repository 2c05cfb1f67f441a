package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/drillsim/internal/attempt"
)

// sequenceCounter manages the global monotonic sequence number shared by
// every attempt event. Events from different attempts land in one table but
// are written in batches at finish time, so row order alone cannot tell
// which command came before which hint across attempts. The shared counter
// assigns a single increasing sequence to every event.
//
// Uses raw SQL because the builder has no atomic-increment primitive. The
// mutex serializes within the process; the RETURNING clause makes the
// increment atomic at the database level.
type sequenceCounter struct {
	mu sync.Mutex
}

// newSequenceCounter ensures the tracking table exists.
func newSequenceCounter(ctx context.Context, ex dialect.ExecQuerier) (*sequenceCounter, error) {
	err := ex.Exec(ctx, `CREATE TABLE IF NOT EXISTS global_sequence (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		next_val INTEGER NOT NULL DEFAULT 1
	)`, []any{}, nil)
	if err != nil {
		return nil, fmt.Errorf("create sequence table: %w", err)
	}

	err = ex.Exec(ctx, `INSERT OR IGNORE INTO global_sequence (id, next_val) VALUES (1, 1)`, []any{}, nil)
	if err != nil {
		return nil, fmt.Errorf("seed sequence: %w", err)
	}

	return &sequenceCounter{}, nil
}

// Next atomically returns the next sequence number and increments the
// counter. Passing a transaction ties the increment to its commit.
func (sc *sequenceCounter) Next(ctx context.Context, ex dialect.ExecQuerier) (int64, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	rows := &entsql.Rows{}
	err := ex.Query(ctx,
		`UPDATE global_sequence SET next_val = next_val + 1 WHERE id = 1 RETURNING next_val - 1`,
		[]any{}, rows)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	defer rows.Close()

	var seq int64
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("next sequence: %w", err)
		}
		return 0, fmt.Errorf("next sequence: no row returned")
	}
	if err := rows.Scan(&seq); err != nil {
		return 0, fmt.Errorf("scan sequence: %w", err)
	}
	return seq, nil
}

// Event is one persisted entry of an attempt's activity log.
type Event struct {
	Sequence  int64           `json:"sequence"`
	AttemptID string          `json:"attempt_id"`
	Kind      attempt.LogKind `json:"kind"`
	Ref       int             `json:"ref,omitempty"`
	Text      string          `json:"text"`
	At        time.Time       `json:"at"`
}

// appendEvents replaces the stored log of a with its in-memory entries.
func (s *Store) appendEvents(ctx context.Context, ex dialect.ExecQuerier, a *attempt.Attempt) error {
	query, args := builder().Delete(tableEvents).
		Where(entsql.EQ("attempt_id", a.ID)).
		Query()
	if err := ex.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}

	for _, e := range a.Log {
		seq, err := s.seq.Next(ctx, ex)
		if err != nil {
			return err
		}
		query, args := builder().Insert(tableEvents).
			Columns("sequence", "attempt_id", "kind", "ref", "text", "at").
			Values(seq, a.ID, string(e.Kind), e.Ref, e.Text, formatTime(e.At)).
			Query()
		if err := ex.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("save event: %w", err)
		}
	}
	return nil
}

// AttemptEvents returns the logged events of a stored attempt in sequence
// order.
func (s *Store) AttemptEvents(ctx context.Context, attemptID string) ([]Event, error) {
	query, args := builder().
		Select("sequence", "attempt_id", "kind", "ref", "text", "at").
		From(entsql.Table(tableEvents)).
		Where(entsql.EQ("attempt_id", attemptID)).
		OrderBy("sequence").
		Query()

	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			kind string
			at   string
		)
		if err := rows.Scan(&e.Sequence, &e.AttemptID, &kind, &e.Ref, &e.Text, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = attempt.LogKind(kind)
		t, err := parseTime(at)
		if err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		e.At = t
		out = append(out, e)
	}
	return out, rows.Err()
}
