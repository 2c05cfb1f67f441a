package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/drillsim/internal/attempt"
	"github.com/abhisek/drillsim/internal/performance"
)

// ErrNotFound is returned when a stored attempt does not exist.
var ErrNotFound = errors.New("not found")

var (
	_ attempt.Store     = (*Store)(nil)
	_ attempt.Completer = (*Store)(nil)
)

var performanceColumns = []string{
	"user_id",
	"scenario_id",
	"attempts",
	"successful_attempts",
	"average_time_to_resolve",
	"best_score",
	"investigation_skill_growth",
	"resolution_skill_growth",
	"last_attempted_at",
	"last_attempt_id",
}

// LoadPerformance returns the record for (userID, scenarioID), or nil when
// the learner has not finished an attempt on that scenario yet.
func (s *Store) LoadPerformance(ctx context.Context, userID, scenarioID string) (*performance.Performance, error) {
	query, args := builder().
		Select(performanceColumns...).
		From(entsql.Table(tablePerformances)).
		Where(entsql.And(
			entsql.EQ("user_id", userID),
			entsql.EQ("scenario_id", scenarioID),
		)).
		Query()

	ps, err := s.queryPerformances(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, nil
	}
	return ps[0], nil
}

// ListPerformance returns every record of userID ordered by scenario.
func (s *Store) ListPerformance(ctx context.Context, userID string) ([]*performance.Performance, error) {
	query, args := builder().
		Select(performanceColumns...).
		From(entsql.Table(tablePerformances)).
		Where(entsql.EQ("user_id", userID)).
		OrderBy("scenario_id").
		Query()
	return s.queryPerformances(ctx, query, args)
}

func (s *Store) queryPerformances(ctx context.Context, query string, args []any) ([]*performance.Performance, error) {
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("query performance: %w", err)
	}
	defer rows.Close()

	var out []*performance.Performance
	for rows.Next() {
		var (
			p    performance.Performance
			last string
		)
		err := rows.Scan(
			&p.UserID,
			&p.ScenarioID,
			&p.Attempts,
			&p.SuccessfulAttempts,
			&p.AverageTimeToResolve,
			&p.BestScore,
			&p.InvestigationSkillGrowth,
			&p.ResolutionSkillGrowth,
			&last,
			&p.LastAttemptID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan performance: %w", err)
		}
		if p.LastAttemptedAt, err = parseTime(last); err != nil {
			return nil, fmt.Errorf("parse last attempted: %w", err)
		}
		p.Normalize()
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate performance: %w", err)
	}
	return out, nil
}

// SavePerformance upserts the record. Mastery level and speed percentile
// are derived and not stored.
func (s *Store) SavePerformance(ctx context.Context, p *performance.Performance) error {
	return savePerformance(ctx, s.drv, p)
}

func savePerformance(ctx context.Context, ex dialect.ExecQuerier, p *performance.Performance) error {
	query, args := builder().
		Insert(tablePerformances).
		Columns(performanceColumns...).
		Values(
			p.UserID,
			p.ScenarioID,
			p.Attempts,
			p.SuccessfulAttempts,
			p.AverageTimeToResolve,
			p.BestScore,
			p.InvestigationSkillGrowth,
			p.ResolutionSkillGrowth,
			formatTime(p.LastAttemptedAt),
			p.LastAttemptID,
		).
		OnConflict(
			entsql.ConflictColumns("user_id", "scenario_id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if err := ex.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("save performance: %w", err)
	}
	return nil
}

// SaveAttempt stores a finished attempt and its event log.
func (s *Store) SaveAttempt(ctx context.Context, a *attempt.Attempt) error {
	return s.withTx(ctx, func(tx dialect.Tx) error {
		return s.saveAttempt(ctx, tx, a)
	})
}

// Complete stores a finished attempt, its events and the updated
// performance record in one transaction.
func (s *Store) Complete(ctx context.Context, a *attempt.Attempt, p *performance.Performance) error {
	return s.withTx(ctx, func(tx dialect.Tx) error {
		if err := s.saveAttempt(ctx, tx, a); err != nil {
			return err
		}
		return savePerformance(ctx, tx, p)
	})
}

func (s *Store) saveAttempt(ctx context.Context, ex dialect.ExecQuerier, a *attempt.Attempt) error {
	if !a.Finalized() || a.CompletedAt == nil {
		return fmt.Errorf("save attempt %s: not finished", a.ID)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}

	query, args := builder().
		Insert(tableAttempts).
		Columns(
			"id", "user_id", "scenario_id", "kind", "started_at", "completed_at",
			"total_secs", "score", "efficiency", "accuracy", "success", "timed_out",
			"hints_used", "data",
		).
		Values(
			a.ID, a.UserID, a.ScenarioID, string(a.Kind),
			formatTime(a.StartedAt), formatTime(*a.CompletedAt),
			int(a.TotalTime(*a.CompletedAt).Seconds()),
			a.Score, a.Efficiency, a.Accuracy,
			boolInt(a.Success), boolInt(a.TimedOut),
			a.HintsUsed, string(data),
		).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if err := ex.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return s.appendEvents(ctx, ex, a)
}

// LoadAttempt returns a stored attempt by id.
func (s *Store) LoadAttempt(ctx context.Context, id string) (*attempt.Attempt, error) {
	query, args := builder().
		Select("data").
		From(entsql.Table(tableAttempts)).
		Where(entsql.EQ("id", id)).
		Query()
	as, err := s.queryAttempts(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(as) == 0 {
		return nil, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return as[0], nil
}

// ListAttempts returns the most recent finished attempts of userID, newest
// first. An empty scenarioID matches every scenario; limit <= 0 means no
// limit.
func (s *Store) ListAttempts(ctx context.Context, userID, scenarioID string, limit int) ([]*attempt.Attempt, error) {
	pred := entsql.EQ("user_id", userID)
	if scenarioID != "" {
		pred = entsql.And(pred, entsql.EQ("scenario_id", scenarioID))
	}
	sel := builder().
		Select("data").
		From(entsql.Table(tableAttempts)).
		Where(pred).
		OrderBy(entsql.Desc("completed_at"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	query, args := sel.Query()
	return s.queryAttempts(ctx, query, args)
}

func (s *Store) queryAttempts(ctx context.Context, query string, args []any) ([]*attempt.Attempt, error) {
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []*attempt.Attempt
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		var a attempt.Attempt
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("unmarshal attempt: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

// ResetUser deletes every attempt, event and performance record of userID
// and returns the number of attempts removed.
func (s *Store) ResetUser(ctx context.Context, userID string) (int, error) {
	var removed int
	err := s.withTx(ctx, func(tx dialect.Tx) error {
		b := builder()
		query, args := b.Delete(tableEvents).
			Where(entsql.In("attempt_id",
				b.Select("id").From(entsql.Table(tableAttempts)).Where(entsql.EQ("user_id", userID)),
			)).
			Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("delete events: %w", err)
		}

		var res sql.Result
		query, args = b.Delete(tableAttempts).Where(entsql.EQ("user_id", userID)).Query()
		if err := tx.Exec(ctx, query, args, &res); err != nil {
			return fmt.Errorf("delete attempts: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("count deleted attempts: %w", err)
		}
		removed = int(n)

		query, args = b.Delete(tablePerformances).Where(entsql.EQ("user_id", userID)).Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("delete performance: %w", err)
		}
		return nil
	})
	return removed, err
}
