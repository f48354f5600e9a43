package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/sendas-app/recorridos/internal/model"
)

// StepResultStore is the append-only log of submits.
type StepResultStore struct {
	db *sql.DB
}

// Append inserts a step result.
func (s *StepResultStore) Append(ctx context.Context, r model.StepResult) (model.StepResult, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Captured == nil {
		r.Captured = model.Object{}
	}
	captured, err := encodeObject(r.Captured)
	if err != nil {
		return model.StepResult{}, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO recorrido_step_results (id, run_id, step_id, captured_json, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.RunID.String(), r.StepID, captured, r.DurationMS, formatTime(r.CreatedAt),
	); err != nil {
		return model.StepResult{}, fmt.Errorf("sqlitestore: append step result: %w", err)
	}
	return r, nil
}

// CountForRun returns the number of step results recorded for a run.
func (s *StepResultStore) CountForRun(ctx context.Context, runID uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recorrido_step_results WHERE run_id = ?`, runID.String(),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlitestore: count step results: %w", err)
	}
	return n, nil
}

// ListForRun returns a run's step results in submission order.
func (s *StepResultStore) ListForRun(ctx context.Context, runID uuid.UUID) ([]model.StepResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, step_id, captured_json, duration_ms, created_at
		 FROM recorrido_step_results WHERE run_id = ?
		 ORDER BY created_at ASC, rowid ASC`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list step results: %w", err)
	}
	defer rows.Close()

	var out []model.StepResult
	for rows.Next() {
		var (
			r                     model.StepResult
			id, captured, created string
			duration              sql.NullInt64
		)
		if err := rows.Scan(&id, &r.StepID, &captured, &duration, &created); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan step result: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("sqlitestore: parse step result id: %w", err)
		}
		r.RunID = runID
		if r.Captured, err = decodeObject(captured); err != nil {
			return nil, err
		}
		if duration.Valid {
			d := duration.Int64
			r.DurationMS = &d
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
