package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sendas-app/recorridos/internal/model"
)

// StepResultStore is the append-only log of submits.
type StepResultStore struct {
	db *DB
}

// Append inserts a step result.
func (s *StepResultStore) Append(ctx context.Context, r model.StepResult) (model.StepResult, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Captured == nil {
		r.Captured = model.Object{}
	}
	_, err := s.db.pool.Exec(ctx,
		`INSERT INTO recorrido_step_results (id, run_id, step_id, captured_json, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.RunID, r.StepID, r.Captured, r.DurationMS, r.CreatedAt,
	)
	if err != nil {
		return model.StepResult{}, fmt.Errorf("storage: append step result: %w", err)
	}
	return r, nil
}

// CountForRun returns the number of step results recorded for a run.
func (s *StepResultStore) CountForRun(ctx context.Context, runID uuid.UUID) (int, error) {
	var n int
	if err := s.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM recorrido_step_results WHERE run_id = $1`, runID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count step results: %w", err)
	}
	return n, nil
}

// ListForRun returns a run's step results in submission order.
func (s *StepResultStore) ListForRun(ctx context.Context, runID uuid.UUID) ([]model.StepResult, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT id, run_id, step_id, captured_json, duration_ms, created_at
		 FROM recorrido_step_results WHERE run_id = $1
		 ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: list step results: %w", err)
	}
	defer rows.Close()

	var out []model.StepResult
	for rows.Next() {
		var r model.StepResult
		if err := rows.Scan(&r.ID, &r.RunID, &r.StepID, &r.Captured, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan step result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
