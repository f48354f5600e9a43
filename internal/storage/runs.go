package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sendas-app/recorridos/internal/model"
)

// RunStore persists runs.
type RunStore struct {
	db *DB
}

const runColumns = `run_id, user_id, recorrido_id, version, status, current_step_id, state_json,
	revision, started_at, last_activity_at, completed_at, abandoned_at`

// Create inserts a new run with revision 0.
func (s *RunStore) Create(ctx context.Context, run model.Run) (model.Run, error) {
	if run.State == nil {
		run.State = model.Object{}
	}
	run.Revision = 0
	_, err := s.db.pool.Exec(ctx,
		`INSERT INTO recorrido_runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.UserID, run.RecorridoID, run.Version, string(run.Status), run.CurrentStepID, run.State,
		run.Revision, run.StartedAt, run.LastActivityAt, run.CompletedAt, run.AbandonedAt,
	)
	if err != nil {
		return model.Run{}, fmt.Errorf("storage: create run: %w", err)
	}
	return run, nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, runID uuid.UUID) (model.Run, error) {
	run, err := scanRun(s.db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM recorrido_runs WHERE run_id = $1`, runID))
	if err != nil {
		return model.Run{}, fmt.Errorf("storage: get run %s: %w", runID, err)
	}
	return run, nil
}

// Update applies patch if the run is still in progress at the expected
// revision. Nil patch fields keep their stored value. A lost race returns
// ErrConflict; a missing run returns ErrNotFound.
func (s *RunStore) Update(ctx context.Context, runID uuid.UUID, patch model.RunPatch) (model.Run, error) {
	var status *string
	if patch.Status != nil {
		st := string(*patch.Status)
		status = &st
	}
	var state any
	if patch.State != nil {
		state = patch.State
	}

	run, err := scanRun(s.db.pool.QueryRow(ctx,
		`UPDATE recorrido_runs SET
			status = COALESCE($3, status),
			current_step_id = COALESCE($4, current_step_id),
			state_json = COALESCE($5::jsonb, state_json),
			completed_at = COALESCE($6, completed_at),
			abandoned_at = COALESCE($7, abandoned_at),
			last_activity_at = COALESCE($8, now()),
			revision = revision + 1
		 WHERE run_id = $1 AND revision = $2 AND status = 'in_progress'
		 RETURNING `+runColumns,
		runID, patch.ExpectedRevision, status, patch.CurrentStepID, state,
		patch.CompletedAt, patch.AbandonedAt, patch.LastActivityAt,
	))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Run{}, fmt.Errorf("storage: update run %s: %w", runID, err)
	}

	// Nothing matched: tell a missing run apart from a stale revision.
	var exists bool
	if err := s.db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM recorrido_runs WHERE run_id = $1)`, runID,
	).Scan(&exists); err != nil {
		return model.Run{}, fmt.Errorf("storage: update run %s: %w", runID, err)
	}
	if !exists {
		return model.Run{}, fmt.Errorf("storage: update run %s: %w", runID, ErrNotFound)
	}
	return model.Run{}, fmt.Errorf("storage: update run %s: %w", runID, ErrConflict)
}

// Touch records activity on an in-progress run without bumping its revision.
func (s *RunStore) Touch(ctx context.Context, runID uuid.UUID, at time.Time) error {
	tag, err := s.db.pool.Exec(ctx,
		`UPDATE recorrido_runs SET last_activity_at = $2
		 WHERE run_id = $1 AND status = 'in_progress'`, runID, at)
	if err != nil {
		return fmt.Errorf("storage: touch run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: touch run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetActiveForUser returns the most recently started in-progress run of
// recorridoID owned by userID.
func (s *RunStore) GetActiveForUser(ctx context.Context, userID, recorridoID string) (model.Run, error) {
	run, err := scanRun(s.db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM recorrido_runs
		 WHERE user_id = $1 AND recorrido_id = $2 AND status = 'in_progress'
		 ORDER BY started_at DESC LIMIT 1`, userID, recorridoID))
	if err != nil {
		return model.Run{}, fmt.Errorf("storage: get active run: %w", err)
	}
	return run, nil
}

func scanRun(row pgx.Row) (model.Run, error) {
	var r model.Run
	err := row.Scan(
		&r.ID, &r.UserID, &r.RecorridoID, &r.Version, &r.Status, &r.CurrentStepID, &r.State,
		&r.Revision, &r.StartedAt, &r.LastActivityAt, &r.CompletedAt, &r.AbandonedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, err
	}
	if r.State == nil {
		r.State = model.Object{}
	}
	return r, nil
}
