package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/storage"
)

// RunStore persists runs.
type RunStore struct {
	db *sql.DB
}

const runColumns = `run_id, user_id, recorrido_id, version, status, current_step_id, state_json,
	revision, started_at, last_activity_at, completed_at, abandoned_at`

// Create inserts a new run with revision 0.
func (s *RunStore) Create(ctx context.Context, run model.Run) (model.Run, error) {
	if run.State == nil {
		run.State = model.Object{}
	}
	run.Revision = 0
	state, err := encodeObject(run.State)
	if err != nil {
		return model.Run{}, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO recorrido_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.UserID, run.RecorridoID, run.Version, string(run.Status), run.CurrentStepID, state,
		run.Revision, formatTime(run.StartedAt), formatTime(run.LastActivityAt),
		formatTimePtr(run.CompletedAt), formatTimePtr(run.AbandonedAt),
	); err != nil {
		return model.Run{}, fmt.Errorf("sqlitestore: create run: %w", err)
	}
	return run, nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, runID uuid.UUID) (model.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM recorrido_runs WHERE run_id = ?`, runID.String()))
	if err != nil {
		return model.Run{}, fmt.Errorf("sqlitestore: get run %s: %w", runID, err)
	}
	return run, nil
}

// Update applies patch if the run is still in progress at the expected
// revision. Nil patch fields keep their stored value.
func (s *RunStore) Update(ctx context.Context, runID uuid.UUID, patch model.RunPatch) (model.Run, error) {
	var status, state any
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	if patch.State != nil {
		encoded, err := encodeObject(patch.State)
		if err != nil {
			return model.Run{}, err
		}
		state = encoded
	}
	var currentStep any
	if patch.CurrentStepID != nil {
		currentStep = *patch.CurrentStepID
	}

	activity := time.Now()
	if patch.LastActivityAt != nil {
		activity = *patch.LastActivityAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Run{}, fmt.Errorf("sqlitestore: begin update run: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE recorrido_runs SET
			status = COALESCE(?, status),
			current_step_id = COALESCE(?, current_step_id),
			state_json = COALESCE(?, state_json),
			completed_at = COALESCE(?, completed_at),
			abandoned_at = COALESCE(?, abandoned_at),
			last_activity_at = ?,
			revision = revision + 1
		 WHERE run_id = ? AND revision = ? AND status = 'in_progress'`,
		status, currentStep, state, formatTimePtr(patch.CompletedAt), formatTimePtr(patch.AbandonedAt),
		formatTime(activity), runID.String(), patch.ExpectedRevision,
	)
	if err != nil {
		return model.Run{}, fmt.Errorf("sqlitestore: update run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Run{}, fmt.Errorf("sqlitestore: update run %s: %w", runID, err)
	}

	run, err := scanRun(tx.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM recorrido_runs WHERE run_id = ?`, runID.String()))
	if err != nil {
		return model.Run{}, fmt.Errorf("sqlitestore: update run %s: %w", runID, err)
	}
	if n == 0 {
		return model.Run{}, fmt.Errorf("sqlitestore: update run %s: %w", runID, storage.ErrConflict)
	}
	if err := tx.Commit(); err != nil {
		return model.Run{}, fmt.Errorf("sqlitestore: commit update run %s: %w", runID, err)
	}
	return run, nil
}

// Touch records activity on an in-progress run without bumping its revision.
func (s *RunStore) Touch(ctx context.Context, runID uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recorrido_runs SET last_activity_at = ? WHERE run_id = ? AND status = 'in_progress'`,
		formatTime(at), runID.String())
	if err != nil {
		return fmt.Errorf("sqlitestore: touch run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlitestore: touch run %s: %w", runID, storage.ErrNotFound)
	}
	return nil
}

// GetActiveForUser returns the most recently started in-progress run of
// recorridoID owned by userID.
func (s *RunStore) GetActiveForUser(ctx context.Context, userID, recorridoID string) (model.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM recorrido_runs
		 WHERE user_id = ? AND recorrido_id = ? AND status = 'in_progress'
		 ORDER BY started_at DESC LIMIT 1`, userID, recorridoID))
	if err != nil {
		return model.Run{}, fmt.Errorf("sqlitestore: get active run: %w", err)
	}
	return run, nil
}

func scanRun(row *sql.Row) (model.Run, error) {
	var (
		r                     model.Run
		id, status, state     string
		started, lastActivity string
		completed, abandoned  sql.NullString
	)
	err := row.Scan(
		&id, &r.UserID, &r.RecorridoID, &r.Version, &status, &r.CurrentStepID, &state,
		&r.Revision, &started, &lastActivity, &completed, &abandoned,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Run{}, storage.ErrNotFound
		}
		return model.Run{}, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return model.Run{}, fmt.Errorf("sqlitestore: parse run id: %w", err)
	}
	r.Status = model.RunStatus(status)
	if r.State, err = decodeObject(state); err != nil {
		return model.Run{}, err
	}
	if r.StartedAt, err = parseTime(started); err != nil {
		return model.Run{}, err
	}
	if r.LastActivityAt, err = parseTime(lastActivity); err != nil {
		return model.Run{}, err
	}
	if r.CompletedAt, err = parseTimePtr(completed); err != nil {
		return model.Run{}, err
	}
	if r.AbandonedAt, err = parseTimePtr(abandoned); err != nil {
		return model.Run{}, err
	}
	return r, nil
}
