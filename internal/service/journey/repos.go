package journey

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sendas-app/recorridos/internal/model"
)

// The repositories below are implemented by internal/storage (PostgreSQL) and
// internal/storage/sqlitestore. Lookups of missing rows return
// storage.ErrNotFound; a conditional run update that loses a race returns
// storage.ErrConflict.

// VersionRepo reads published journey versions.
type VersionRepo interface {
	// GetLatestPublished returns the highest published version of recorridoID.
	GetLatestPublished(ctx context.Context, recorridoID string) (model.JourneyVersion, error)
	GetVersion(ctx context.Context, recorridoID string, version int) (model.JourneyVersion, error)
}

// RunRepo persists runs. Runs are mutated only through Update and Touch.
type RunRepo interface {
	Create(ctx context.Context, run model.Run) (model.Run, error)
	Get(ctx context.Context, runID uuid.UUID) (model.Run, error)
	// Update applies patch when the stored revision equals
	// patch.ExpectedRevision and the run is in progress, bumping the revision.
	Update(ctx context.Context, runID uuid.UUID, patch model.RunPatch) (model.Run, error)
	Touch(ctx context.Context, runID uuid.UUID, at time.Time) error
	// GetActiveForUser returns the most recently started in-progress run.
	GetActiveForUser(ctx context.Context, userID, recorridoID string) (model.Run, error)
}

// StepResultRepo is the append-only log of submits.
type StepResultRepo interface {
	Append(ctx context.Context, result model.StepResult) (model.StepResult, error)
	CountForRun(ctx context.Context, runID uuid.UUID) (int, error)
}

// EventRepo is the append-only event log. Append with an idempotency key that
// already exists returns the stored event unchanged.
type EventRepo interface {
	Append(ctx context.Context, event model.NewEvent) (model.Event, error)
}
