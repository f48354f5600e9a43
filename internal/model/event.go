package model

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types emitted by the runtime itself.
const (
	EventRecorridoStarted   = "recorrido_started"
	EventStepViewed         = "step_viewed"
	EventStepCompleted      = "step_completed"
	EventRecorridoCompleted = "recorrido_completed"
	EventRecorridoAbandoned = "recorrido_abandoned"
	EventPracticeCompleted  = "practice_completed"
	EventResourceUsed       = "resource_used"
)

// Event is an append-only entry in the event log.
type Event struct {
	ID             uuid.UUID  `json:"id"`
	RunID          *uuid.UUID `json:"run_id,omitempty"`
	UserID         *string    `json:"user_id,omitempty"`
	EventType      string     `json:"event_type"`
	Payload        Object     `json:"payload_json"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewEvent is the input to EventRepo.Append.
type NewEvent struct {
	RunID          *uuid.UUID
	UserID         *string
	EventType      string
	Payload        Object
	IdempotencyKey *string
}

// ViewIdempotencyKey is the dedup key of the step_viewed event for a step.
func ViewIdempotencyKey(runID uuid.UUID, stepID string) string {
	return runID.String() + ":" + stepID + ":view"
}
