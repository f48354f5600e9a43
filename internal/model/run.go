// Package model defines the core domain types for the recorridos runtime.
//
// Types map onto the recorrido_* tables and onto the HTTP payloads. Author
// content (definitions, props, state) stays as JSON objects; everything the
// runtime itself owns is strongly typed.
package model

import (
	"time"

	"github.com/google/uuid"
)

// VersionStatus is the publication state of a journey version.
type VersionStatus string

const (
	VersionDraft      VersionStatus = "draft"
	VersionPublished  VersionStatus = "published"
	VersionDeprecated VersionStatus = "deprecated"
)

// JourneyVersion pins a definition to a (recorrido_id, version) pair.
// A published version's definition is never mutated.
type JourneyVersion struct {
	RecorridoID string            `json:"recorrido_id"`
	Version     int               `json:"version"`
	Status      VersionStatus     `json:"status"`
	Definition  JourneyDefinition `json:"definition"`
	CreatedAt   time.Time         `json:"created_at"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
}

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunAbandoned  RunStatus = "abandoned"
)

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunAbandoned
}

// Run is one student's execution of a pinned journey version.
type Run struct {
	ID             uuid.UUID  `json:"run_id"`
	UserID         string     `json:"user_id"`
	RecorridoID    string     `json:"recorrido_id"`
	Version        int        `json:"version"`
	Status         RunStatus  `json:"status"`
	CurrentStepID  string     `json:"current_step_id"`
	State          Object     `json:"state_json"`
	Revision       int64      `json:"revision"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	AbandonedAt    *time.Time `json:"abandoned_at,omitempty"`
}

// RunPatch is a conditional update of a run. The update applies only when the
// stored revision still equals ExpectedRevision and the run is in progress.
type RunPatch struct {
	ExpectedRevision int64
	Status           *RunStatus
	CurrentStepID    *string
	State            Object
	CompletedAt      *time.Time
	AbandonedAt      *time.Time
	// LastActivityAt defaults to the store's clock when nil.
	LastActivityAt *time.Time
}

// StepResult is an append-only record of one successful submit.
type StepResult struct {
	ID         uuid.UUID `json:"id"`
	RunID      uuid.UUID `json:"run_id"`
	StepID     string    `json:"step_id"`
	Captured   Object    `json:"captured_json"`
	DurationMS *int64    `json:"duration_ms,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
