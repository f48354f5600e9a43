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

// EventStore is the append-only event log.
type EventStore struct {
	db *DB
}

const eventColumns = `id, run_id, user_id, event_type, payload_json, idempotency_key, created_at`

// Append inserts an event. When the idempotency key already exists the
// stored event is returned unchanged and nothing is written.
func (s *EventStore) Append(ctx context.Context, ev model.NewEvent) (model.Event, error) {
	payload := ev.Payload
	if payload == nil {
		payload = model.Object{}
	}
	e := model.Event{
		ID:             uuid.New(),
		RunID:          ev.RunID,
		UserID:         ev.UserID,
		EventType:      ev.EventType,
		Payload:        payload,
		IdempotencyKey: ev.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	tag, err := s.db.pool.Exec(ctx,
		`INSERT INTO recorrido_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		e.ID, e.RunID, e.UserID, e.EventType, e.Payload, e.IdempotencyKey, e.CreatedAt,
	)
	if err != nil {
		return model.Event{}, fmt.Errorf("storage: append event %s: %w", ev.EventType, err)
	}
	if tag.RowsAffected() == 1 || ev.IdempotencyKey == nil {
		return e, nil
	}

	existing, err := scanEvent(s.db.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM recorrido_events WHERE idempotency_key = $1`, *ev.IdempotencyKey))
	if err != nil {
		return model.Event{}, fmt.Errorf("storage: load existing event: %w", err)
	}
	return existing, nil
}

// ListForRun returns a run's events in insertion order. An empty eventType
// returns every type.
func (s *EventStore) ListForRun(ctx context.Context, runID uuid.UUID, eventType string) ([]model.Event, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM recorrido_events
		 WHERE run_id = $1 AND ($2 = '' OR event_type = $2)
		 ORDER BY created_at ASC, id ASC`, runID, eventType)
	if err != nil {
		return nil, fmt.Errorf("storage: list events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes events of eventType created before cutoff and
// returns how many were deleted.
func (s *EventStore) DeleteOlderThan(ctx context.Context, eventType string, cutoff time.Time) (int64, error) {
	tag, err := s.db.pool.Exec(ctx,
		`DELETE FROM recorrido_events WHERE event_type = $1 AND created_at < $2`, eventType, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: delete %s events: %w", eventType, err)
	}
	return tag.RowsAffected(), nil
}

func scanEvent(row pgx.Row) (model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.RunID, &e.UserID, &e.EventType, &e.Payload, &e.IdempotencyKey, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Event{}, ErrNotFound
		}
		return model.Event{}, err
	}
	return e, nil
}
