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

// EventStore is the append-only event log.
type EventStore struct {
	db *sql.DB
}

const eventColumns = `id, run_id, user_id, event_type, payload_json, idempotency_key, created_at`

// Append inserts an event. When the idempotency key already exists the
// stored event is returned unchanged and nothing is written.
func (s *EventStore) Append(ctx context.Context, ev model.NewEvent) (model.Event, error) {
	payload := ev.Payload
	if payload == nil {
		payload = model.Object{}
	}
	encoded, err := encodeObject(payload)
	if err != nil {
		return model.Event{}, err
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
	var runID any
	if ev.RunID != nil {
		runID = ev.RunID.String()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO recorrido_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		e.ID.String(), runID, ev.UserID, e.EventType, encoded, ev.IdempotencyKey, formatTime(e.CreatedAt),
	)
	if err != nil {
		return model.Event{}, fmt.Errorf("sqlitestore: append event %s: %w", ev.EventType, err)
	}
	if n, _ := res.RowsAffected(); n == 1 || ev.IdempotencyKey == nil {
		return e, nil
	}

	existing, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM recorrido_events WHERE idempotency_key = ?`, *ev.IdempotencyKey))
	if err != nil {
		return model.Event{}, fmt.Errorf("sqlitestore: load existing event: %w", err)
	}
	return existing, nil
}

// ListForRun returns a run's events in insertion order. An empty eventType
// returns every type.
func (s *EventStore) ListForRun(ctx context.Context, runID uuid.UUID, eventType string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM recorrido_events
		 WHERE run_id = ? AND (? = '' OR event_type = ?)
		 ORDER BY seq ASC`, runID.String(), eventType, eventType)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes events of eventType created before cutoff and
// returns how many were deleted.
func (s *EventStore) DeleteOlderThan(ctx context.Context, eventType string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recorrido_events WHERE event_type = ? AND created_at < ?`, eventType, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: delete %s events: %w", eventType, err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.Event, error) {
	var (
		e                    model.Event
		id, payload, created string
		runID, userID, key   sql.NullString
	)
	if err := row.Scan(&id, &runID, &userID, &e.EventType, &payload, &key, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, storage.ErrNotFound
		}
		return model.Event{}, err
	}
	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return model.Event{}, fmt.Errorf("parse event id: %w", err)
	}
	if runID.Valid {
		rid, err := uuid.Parse(runID.String)
		if err != nil {
			return model.Event{}, fmt.Errorf("parse run id: %w", err)
		}
		e.RunID = &rid
	}
	if userID.Valid {
		e.UserID = &userID.String
	}
	if key.Valid {
		e.IdempotencyKey = &key.String
	}
	if e.Payload, err = decodeObject(payload); err != nil {
		return model.Event{}, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return model.Event{}, err
	}
	return e, nil
}
