package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sendas-app/recorridos/internal/model"
)

// VersionStore reads and inserts journey versions.
type VersionStore struct {
	db *DB
}

const versionColumns = `recorrido_id, version, status, definition_json, created_at, published_at`

// GetLatestPublished returns the highest published version of recorridoID.
func (s *VersionStore) GetLatestPublished(ctx context.Context, recorridoID string) (model.JourneyVersion, error) {
	row := s.db.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM recorrido_versions
		 WHERE recorrido_id = $1 AND status = 'published'
		 ORDER BY version DESC LIMIT 1`, recorridoID)
	v, err := scanVersion(row)
	if err != nil {
		return model.JourneyVersion{}, fmt.Errorf("storage: get latest published %s: %w", recorridoID, err)
	}
	return v, nil
}

// GetVersion returns a specific version regardless of its status.
func (s *VersionStore) GetVersion(ctx context.Context, recorridoID string, version int) (model.JourneyVersion, error) {
	row := s.db.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM recorrido_versions
		 WHERE recorrido_id = $1 AND version = $2`, recorridoID, version)
	v, err := scanVersion(row)
	if err != nil {
		return model.JourneyVersion{}, fmt.Errorf("storage: get version %s v%d: %w", recorridoID, version, err)
	}
	return v, nil
}

// Insert stores def as the next version of recorridoID. Version numbers are
// allocated under a per-recorrido advisory lock. Publishing notifies
// ChannelVersions on commit.
func (s *VersionStore) Insert(ctx context.Context, recorridoID string, def model.JourneyDefinition, status model.VersionStatus) (model.JourneyVersion, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return model.JourneyVersion{}, fmt.Errorf("storage: encode definition: %w", err)
	}

	now := time.Now().UTC()
	v := model.JourneyVersion{
		RecorridoID: recorridoID,
		Status:      status,
		Definition:  def,
		CreatedAt:   now,
	}
	if status == model.VersionPublished {
		v.PublishedAt = &now
	}

	err = retry(ctx, publishRetry, s.db.logger, recorridoID, func() error {
		return s.db.inTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, recorridoID); err != nil {
				return fmt.Errorf("storage: lock recorrido: %w", err)
			}
			if err := tx.QueryRow(ctx,
				`SELECT COALESCE(MAX(version), 0) + 1 FROM recorrido_versions WHERE recorrido_id = $1`,
				recorridoID,
			).Scan(&v.Version); err != nil {
				return fmt.Errorf("storage: next version: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO recorrido_versions (`+versionColumns+`)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				v.RecorridoID, v.Version, string(v.Status), raw, v.CreatedAt, v.PublishedAt,
			); err != nil {
				return fmt.Errorf("storage: insert version: %w", err)
			}
			if status == model.VersionPublished {
				return notify(ctx, tx, ChannelVersions, recorridoID)
			}
			return nil
		})
	})
	if err != nil {
		return model.JourneyVersion{}, err
	}
	return v, nil
}

func scanVersion(row pgx.Row) (model.JourneyVersion, error) {
	var (
		v   model.JourneyVersion
		raw []byte
	)
	if err := row.Scan(&v.RecorridoID, &v.Version, &v.Status, &raw, &v.CreatedAt, &v.PublishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.JourneyVersion{}, ErrNotFound
		}
		return model.JourneyVersion{}, err
	}
	if err := json.Unmarshal(raw, &v.Definition); err != nil {
		return model.JourneyVersion{}, fmt.Errorf("decode definition: %w", err)
	}
	return v, nil
}
