package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/storage"
)

// VersionStore reads and inserts journey versions.
type VersionStore struct {
	db *sql.DB
}

const versionColumns = `recorrido_id, version, status, definition_json, created_at, published_at`

// GetLatestPublished returns the highest published version of recorridoID.
func (s *VersionStore) GetLatestPublished(ctx context.Context, recorridoID string) (model.JourneyVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM recorrido_versions
		 WHERE recorrido_id = ? AND status = 'published'
		 ORDER BY version DESC LIMIT 1`, recorridoID))
	if err != nil {
		return model.JourneyVersion{}, fmt.Errorf("sqlitestore: get latest published %s: %w", recorridoID, err)
	}
	return v, nil
}

// GetVersion returns a specific version regardless of its status.
func (s *VersionStore) GetVersion(ctx context.Context, recorridoID string, version int) (model.JourneyVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM recorrido_versions
		 WHERE recorrido_id = ? AND version = ?`, recorridoID, version))
	if err != nil {
		return model.JourneyVersion{}, fmt.Errorf("sqlitestore: get version %s v%d: %w", recorridoID, version, err)
	}
	return v, nil
}

// Insert stores def as the next version of recorridoID.
func (s *VersionStore) Insert(ctx context.Context, recorridoID string, def model.JourneyDefinition, status model.VersionStatus) (model.JourneyVersion, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return model.JourneyVersion{}, fmt.Errorf("sqlitestore: encode definition: %w", err)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.JourneyVersion{}, fmt.Errorf("sqlitestore: begin insert version: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM recorrido_versions WHERE recorrido_id = ?`, recorridoID,
	).Scan(&v.Version); err != nil {
		return model.JourneyVersion{}, fmt.Errorf("sqlitestore: next version: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO recorrido_versions (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		v.RecorridoID, v.Version, string(v.Status), string(raw), formatTime(v.CreatedAt), formatTimePtr(v.PublishedAt),
	); err != nil {
		return model.JourneyVersion{}, fmt.Errorf("sqlitestore: insert version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.JourneyVersion{}, fmt.Errorf("sqlitestore: commit version: %w", err)
	}
	return v, nil
}

func scanVersion(row *sql.Row) (model.JourneyVersion, error) {
	var (
		v         model.JourneyVersion
		status    string
		raw       string
		created   string
		published sql.NullString
	)
	if err := row.Scan(&v.RecorridoID, &v.Version, &status, &raw, &created, &published); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.JourneyVersion{}, storage.ErrNotFound
		}
		return model.JourneyVersion{}, err
	}
	v.Status = model.VersionStatus(status)
	if err := json.Unmarshal([]byte(raw), &v.Definition); err != nil {
		return model.JourneyVersion{}, fmt.Errorf("decode definition: %w", err)
	}
	var err error
	if v.CreatedAt, err = parseTime(created); err != nil {
		return model.JourneyVersion{}, err
	}
	if v.PublishedAt, err = parseTimePtr(published); err != nil {
		return model.JourneyVersion{}, err
	}
	return v, nil
}
