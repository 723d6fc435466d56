package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/campuskubo/internal/model"
)

// SettingsStore persists the single settings document and its history.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

const settingsCols = `settings_id, document, revision, created_at, updated_at`

func scanSettings(sc scanner) (*model.SettingsRecord, error) {
	var r model.SettingsRecord
	var doc string
	if err := sc.Scan(&r.SettingsID, &doc, &r.Revision, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Document = json.RawMessage(doc)
	return &r, nil
}

// Load returns the settings record, or nil if none has been created yet.
func (s *SettingsStore) Load() (*model.SettingsRecord, error) {
	row := s.db.QueryRow(`SELECT ` + settingsCols + ` FROM settings WHERE singleton = 1`)
	r, err := scanSettings(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return r, nil
}

// CreateIfAbsent inserts the first settings document. If a document already
// exists it is left untouched and returned instead.
func (s *SettingsStore) CreateIfAbsent(settingsID string, document []byte, createdAt time.Time) (*model.SettingsRecord, error) {
	_, err := s.db.Exec(
		`INSERT INTO settings (settings_id, document, revision, created_at, updated_at) VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT(singleton) DO NOTHING`,
		settingsID, string(document), createdAt.UTC(), createdAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert settings: %w", err)
	}
	return s.Load()
}

// Save replaces the document if the stored revision still equals
// expectedRevision, archiving the previous document into history.
// It returns the new revision, or ErrConflict when another writer got there first.
func (s *SettingsStore) Save(settingsID string, document []byte, expectedRevision int64) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin save settings: %w", err)
	}
	defer tx.Rollback()

	var prev string
	var revision int64
	err = tx.QueryRow(`SELECT document, revision FROM settings WHERE settings_id = ?`, settingsID).Scan(&prev, &revision)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("save settings: no settings with id %q", settingsID)
	}
	if err != nil {
		return 0, fmt.Errorf("read current settings: %w", err)
	}
	if revision != expectedRevision {
		return 0, ErrConflict
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`INSERT INTO settings_history (settings_id, document, created_at) VALUES (?, ?, ?)`,
		settingsID, prev, now,
	); err != nil {
		return 0, fmt.Errorf("archive settings: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE settings SET document = ?, revision = revision + 1, updated_at = ? WHERE settings_id = ?`,
		string(document), now, settingsID,
	); err != nil {
		return 0, fmt.Errorf("update settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit settings: %w", err)
	}
	return revision + 1, nil
}

// History returns up to limit archived documents, newest first.
func (s *SettingsStore) History(settingsID string, limit int) ([]model.SettingsSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, settings_id, document, created_at FROM settings_history
		 WHERE settings_id = ? ORDER BY id DESC LIMIT ?`,
		settingsID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list settings history: %w", err)
	}
	defer rows.Close()

	var snapshots []model.SettingsSnapshot
	for rows.Next() {
		var snap model.SettingsSnapshot
		var doc string
		if err := rows.Scan(&snap.ID, &snap.SettingsID, &doc, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan settings history: %w", err)
		}
		snap.Document = json.RawMessage(doc)
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}
