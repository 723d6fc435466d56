package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/campuskubo/internal/model"
)

type ActivityStore struct {
	db *sql.DB
}

func NewActivityStore(db *sql.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

// Log records an action. userID may be nil for anonymous events.
func (s *ActivityStore) Log(userID *int64, action, details string) error {
	var uid sql.NullInt64
	if userID != nil {
		uid = sql.NullInt64{Int64: *userID, Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO activity_log (user_id, action, details, created_at) VALUES (?, ?, ?, ?)`,
		uid, action, details, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (s *ActivityStore) List(limit int) ([]model.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, user_id, action, details, created_at FROM activity_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var entries []model.ActivityEntry
	for rows.Next() {
		var e model.ActivityEntry
		var uid sql.NullInt64
		if err := rows.Scan(&e.ID, &uid, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if uid.Valid {
			e.UserID = &uid.Int64
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
