package model

import (
	"encoding/json"
	"time"
)

// SettingsRecord is the persisted form of the settings aggregate.
// Revision guards concurrent writers; it is not part of the document.
type SettingsRecord struct {
	SettingsID string
	Document   json.RawMessage
	Revision   int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type SettingsSnapshot struct {
	ID         int64           `json:"id"`
	SettingsID string          `json:"settings_id"`
	Document   json.RawMessage `json:"document"`
	CreatedAt  time.Time       `json:"created_at"`
}
