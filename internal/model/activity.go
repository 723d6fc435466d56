package model

import "time"

// Activity actions recorded in the activity log.
const (
	ActionRegister            = "register"
	ActionLogin               = "login"
	ActionLoginFailed         = "login_failed"
	ActionLogout              = "logout"
	ActionPasswordResetIssued = "password_reset_requested"
	ActionPasswordReset       = "password_reset"
	ActionPasswordChanged     = "password_changed"
	ActionUserDeactivated     = "user_deactivated"
	ActionUserActivated       = "user_activated"
	ActionSettingsUpdated     = "settings_updated"
	ActionSettingsReset       = "settings_reset"
	ActionSettingsImported    = "settings_imported"
	ActionSettingsBackedUp    = "settings_backed_up"
)

type ActivityEntry struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
