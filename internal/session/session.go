// Package session tracks the logged-in identity of a client and expires it
// after a period of inactivity.
package session

import (
	"strconv"
	"time"

	"github.com/dukerupert/campuskubo/internal/model"
)

const DefaultTimeout = 60 * time.Minute

const (
	keyUserID       = "user_id"
	keyEmail        = "email"
	keyRole         = "role"
	keyFullName     = "full_name"
	keyLoggedIn     = "is_logged_in"
	keyLastActivity = "last_activity"
)

// Identity is what a session remembers about its user.
type Identity struct {
	UserID   int64      `json:"user_id"`
	Email    string     `json:"email"`
	Role     model.Role `json:"role"`
	FullName string     `json:"full_name"`
}

type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager applies the login state machine to a Store: anonymous until Login,
// active while checks arrive within the timeout, anonymous again after
// Logout or once a check finds the timeout exceeded.
type Manager struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

func New(store Store, timeout time.Duration, opts ...Option) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Manager{store: store, timeout: timeout, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Timeout() time.Duration { return m.timeout }

func (m *Manager) stamp() error {
	return m.store.Set(keyLastActivity, m.now().UTC().Format(time.RFC3339Nano))
}

// Login stores the identity and starts the inactivity window. Prior session
// data is cleared first, so server-side stores issue a fresh session id.
func (m *Manager) Login(userID int64, email string, role model.Role, fullName string) error {
	if err := m.store.Clear(); err != nil {
		return err
	}
	fields := []struct{ k, v string }{
		{keyUserID, strconv.FormatInt(userID, 10)},
		{keyEmail, email},
		{keyRole, string(role)},
		{keyFullName, fullName},
		{keyLoggedIn, "true"},
	}
	for _, f := range fields {
		if err := m.store.Set(f.k, f.v); err != nil {
			return err
		}
	}
	return m.stamp()
}

func (m *Manager) Logout() error {
	return m.store.Clear()
}

func (m *Manager) lastActivity() (time.Time, bool) {
	v, ok := m.store.Get(keyLastActivity)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsLoggedIn refreshes the inactivity window of a live session. An expired
// session, or one whose activity stamp is missing or unreadable, is logged
// out and reported as not logged in.
func (m *Manager) IsLoggedIn() bool {
	if v, _ := m.store.Get(keyLoggedIn); v != "true" {
		return false
	}
	last, ok := m.lastActivity()
	if !ok || m.now().Sub(last) > m.timeout {
		m.Logout()
		return false
	}
	// a failed refresh only shortens the window
	m.stamp()
	return true
}

// TimeRemaining returns whole minutes until expiry, floored at zero. ok is
// false when no activity has been recorded.
func (m *Manager) TimeRemaining() (int, bool) {
	last, ok := m.lastActivity()
	if !ok {
		return 0, false
	}
	remaining := last.Add(m.timeout).Sub(m.now())
	if remaining < 0 {
		return 0, true
	}
	return int(remaining / time.Minute), true
}

// RequireRole reports whether the session is live and holds one of roles.
func (m *Manager) RequireRole(roles ...model.Role) bool {
	if !m.IsLoggedIn() {
		return false
	}
	role, _ := m.store.Get(keyRole)
	for _, r := range roles {
		if string(r) == role {
			return true
		}
	}
	return false
}

// Identity returns the stored identity without touching the activity stamp.
func (m *Manager) Identity() (Identity, bool) {
	if v, _ := m.store.Get(keyLoggedIn); v != "true" {
		return Identity{}, false
	}
	var id Identity
	raw, _ := m.store.Get(keyUserID)
	uid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Identity{}, false
	}
	id.UserID = uid
	id.Email, _ = m.store.Get(keyEmail)
	role, _ := m.store.Get(keyRole)
	id.Role = model.Role(role)
	id.FullName, _ = m.store.Get(keyFullName)
	return id, true
}
