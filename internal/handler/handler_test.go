package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/campuskubo/internal/auth"
	"github.com/dukerupert/campuskubo/internal/backup"
	"github.com/dukerupert/campuskubo/internal/database"
	"github.com/dukerupert/campuskubo/internal/middleware"
	"github.com/dukerupert/campuskubo/internal/model"
	"github.com/dukerupert/campuskubo/internal/session"
	"github.com/dukerupert/campuskubo/internal/settings"
	"github.com/dukerupert/campuskubo/internal/store"
)

type testEnv struct {
	users    *store.UserStore
	activity *store.ActivityStore
	auth     *auth.Service
	settings *settings.Service

	authH     *AuthHandler
	adminH    *AdminHandler
	settingsH *SettingsHandler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupHandlerTest(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := discardLogger()
	env := &testEnv{
		users:    store.NewUserStore(db),
		activity: store.NewActivityStore(db),
	}
	env.auth, err = auth.NewService(env.users, store.NewPasswordResetStore(db), env.activity, logger)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	env.settings = settings.NewService(store.NewSettingsStore(db), logger)
	if err := env.settings.Initialize(); err != nil {
		t.Fatalf("initialize settings: %v", err)
	}
	backups := backup.NewManager(backup.Config{}, env.settings, logger)

	env.authH = NewAuthHandler(env.auth, logger)
	env.adminH = NewAdminHandler(env.auth, env.activity, logger)
	env.settingsH = NewSettingsHandler(env.settings, backups, env.activity, logger)
	return env
}

var testProvider = session.NewCookieProvider([]byte("0123456789abcdef0123456789abcdef"), nil, session.CookieOptions{})

// withSession runs h behind the session middleware with a one hour timeout.
func withSession(h http.HandlerFunc) http.Handler {
	return middleware.Sessions(testProvider, time.Hour, discardLogger())(h)
}

// withAuth is withSession plus LoadAuth, as routes open to visitors run.
func (env *testEnv) withAuth(h http.HandlerFunc) http.Handler {
	return withSession(middleware.LoadAuth(env.users)(h).ServeHTTP)
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// asUser attaches an authenticated identity as RequireAuth would.
func asUser(req *http.Request, u *model.User) *http.Request {
	return req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{
		UserID:   u.ID,
		Email:    u.Email,
		Role:     u.Role,
		FullName: u.FullName,
	}))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func mustRegister(t *testing.T, env *testEnv, email string, role model.Role) *model.User {
	t.Helper()
	u, err := env.auth.Register(email, "Passw0rd!", role, "Test "+string(role))
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

func lastAction(t *testing.T, env *testEnv) model.ActivityEntry {
	t.Helper()
	entries, err := env.activity.List(1)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no activity recorded")
	}
	return entries[0]
}
