package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/campuskubo/internal/auth"
	"github.com/dukerupert/campuskubo/internal/database"
	"github.com/dukerupert/campuskubo/internal/model"
	"github.com/dukerupert/campuskubo/internal/session"
	"github.com/dukerupert/campuskubo/internal/store"
)

func setupAuthMiddlewareDB(t *testing.T) *store.UserStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewUserStore(db)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testProvider = session.NewCookieProvider([]byte("0123456789abcdef0123456789abcdef"), nil, session.CookieOptions{})

// loginCookie logs u in through the session middleware and returns the cookie it set.
func loginCookie(t *testing.T, u *model.User) *http.Cookie {
	t.Helper()
	h := Sessions(testProvider, time.Hour, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session.FromContext(r.Context()).Login(u.ID, u.Email, u.Role, u.FullName)
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/login", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("login cookies = %v, want one", cookies)
	}
	return cookies[0]
}

func protected(us *store.UserStore, h http.HandlerFunc) http.Handler {
	return Sessions(testProvider, time.Hour, discardLogger())(RequireAuth(us)(h))
}

func TestRequireAuthNoSession(t *testing.T) {
	us := setupAuthMiddlewareDB(t)

	handler := protected(us, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/session", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthWithoutSessionMiddleware(t *testing.T) {
	us := setupAuthMiddlewareDB(t)

	handler := RequireAuth(us)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthValidSession(t *testing.T) {
	us := setupAuthMiddlewareDB(t)
	u, _ := us.Create("Alice Reyes", "alice@example.com", "x", model.RoleTenant)

	var gotAC auth.AuthContext
	handler := protected(us, func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			t.Fatal("expected AuthContext in request context")
		}
		gotAC = ac
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/session", nil)
	req.AddCookie(loginCookie(t, u))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotAC.UserID != u.ID {
		t.Errorf("UserID = %d, want %d", gotAC.UserID, u.ID)
	}
	if gotAC.Role != model.RoleTenant {
		t.Errorf("Role = %q, want %q", gotAC.Role, model.RoleTenant)
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Error("session cookie was not refreshed")
	}
}

func TestRequireAuthDeactivatedUser(t *testing.T) {
	us := setupAuthMiddlewareDB(t)
	u, _ := us.Create("Alice Reyes", "alice@example.com", "x", model.RoleTenant)
	cookie := loginCookie(t, u)
	us.SetActive(u.ID, false)

	handler := protected(us, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	})
	req := httptest.NewRequest("GET", "/api/session", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireRoleAllowed(t *testing.T) {
	ctx := auth.WithAuth(context.Background(), auth.AuthContext{Role: model.RoleAdmin})
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	handler := RequireRole(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequireRoleForbidden(t *testing.T) {
	ctx := auth.WithAuth(context.Background(), auth.AuthContext{Role: model.RolePM})
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	handler := RequireRole(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

// fixedUser serves one stored user regardless of id.
type fixedUser struct{ user *model.User }

func (f fixedUser) GetByID(int64) (*model.User, error) { return f.user, nil }

func TestLoadAuthAnonymous(t *testing.T) {
	us := setupAuthMiddlewareDB(t)

	reached := false
	handler := Sessions(testProvider, time.Hour, discardLogger())(LoadAuth(us)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		if _, ok := auth.FromContext(r.Context()); ok {
			t.Error("anonymous request has AuthContext")
		}
	})))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/session", nil))

	if !reached {
		t.Error("handler not reached")
	}
}

func TestLoadAuthUsesStoredRole(t *testing.T) {
	u := &model.User{ID: 7, Email: "rogue@example.com", Role: model.RoleAdmin, FullName: "Rogue", IsActive: true}
	cookie := loginCookie(t, u)
	demoted := *u
	demoted.Role = model.RoleTenant

	var got model.Role
	handler := Sessions(testProvider, time.Hour, discardLogger())(LoadAuth(fixedUser{&demoted})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, _ := auth.FromContext(r.Context())
		got = ac.Role
	})))
	req := httptest.NewRequest("POST", "/api/register", nil)
	req.AddCookie(cookie)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != model.RoleTenant {
		t.Errorf("Role = %q, want %q", got, model.RoleTenant)
	}
}

func TestLoadAuthDeactivatedUserLoggedOut(t *testing.T) {
	us := setupAuthMiddlewareDB(t)
	u, _ := us.Create("Rogue Admin", "rogue@example.com", "x", model.RoleAdmin)
	cookie := loginCookie(t, u)
	us.SetActive(u.ID, false)

	handler := Sessions(testProvider, time.Hour, discardLogger())(LoadAuth(us)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.FromContext(r.Context()); ok {
			t.Error("deactivated user has AuthContext")
		}
		if session.FromContext(r.Context()).IsLoggedIn() {
			t.Error("deactivated user's session still logged in")
		}
		w.WriteHeader(http.StatusOK)
	})))
	req := httptest.NewRequest("GET", "/api/session", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
