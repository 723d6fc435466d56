package middleware

import (
	"net/http"

	"github.com/dukerupert/campuskubo/internal/auth"
	"github.com/dukerupert/campuskubo/internal/model"
	"github.com/dukerupert/campuskubo/internal/session"
)

// UserLookup is satisfied by *store.UserStore.
type UserLookup interface {
	GetByID(id int64) (*model.User, error)
}

// activeUser returns the stored user behind a live session. A session whose
// user is gone or deactivated is logged out and reported as nil.
func activeUser(m *session.Manager, users UserLookup) (*model.User, error) {
	if m == nil || !m.IsLoggedIn() {
		return nil, nil
	}
	id, ok := m.Identity()
	if !ok {
		return nil, nil
	}
	user, err := users.GetByID(id.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		m.Logout()
		return nil, nil
	}
	return user, nil
}

func withUser(r *http.Request, user *model.User) *http.Request {
	return r.WithContext(auth.WithAuth(r.Context(), auth.AuthContext{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role,
		FullName: user.FullName,
	}))
}

// LoadAuth populates AuthContext from the stored user when the session is
// live, and lets anonymous requests through untouched. Routes open to
// visitors use it so they still see the user's current role.
func LoadAuth(users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := activeUser(session.FromContext(r.Context()), users)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Internal error")
				return
			}
			if user != nil {
				r = withUser(r, user)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth admits requests whose session is live and whose user is still
// active, and populates AuthContext from the stored user. A deactivated
// user's session is logged out.
func RequireAuth(users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := session.FromContext(r.Context())
			if m == nil || !m.IsLoggedIn() {
				writeError(w, http.StatusUnauthorized, "Please log in to continue")
				return
			}
			user, err := activeUser(m, users)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Internal error")
				return
			}
			if user == nil {
				writeError(w, http.StatusUnauthorized, "Your account is no longer active")
				return
			}
			next.ServeHTTP(w, withUser(r, user))
		})
	}
}

// RequireRole runs after RequireAuth and admits only the given roles.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.HasRole(r.Context(), roles...) {
				writeError(w, http.StatusForbidden, "You do not have access to this page")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
