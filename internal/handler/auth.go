package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/campuskubo/internal/auth"
	"github.com/dukerupert/campuskubo/internal/model"
	"github.com/dukerupert/campuskubo/internal/session"
)

const forgotPasswordMessage = "If an account exists for that email, a password reset link has been sent"

type AuthHandler struct {
	auth   *auth.Service
	logger *slog.Logger
}

func NewAuthHandler(svc *auth.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, logger: logger}
}

// Register creates an account. Only an active admin may create another
// admin; the role is the stored one loaded by LoadAuth, not the session's.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
		FullName string `json:"full_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	role := model.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if role == model.RoleAdmin {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "Only an administrator can create admin accounts")
			return
		}
	}

	user, err := h.auth.Register(req.Email, req.Password, role, req.FullName)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, "Registration successful. You can now log in.", map[string]any{"user": user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	m := session.FromContext(r.Context())
	if m == nil {
		h.logger.Error("login without session middleware")
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	user, err := h.auth.Login(req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := m.Login(user.ID, user.Email, user.Role, user.FullName); err != nil {
		h.logger.Error("start session", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	h.logger.Info("user logged in", "user_id", user.ID, "role", user.Role)
	writeOK(w, http.StatusOK, "Welcome back, "+user.FullName, map[string]any{
		"user":            user,
		"timeout_minutes": int(m.Timeout().Minutes()),
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	m := session.FromContext(r.Context())
	if m != nil {
		if id, ok := m.Identity(); ok {
			h.auth.Logout(id.UserID)
		}
		if err := m.Logout(); err != nil {
			h.logger.Error("clear session", "error", err)
		}
	}
	writeOK(w, http.StatusOK, "You have been logged out", nil)
}

// Session reports whether the caller is logged in and how long the session
// has left. It runs behind LoadAuth, so a deactivated user reads as logged
// out and the identity reflects the stored user.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	m := session.FromContext(r.Context())
	ac, ok := auth.FromContext(r.Context())
	if m == nil || !ok {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "logged_in": false})
		return
	}
	remaining, _ := m.TimeRemaining()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"logged_in":         true,
		"user_id":           ac.UserID,
		"email":             ac.Email,
		"role":              ac.Role,
		"full_name":         ac.FullName,
		"minutes_remaining": remaining,
	})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if ok, reason := auth.ValidateEmail(req.Email); !ok {
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	if _, err := h.auth.RequestPasswordReset(req.Email); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, forgotPasswordMessage, nil)
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := h.auth.ResetPasswordWithToken(req.Token, req.Password); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Your password has been reset. You can now log in.", nil)
}

// ChangePassword runs behind RequireAuth.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "Please log in to continue")
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	err := h.auth.ChangePassword(userID, req.CurrentPassword, req.NewPassword)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Password changed", nil)
}
