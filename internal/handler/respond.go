package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/campuskubo/internal/auth"
	"github.com/dukerupert/campuskubo/internal/backup"
	"github.com/dukerupert/campuskubo/internal/settings"
)

// maxBodyBytes caps request bodies, including imported settings documents.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, message string, extra map[string]any) {
	body := map[string]any{"ok": true, "message": message}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "message": message})
}

// writeServiceError renders a service error as {"ok": false, "message": ...}.
// Errors without a user-facing meaning are logged and reported as internal.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ve *auth.ValidationError
	var be *settings.BatchError
	switch {
	case errors.As(err, &ve):
		body := map[string]any{"ok": false, "message": ve.Message, "field": ve.Field}
		if ve.Rules != nil {
			body["rules"] = ve.Rules
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &be):
		msgs := make([]string, len(be.Errs))
		for i, e := range be.Errs {
			msgs[i] = e.Error()
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok":      false,
			"message": "No settings were changed: " + strconv.Itoa(len(msgs)) + " invalid value(s)",
			"errors":  msgs,
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, "An account with that email already exists")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "This reset link is invalid or has expired")
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, settings.ErrUnknownCategory),
		errors.Is(err, settings.ErrUnknownKey),
		errors.Is(err, settings.ErrInvalidValue),
		errors.Is(err, settings.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, settings.ErrConflict):
		writeError(w, http.StatusConflict, "Settings were changed by another administrator, reload and try again")
	case errors.Is(err, backup.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, "Backups are not configured")
	case errors.Is(err, backup.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, "Unknown backup")
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// decodeJSON keeps numbers as json.Number so integer settings survive decoding.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(v)
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// parseLimit reads ?limit=, clamped to [1, max].
func parseLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, max)
}
