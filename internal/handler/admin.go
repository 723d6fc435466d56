package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/campuskubo/internal/auth"
	"github.com/dukerupert/campuskubo/internal/model"
	"github.com/dukerupert/campuskubo/internal/store"
)

// AdminHandler serves user management and the activity log. Every route
// runs behind RequireRole(admin).
type AdminHandler struct {
	auth     *auth.Service
	activity *store.ActivityStore
	logger   *slog.Logger
}

func NewAdminHandler(svc *auth.Service, activity *store.ActivityStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{auth: svc, activity: activity, logger: logger}
}

func (h *AdminHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	actor := auth.UserID(r.Context())
	if id == actor {
		writeError(w, http.StatusBadRequest, "You cannot deactivate your own account")
		return
	}
	if err := h.auth.Deactivate(actor, id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("user deactivated", "user_id", id, "by", actor)
	writeOK(w, http.StatusOK, "User deactivated", nil)
}

func (h *AdminHandler) ActivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	actor := auth.UserID(r.Context())
	if err := h.auth.Activate(actor, id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("user activated", "user_id", id, "by", actor)
	writeOK(w, http.StatusOK, "User activated", nil)
}

func (h *AdminHandler) Activity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.activity.List(parseLimit(r, 50, 500))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []model.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "activity": entries})
}
