package handler

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/campuskubo/internal/auth"
	"github.com/dukerupert/campuskubo/internal/backup"
	"github.com/dukerupert/campuskubo/internal/model"
	"github.com/dukerupert/campuskubo/internal/settings"
	"github.com/dukerupert/campuskubo/internal/store"
)

// SettingsHandler exposes the settings service to administrators.
type SettingsHandler struct {
	settings *settings.Service
	backups  *backup.Manager
	activity *store.ActivityStore
	logger   *slog.Logger
}

func NewSettingsHandler(svc *settings.Service, backups *backup.Manager, activity *store.ActivityStore, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: svc, backups: backups, activity: activity, logger: logger}
}

func (h *SettingsHandler) record(r *http.Request, action, details string) {
	uid := auth.UserID(r.Context())
	var userID *int64
	if uid != 0 {
		userID = &uid
	}
	if err := h.activity.Log(userID, action, details); err != nil {
		h.logger.Error("record activity", "action", action, "error", err)
	}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	cur, err := h.settings.Settings()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "settings": cur})
}

// Update sets one value: PUT /api/admin/settings/{category}/{key} {"value": ...}.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	category, key := r.PathValue("category"), r.PathValue("key")

	var req struct {
		Value any `json:"value"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := h.settings.Update(category, key, req.Value); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.record(r, model.ActionSettingsUpdated, category+"."+key)

	v, _ := h.settings.Get(category, key, nil)
	writeOK(w, http.StatusOK, "Setting saved", map[string]any{"value": v})
}

// UpdateMany applies {"category": {"key": value}} as one batch. Nothing is
// saved if any entry is invalid.
func (h *SettingsHandler) UpdateMany(w http.ResponseWriter, r *http.Request) {
	var batch settings.Batch
	if err := decodeJSON(w, r, &batch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	var keys []string
	for cat, values := range batch {
		for key := range values {
			keys = append(keys, cat+"."+key)
		}
	}
	if len(keys) == 0 {
		writeError(w, http.StatusBadRequest, "No settings given")
		return
	}

	if err := h.settings.UpdateMany(batch); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.record(r, model.ActionSettingsUpdated, strings.Join(keys, ","))

	cur, err := h.settings.Settings()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, fmt.Sprintf("%d settings saved", len(keys)), map[string]any{"settings": cur})
}

func (h *SettingsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.ResetToDefaults(); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.record(r, model.ActionSettingsReset, "")

	cur, err := h.settings.Settings()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Settings reset to defaults", map[string]any{"settings": cur})
}

// Export downloads the settings document as a JSON attachment.
func (h *SettingsHandler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.settings.Export(&buf); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	name := fmt.Sprintf("campuskubo-settings-%s.json", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Import replaces the settings with a previously exported document sent as
// the request body.
func (h *SettingsHandler) Import(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.Import(http.MaxBytesReader(w, r.Body, maxBodyBytes)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.record(r, model.ActionSettingsImported, "upload")
	writeOK(w, http.StatusOK, "Settings imported", nil)
}

func (h *SettingsHandler) History(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.settings.History(parseLimit(r, 20, 100))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if snaps == nil {
		snaps = []model.SettingsSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "history": snaps})
}

// Backups lists stored backups alongside the manager's status.
func (h *SettingsHandler) Backups(w http.ResponseWriter, r *http.Request) {
	objects, err := h.backups.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if objects == nil {
		objects = []backup.Object{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"status":  h.backups.Status(),
		"backups": objects,
	})
}

func (h *SettingsHandler) Backup(w http.ResponseWriter, r *http.Request) {
	key, err := h.backups.Backup(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.record(r, model.ActionSettingsBackedUp, key)
	writeOK(w, http.StatusOK, "Backup created", map[string]any{"key": key})
}

func (h *SettingsHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	if err := h.backups.Restore(r.Context(), req.Key); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.record(r, model.ActionSettingsImported, "backup "+req.Key)
	writeOK(w, http.StatusOK, "Settings restored from backup", nil)
}
