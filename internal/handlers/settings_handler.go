package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/settings"
)

// SettingsHandler serves the settings surface
type SettingsHandler struct {
	settings *settings.Service
	logger   arbor.ILogger
}

func NewSettingsHandler(settingsService *settings.Service) *SettingsHandler {
	return &SettingsHandler{
		settings: settingsService,
		logger:   common.GetLogger(),
	}
}

// SettingsHandler handles GET and PATCH /api/settings
func (h *SettingsHandler) SettingsRootHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		current, err := h.settings.Current(r.Context())
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to read settings")
			WriteError(w, http.StatusInternalServerError, "Failed to read settings")
			return
		}
		WriteJSON(w, http.StatusOK, current)

	case "PATCH":
		var patch map[string]interface{}
		if !DecodeJSON(w, r, &patch) {
			return
		}
		for key, value := range patch {
			if err := h.settings.Set(r.Context(), key, value); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		current, err := h.settings.Current(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to read settings")
			return
		}
		WriteJSON(w, http.StatusOK, current)

	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// SettingsRoutes dispatches /api/settings/{key} and /api/settings/reset and
// /api/settings/browser.
func (h *SettingsHandler) SettingsRoutes(w http.ResponseWriter, r *http.Request) {
	key := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/settings/"), "/")
	if key == "" {
		h.SettingsRootHandler(w, r)
		return
	}

	switch key {
	case "reset":
		h.resetHandler(w, r)
		return
	case "browser":
		h.browserHandler(w, r)
		return
	}

	switch r.Method {
	case "GET":
		value, err := h.settings.Get(r.Context(), key)
		if err != nil {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{key: value})

	case "PUT", "POST":
		var body map[string]interface{}
		if !DecodeJSON(w, r, &body) {
			return
		}
		value, ok := body["value"]
		if !ok {
			WriteError(w, http.StatusBadRequest, "Body must carry a \"value\" field")
			return
		}
		if err := h.settings.Set(r.Context(), key, value); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{key: value})

	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// resetHandler handles POST /api/settings/reset: back to env-backfilled
// defaults.
func (h *SettingsHandler) resetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	defaults := models.NewDefaultSettings()
	if err := h.settings.Update(r.Context(), defaults); err != nil {
		h.logger.Error().Err(err).Msg("Settings reset failed")
		WriteError(w, http.StatusInternalServerError, "Failed to reset settings")
		return
	}
	WriteJSON(w, http.StatusOK, defaults)
}

// browserHandler handles POST /api/settings/browser: provision the browser
// snapshot if needed and report the resolved path.
func (h *SettingsHandler) browserHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	path, err := h.settings.EnsureBrowser(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Browser provisioning failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"chrome_path": path})
}
