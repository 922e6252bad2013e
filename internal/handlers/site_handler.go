package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/sites"
	"github.com/wardenhq/warden/internal/state"
)

// SiteHandler serves the site registry surface and per-site browser state
type SiteHandler struct {
	registry *sites.Registry
	state    *state.Service
	logger   arbor.ILogger
}

func NewSiteHandler(registry *sites.Registry, stateService *state.Service) *SiteHandler {
	return &SiteHandler{
		registry: registry,
		state:    stateService,
		logger:   common.GetLogger(),
	}
}

// ListHandler handles GET /api/site-configs and GET /api/site-configs?available=true
func (h *SiteHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	if r.URL.Query().Get("available") == "true" {
		available, err := h.registry.GetAvailableSites(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to list available sites")
			return
		}
		WriteJSON(w, http.StatusOK, available)
		return
	}

	setups, err := h.registry.ListSiteSetups(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list site setups")
		WriteError(w, http.StatusInternalServerError, "Failed to list sites")
		return
	}
	WriteJSON(w, http.StatusOK, setups)
}

// ReloadHandler handles POST /api/site-configs/reload
func (h *SiteHandler) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := h.registry.Reload(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Seed reload failed")
		WriteError(w, http.StatusInternalServerError, "Failed to reload site seeds")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "seed reload complete"})
}

// SiteRoutes dispatches /api/site-configs/{site_id}[/state]
func (h *SiteHandler) SiteRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/site-configs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		WriteError(w, http.StatusNotFound, "Site not specified")
		return
	}
	if parts[0] == "reload" {
		h.ReloadHandler(w, r)
		return
	}
	siteID := parts[0]

	if len(parts) == 2 && parts[1] == "state" {
		h.stateRoutes(w, r, siteID)
		return
	}
	if len(parts) > 1 {
		WriteError(w, http.StatusNotFound, "Unknown site operation")
		return
	}

	switch r.Method {
	case "GET":
		h.getSite(w, r, siteID)
	case "PUT", "PATCH":
		h.updateSite(w, r, siteID)
	case "DELETE":
		h.deleteSite(w, r, siteID)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *SiteHandler) getSite(w http.ResponseWriter, r *http.Request, siteID string) {
	setup, err := h.registry.GetSiteSetup(r.Context(), siteID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to read site")
		return
	}
	if setup == nil {
		WriteError(w, http.StatusNotFound, "Site not found")
		return
	}
	WriteJSON(w, http.StatusOK, setup)
}

func (h *SiteHandler) updateSite(w http.ResponseWriter, r *http.Request, siteID string) {
	var update models.SiteSetupUpdate
	if !DecodeJSON(w, r, &update) {
		return
	}

	if err := h.registry.UpdateSiteSetup(r.Context(), siteID, &update); err != nil {
		if strings.Contains(err.Error(), "invalid") || strings.Contains(err.Error(), "no parts") {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("site_id", siteID).Msg("Site update failed")
		WriteError(w, http.StatusInternalServerError, "Failed to update site")
		return
	}

	setup, err := h.registry.GetSiteSetup(r.Context(), siteID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to read site")
		return
	}
	WriteJSON(w, http.StatusOK, setup)
}

func (h *SiteHandler) deleteSite(w http.ResponseWriter, r *http.Request, siteID string) {
	deleted, err := h.registry.DeleteSiteSetup(r.Context(), siteID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to delete site")
		return
	}
	if !deleted {
		WriteError(w, http.StatusNotFound, "Site not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "site deleted"})
}

// stateRoutes serves GET/PUT/DELETE /api/site-configs/{site_id}/state
func (h *SiteHandler) stateRoutes(w http.ResponseWriter, r *http.Request, siteID string) {
	switch r.Method {
	case "GET":
		browserState, err := h.state.GetState(r.Context(), siteID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to read browser state")
			return
		}
		if browserState == nil {
			WriteError(w, http.StatusNotFound, "No browser state for site")
			return
		}
		WriteJSON(w, http.StatusOK, browserState)

	case "PUT", "POST":
		doc, err := io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "Cannot read request body")
			return
		}
		browserState, err := h.state.SaveState(r.Context(), siteID, doc)
		if err != nil {
			WriteError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, browserState)

	case "DELETE":
		deleted, err := h.state.DeleteState(r.Context(), siteID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to delete browser state")
			return
		}
		if !deleted {
			WriteError(w, http.StatusNotFound, "No browser state for site")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"message": "browser state deleted"})

	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
