package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/sites"
	"github.com/wardenhq/warden/internal/tasks"
)

// QueueHandler serves the start/clear surface of the task queue
type QueueHandler struct {
	queue      *tasks.Queue
	supervisor *tasks.Supervisor
	registry   *sites.Registry
	logger     arbor.ILogger
}

func NewQueueHandler(queue *tasks.Queue, supervisor *tasks.Supervisor, registry *sites.Registry) *QueueHandler {
	return &QueueHandler{
		queue:      queue,
		supervisor: supervisor,
		registry:   registry,
		logger:     common.GetLogger(),
	}
}

// StartHandler handles POST /api/queue/start: one synchronous supervisor pass
func (h *QueueHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := h.supervisor.StartCrawlerTasks(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Queue start pass failed")
		WriteError(w, http.StatusInternalServerError, "Failed to start tasks")
		return
	}

	pending, err := h.queue.GetPendingTasks(r.Context(), "")
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to count pending tasks")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]int{
		"running": h.supervisor.RunningCount(),
		"pending": len(pending),
	})
}

// ClearHandler handles DELETE /api/queue/clear?site_id=
func (h *QueueHandler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	result, err := h.queue.ClearPendingTasks(r.Context(), r.URL.Query().Get("site_id"))
	if err != nil {
		h.logger.Error().Err(err).Msg("Queue clear failed")
		WriteError(w, http.StatusInternalServerError, "Failed to clear queue")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": result.ClearedCount,
		"total":   result.TotalReadyCount,
	})
}

// PendingHandler handles GET /api/queue/pending?site_id=
func (h *QueueHandler) PendingHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	pending, err := h.queue.GetPendingTasks(r.Context(), r.URL.Query().Get("site_id"))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list pending tasks")
		return
	}

	responses := make([]*models.TaskResponse, 0, len(pending))
	for _, task := range pending {
		responses = append(responses, task.ToResponse())
	}
	WriteJSON(w, http.StatusOK, responses)
}

// SiteStartRoutes dispatches POST /api/queue/{site_id}/start. The site pass
// runs asynchronously: a task is admitted if the site has none waiting, then
// a supervisor pass is scheduled.
func (h *QueueHandler) SiteStartRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "start" {
		WriteError(w, http.StatusNotFound, "Unknown queue operation")
		return
	}
	if !RequireMethod(w, r, "POST") {
		return
	}
	siteID := parts[0]

	setup, err := h.registry.GetSiteSetup(r.Context(), siteID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to read site")
		return
	}
	if setup == nil {
		WriteError(w, http.StatusNotFound, "Site not found")
		return
	}

	admitted := 0
	if _, err := h.queue.AddTask(r.Context(), &models.TaskCreate{
		SiteID:       siteID,
		TaskMetadata: map[string]interface{}{"trigger": "queue_start"},
	}); err != nil {
		h.logger.Warn().Err(err).Str("site_id", siteID).Msg("Site start admission skipped")
	} else {
		admitted = 1
	}

	go func() {
		if err := h.supervisor.StartCrawlerTasks(context.Background()); err != nil {
			h.logger.Warn().Err(err).Msg("Async queue start pass failed")
		}
	}()

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":   "started",
		"site_id":  siteID,
		"admitted": admitted,
	})
}
