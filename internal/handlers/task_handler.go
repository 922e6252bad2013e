package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/results"
	"github.com/wardenhq/warden/internal/tasks"
)

// TaskHandler serves task admission, reads and the worker callback surface
type TaskHandler struct {
	queue      *tasks.Queue
	supervisor *tasks.Supervisor
	reconciler *tasks.StatusReconciler
	results    *results.Service
	storage    interfaces.TaskStorage
	logger     arbor.ILogger
}

func NewTaskHandler(queue *tasks.Queue, supervisor *tasks.Supervisor, reconciler *tasks.StatusReconciler,
	resultService *results.Service, storage interfaces.TaskStorage) *TaskHandler {
	return &TaskHandler{
		queue:      queue,
		supervisor: supervisor,
		reconciler: reconciler,
		results:    resultService,
		storage:    storage,
		logger:     common.GetLogger(),
	}
}

// ListTasksHandler handles GET /api/tasks with site_id/status/limit filters
func (h *TaskHandler) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	opts := &interfaces.TaskListOptions{
		SiteID: r.URL.Query().Get("site_id"),
		Status: r.URL.Query().Get("status"),
		Limit:  50,
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			opts.Offset = n
		}
	}

	rows, err := h.storage.ListTasks(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list tasks")
		WriteError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}

	responses := make([]*models.TaskResponse, 0, len(rows))
	for _, task := range rows {
		responses = append(responses, task.ToResponse())
	}
	WriteJSON(w, http.StatusOK, responses)
}

// TaskRoutes dispatches /api/tasks/{...} subpaths
func (h *TaskHandler) TaskRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		WriteError(w, http.StatusNotFound, "Task not specified")
		return
	}

	// Worker callbacks: /api/tasks/{task_id}/status|result|checkin
	if len(parts) == 2 {
		taskID := parts[0]
		switch parts[1] {
		case "status":
			h.updateStatus(w, r, taskID)
		case "result":
			h.saveResult(w, r, taskID)
		case "checkin":
			h.saveCheckin(w, r, taskID)
		default:
			WriteError(w, http.StatusNotFound, "Unknown task operation")
		}
		return
	}

	id := parts[0]
	switch r.Method {
	case "POST":
		h.createTask(w, r, id) // id is a site here
	case "GET":
		h.getTask(w, r, id)
	case "DELETE":
		h.cancelTask(w, r, id)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// createTask handles POST /api/tasks/{site_id}
func (h *TaskHandler) createTask(w http.ResponseWriter, r *http.Request, siteID string) {
	create := &models.TaskCreate{SiteID: siteID}
	if r.ContentLength > 0 {
		if !DecodeJSON(w, r, create) {
			return
		}
		create.SiteID = siteID
	}

	task, err := h.queue.AddTask(r.Context(), create)
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "unknown site"):
			WriteError(w, http.StatusNotFound, msg)
		case strings.Contains(msg, "disabled"):
			WriteError(w, http.StatusBadRequest, msg)
		default:
			h.logger.Error().Err(err).Str("site_id", siteID).Msg("Task admission failed")
			WriteError(w, http.StatusInternalServerError, "Failed to create task")
		}
		return
	}

	WriteJSON(w, http.StatusCreated, task.ToResponse())
}

// getTask handles GET /api/tasks/{task_id}
func (h *TaskHandler) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := h.storage.GetTask(r.Context(), taskID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to read task")
		return
	}
	if task == nil {
		WriteError(w, http.StatusNotFound, "Task not found")
		return
	}
	WriteJSON(w, http.StatusOK, task.ToResponse())
}

// cancelTask handles DELETE /api/tasks/{task_id}. Running workers are
// stopped; terminal tasks no-op.
func (h *TaskHandler) cancelTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := h.storage.GetTask(r.Context(), taskID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to read task")
		return
	}
	if task == nil {
		WriteError(w, http.StatusNotFound, "Task not found")
		return
	}

	if _, err := h.supervisor.CleanupTask(r.Context(), taskID); err != nil {
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Task cancellation failed")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel task")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"message": "task cancelled"})
}

// statusUpdateRequest is the worker status callback payload
type statusUpdateRequest struct {
	Status       models.TaskStatus      `json:"status"`
	Msg          string                 `json:"msg,omitempty"`
	ErrorDetails map[string]interface{} `json:"error_details,omitempty"`
	TaskMetadata map[string]interface{} `json:"task_metadata,omitempty"`
}

// updateStatus handles POST /api/tasks/{task_id}/status
func (h *TaskHandler) updateStatus(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req statusUpdateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		WriteError(w, http.StatusBadRequest, "Unknown task status")
		return
	}

	task, err := h.reconciler.UpdateTaskStatus(r.Context(), taskID, req.Status, req.Msg,
		req.ErrorDetails, req.TaskMetadata)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			WriteError(w, http.StatusNotFound, "Task not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to update task status")
		return
	}

	WriteJSON(w, http.StatusOK, task.ToResponse())
}

// saveResult handles POST /api/tasks/{task_id}/result
func (h *TaskHandler) saveResult(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var create models.ResultCreate
	if !DecodeJSON(w, r, &create) {
		return
	}
	create.TaskID = taskID

	result, err := h.results.SaveResult(r.Context(), &create)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, result)
}

// checkinRequest is the worker check-in callback payload
type checkinRequest struct {
	SiteID string                `json:"site_id"`
	Result models.CheckinOutcome `json:"result"`
}

// saveCheckin handles POST /api/tasks/{task_id}/checkin
func (h *TaskHandler) saveCheckin(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req checkinRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	checkin, err := h.results.SaveCheckinResult(r.Context(), taskID, req.SiteID, req.Result)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, checkin)
}
