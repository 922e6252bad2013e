package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
)

// StatusReconciler is the sole writer of task-state transitions. Everything
// that changes a task's status, supervisor, queue, handlers, goes through
// UpdateTaskStatus so the monotone-terminal rule holds in one place.
type StatusReconciler struct {
	storage interfaces.TaskStorage
	logger  arbor.ILogger
}

// NewStatusReconciler creates the status reconciler
func NewStatusReconciler(storage interfaces.TaskStorage, logger arbor.ILogger) *StatusReconciler {
	return &StatusReconciler{
		storage: storage,
		logger:  logger,
	}
}

// UpdateTaskStatus applies a status transition to a task. Terminal states are
// monotone: once a task is success, failed or cancelled, further updates are
// ignored and the stored row is returned unchanged. Metadata merges shallowly,
// incoming keys win.
func (r *StatusReconciler) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus,
	msg string, errorDetails, metadata map[string]interface{}) (*models.Task, error) {

	if !status.Valid() {
		return nil, fmt.Errorf("unknown task status %q", status)
	}

	task, err := r.storage.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %s not found", taskID)
	}

	if task.Status.IsTerminal() {
		if task.Status != status {
			r.logger.Warn().
				Str("task_id", taskID).
				Str("current", string(task.Status)).
				Str("requested", string(status)).
				Msg("Ignoring status update on terminal task")
		}
		return task, nil
	}

	now := time.Now()
	task.Status = status
	task.UpdatedAt = now
	if msg != "" {
		task.Msg = msg
	}
	if errorDetails != nil {
		task.ErrorDetails = errorDetails
	}
	task.TaskMetadata = mergeMetadata(task.TaskMetadata, metadata)
	if status.IsTerminal() {
		task.CompletedAt = &now
	}

	if err := r.storage.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist status for %s: %w", taskID, err)
	}

	r.logger.Info().
		Str("task_id", taskID).
		Str("site_id", task.SiteID).
		Str("status", string(status)).
		Msg("Task status updated")
	return task, nil
}

// GetTaskStatus reports the status of a task. Unknown tasks read as ready so
// workers polling before the admission write lands see a consistent default.
func (r *StatusReconciler) GetTaskStatus(ctx context.Context, taskID string) (models.TaskStatus, error) {
	task, err := r.storage.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if task == nil {
		return models.TaskStatusReady, nil
	}
	return task.Status, nil
}

// GetTask returns the full task row. Returns (nil, nil) when absent.
func (r *StatusReconciler) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return r.storage.GetTask(ctx, taskID)
}

// mergeMetadata merges incoming keys over existing ones, shallowly. A nil
// incoming map leaves the existing one alone.
func mergeMetadata(existing, incoming map[string]interface{}) map[string]interface{} {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		existing = make(map[string]interface{}, len(incoming))
	}
	for key, value := range incoming {
		existing[key] = value
	}
	return existing
}
