package models

import (
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusReady     TaskStatus = "ready"
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSuccess   TaskStatus = "success"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true for states that admit no further transitions
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Valid returns true if the status is a known lifecycle state
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusReady, TaskStatusPending, TaskStatusRunning,
		TaskStatusSuccess, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is one scheduled execution of the scraper for one site.
// Status transitions are owned exclusively by the status reconciler.
type Task struct {
	TaskID       string                 `json:"task_id"`
	SiteID       string                 `json:"site_id"`
	Status       TaskStatus             `json:"status"`
	Msg          string                 `json:"msg,omitempty"`
	ErrorDetails map[string]interface{} `json:"error_details,omitempty"`
	TaskMetadata map[string]interface{} `json:"task_metadata,omitempty"`
	SystemInfo   map[string]interface{} `json:"system_info,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// NewTask builds a fresh ready task for a site
func NewTask(taskID, siteID string, metadata map[string]interface{}) *Task {
	now := time.Now()
	return &Task{
		TaskID:       taskID,
		SiteID:       siteID,
		Status:       TaskStatusReady,
		TaskMetadata: metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// TaskCreate is the admission payload for a new task
type TaskCreate struct {
	TaskID       string                 `json:"task_id,omitempty"`
	SiteID       string                 `json:"site_id" validate:"required"`
	TaskMetadata map[string]interface{} `json:"task_metadata,omitempty"`
}

// TaskResponse is the API shape of a task
type TaskResponse struct {
	TaskID      string     `json:"task_id"`
	SiteID      string     `json:"site_id"`
	Status      TaskStatus `json:"status"`
	Msg         string     `json:"msg,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ToResponse converts a task row to its API shape
func (t *Task) ToResponse() *TaskResponse {
	return &TaskResponse{
		TaskID:      t.TaskID,
		SiteID:      t.SiteID,
		Status:      t.Status,
		Msg:         t.Msg,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
}

// ClearPendingResult reports the outcome of a bulk ready-task cancellation
type ClearPendingResult struct {
	ClearedCount    int    `json:"cleared_count"`
	TotalReadyCount int    `json:"total_ready_count"`
	SiteID          string `json:"site_id,omitempty"`
}
