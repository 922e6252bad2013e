package tasks

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/sites"
)

// SiteLocker reports whether a site currently has a running worker. The
// supervisor owns the lock table; the queue only consults it so one site
// never runs two workers.
type SiteLocker interface {
	Locked(siteID string) bool
}

// noLocker is the locker used before the supervisor attaches
type noLocker struct{}

func (noLocker) Locked(string) bool { return false }

// Queue admits tasks and hands them out in FIFO order. The store is the
// source of truth; the in-memory list is a cache rebuilt from ready rows on
// startup.
type Queue struct {
	storage    interfaces.StorageManager
	registry   *sites.Registry
	reconciler *StatusReconciler
	logger     arbor.ILogger

	mu     sync.Mutex
	fifo   []string
	locker SiteLocker
}

// NewQueue creates a task queue
func NewQueue(storage interfaces.StorageManager, registry *sites.Registry, reconciler *StatusReconciler, logger arbor.ILogger) *Queue {
	return &Queue{
		storage:    storage,
		registry:   registry,
		reconciler: reconciler,
		logger:     logger,
		locker:     noLocker{},
	}
}

// AttachLocker wires the supervisor's lock table into dispatch decisions
func (q *Queue) AttachLocker(locker SiteLocker) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.locker = locker
}

// Initialize rebuilds the in-memory FIFO from ready rows in the store.
// Insertion order follows created_at, so admission order survives restarts.
func (q *Queue) Initialize(ctx context.Context) error {
	ready, err := q.storage.TaskStorage().ListTasks(ctx, &interfaces.TaskListOptions{
		Status:   string(models.TaskStatusReady),
		OrderBy:  "created_at",
		OrderDir: "ASC",
	})
	if err != nil {
		return fmt.Errorf("failed to load ready tasks: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.fifo = q.fifo[:0]
	for _, task := range ready {
		q.fifo = append(q.fifo, task.TaskID)
	}

	if len(q.fifo) > 0 {
		q.logger.Info().Int("count", len(q.fifo)).Msg("Recovered ready tasks from store")
	}
	return nil
}

// AddTask admits a new task for a site. The row is written to the store
// first, then appended to the FIFO, so a crash between the two only loses
// cache state the next Initialize rebuilds.
func (q *Queue) AddTask(ctx context.Context, create *models.TaskCreate) (*models.Task, error) {
	if create == nil || create.SiteID == "" {
		return nil, fmt.Errorf("site_id is required")
	}

	setup, err := q.registry.GetSiteSetup(ctx, create.SiteID)
	if err != nil {
		return nil, err
	}
	if setup == nil {
		return nil, fmt.Errorf("unknown site %s", create.SiteID)
	}
	if !setup.Enabled() {
		return nil, fmt.Errorf("site %s is disabled", create.SiteID)
	}

	taskID := create.TaskID
	if taskID == "" {
		taskID = common.NewTaskID(create.SiteID)
	}

	task := models.NewTask(taskID, create.SiteID, create.TaskMetadata)
	task.SystemInfo = admissionSystemInfo()

	if err := q.storage.TaskStorage().InsertTask(ctx, task); err != nil {
		return nil, err
	}
	if err := q.storage.SiteStorage().IncrementTotalTasks(ctx, create.SiteID); err != nil {
		q.logger.Warn().Err(err).Str("site_id", create.SiteID).Msg("Failed to bump total task counter")
	}

	q.mu.Lock()
	q.fifo = append(q.fifo, task.TaskID)
	q.mu.Unlock()

	q.logger.Info().
		Str("task_id", task.TaskID).
		Str("site_id", task.SiteID).
		Msg("Task admitted")
	return task, nil
}

// GetNextTask hands out the oldest ready task whose site is not already
// running a worker, transitioning it to pending. Returns (nil, nil) when
// nothing is dispatchable.
func (q *Queue) GetNextTask(ctx context.Context) (*models.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.fifo[:0]
	var picked *models.Task

	for i, taskID := range q.fifo {
		if picked != nil {
			kept = append(kept, q.fifo[i:]...)
			break
		}

		task, err := q.storage.TaskStorage().GetTask(ctx, taskID)
		if err != nil {
			q.fifo = append(kept, q.fifo[i:]...)
			return nil, err
		}
		if task == nil || task.Status != models.TaskStatusReady {
			// Cancelled or already dispatched elsewhere; drop from the cache
			continue
		}
		if q.locker.Locked(task.SiteID) {
			kept = append(kept, taskID)
			continue
		}

		updated, err := q.reconciler.UpdateTaskStatus(ctx, taskID, models.TaskStatusPending, "", nil, nil)
		if err != nil {
			q.fifo = append(kept, q.fifo[i:]...)
			return nil, err
		}
		picked = updated
	}

	q.fifo = kept
	return picked, nil
}

// GetPendingTasks returns every task still waiting to run: the union of
// ready rows in the store and IDs in the cache, store rows deduplicated.
// An empty siteID lists all sites.
func (q *Queue) GetPendingTasks(ctx context.Context, siteID string) ([]*models.Task, error) {
	ready, err := q.storage.TaskStorage().ListTasks(ctx, &interfaces.TaskListOptions{
		SiteID:   siteID,
		Status:   string(models.TaskStatusReady) + "," + string(models.TaskStatusPending),
		OrderBy:  "created_at",
		OrderDir: "ASC",
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(ready))
	for _, task := range ready {
		seen[task.TaskID] = true
	}

	q.mu.Lock()
	cached := make([]string, len(q.fifo))
	copy(cached, q.fifo)
	q.mu.Unlock()

	for _, taskID := range cached {
		if seen[taskID] {
			continue
		}
		task, err := q.storage.TaskStorage().GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task != nil && !task.Status.IsTerminal() && (siteID == "" || task.SiteID == siteID) {
			ready = append(ready, task)
			seen[taskID] = true
		}
	}

	return ready, nil
}

// CompleteTask records a terminal verdict for a task and drops it from the
// cache. The reconciler keeps an earlier terminal verdict if one landed.
func (q *Queue) CompleteTask(ctx context.Context, taskID string, status models.TaskStatus,
	msg string, errorDetails map[string]interface{}) (*models.Task, error) {

	if !status.IsTerminal() {
		return nil, fmt.Errorf("status %q is not terminal", status)
	}

	task, err := q.reconciler.UpdateTaskStatus(ctx, taskID, status, msg, errorDetails, nil)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.removeLocked(taskID)
	q.mu.Unlock()

	return task, nil
}

// CancelTask cancels a single task. Terminal tasks are left alone by the
// reconciler; the ID is dropped from the cache either way.
func (q *Queue) CancelTask(ctx context.Context, taskID string, msg string) (*models.Task, error) {
	task, err := q.reconciler.UpdateTaskStatus(ctx, taskID, models.TaskStatusCancelled, msg, nil, nil)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.removeLocked(taskID)
	q.mu.Unlock()

	return task, nil
}

// ClearPendingTasks cancels every ready task, optionally scoped to one site.
// Pending and running tasks are untouched; the supervisor owns those.
func (q *Queue) ClearPendingTasks(ctx context.Context, siteID string) (*models.ClearPendingResult, error) {
	ready, err := q.storage.TaskStorage().ListTasks(ctx, &interfaces.TaskListOptions{
		Status:  string(models.TaskStatusReady),
		OrderBy: "created_at", OrderDir: "ASC",
	})
	if err != nil {
		return nil, err
	}

	result := &models.ClearPendingResult{SiteID: siteID}

	for _, task := range ready {
		if siteID != "" && task.SiteID != siteID {
			continue
		}
		result.TotalReadyCount++
		if _, err := q.reconciler.UpdateTaskStatus(ctx, task.TaskID, models.TaskStatusCancelled,
			"cleared from queue", nil, nil); err != nil {
			return nil, err
		}
		q.mu.Lock()
		q.removeLocked(task.TaskID)
		q.mu.Unlock()
		result.ClearedCount++
	}

	q.logger.Info().
		Int("cleared", result.ClearedCount).
		Str("site_id", siteID).
		Msg("Ready tasks cleared")
	return result, nil
}

// Cleanup drops the in-memory cache. Store rows keep their status and are
// recovered on the next Initialize.
func (q *Queue) Cleanup() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fifo = nil
	q.logger.Debug().Msg("Task queue cache cleared")
}

// removeLocked drops a task ID from the FIFO. Caller holds the lock.
func (q *Queue) removeLocked(taskID string) {
	for i, id := range q.fifo {
		if id == taskID {
			q.fifo = append(q.fifo[:i], q.fifo[i+1:]...)
			return
		}
	}
}

// admissionSystemInfo records where a task was admitted
func admissionSystemInfo() map[string]interface{} {
	hostname, _ := os.Hostname()
	return map[string]interface{}{
		"hostname": hostname,
		"platform": runtime.GOOS,
	}
}
