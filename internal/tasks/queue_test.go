package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/models"
)

// fixedLocker locks a static set of sites
type fixedLocker struct {
	locked map[string]bool
}

func (l *fixedLocker) Locked(siteID string) bool { return l.locked[siteID] }

func newTestQueue(t *testing.T, siteIDs ...string) *Queue {
	manager := newTestStore(t, siteIDs...)
	registry := newTestRegistry(t, manager)
	reconciler := NewStatusReconciler(manager.TaskStorage(), arbor.NewLogger())
	queue := NewQueue(manager, registry, reconciler, arbor.NewLogger())
	require.NoError(t, queue.Initialize(context.Background()))
	return queue
}

func TestQueue_AddTaskWritesStoreFirst(t *testing.T) {
	queue := newTestQueue(t, "alpha")
	ctx := context.Background()

	task, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusReady, task.Status)
	assert.Contains(t, task.TaskID, "alpha-")
	assert.NotEmpty(t, task.SystemInfo["hostname"])
	assert.NotEmpty(t, task.SystemInfo["platform"])

	stored, err := queue.storage.TaskStorage().GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.TaskStatusReady, stored.Status)

	crawler, err := queue.storage.SiteStorage().GetCrawler(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, crawler.TotalTasks)
}

func TestQueue_AddTaskRejectsUnknownSite(t *testing.T) {
	queue := newTestQueue(t, "alpha")

	_, err := queue.AddTask(context.Background(), &models.TaskCreate{SiteID: "phantom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown site")
}

func TestQueue_AddTaskRejectsDisabledSite(t *testing.T) {
	queue := newTestQueue(t, "alpha")
	ctx := context.Background()

	disabled := models.NewDefaultCrawlerConfig("alpha")
	disabled.Enabled = false
	require.NoError(t, queue.storage.SiteStorage().SaveSetupParts(ctx, "alpha",
		&models.SiteSetupUpdate{NewCrawlerConfig: disabled}))

	_, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestQueue_GetNextTaskFIFO(t *testing.T) {
	queue := newTestQueue(t, "alpha", "beta")
	ctx := context.Background()

	first, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)
	second, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "beta"})
	require.NoError(t, err)

	next, err := queue.GetNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, first.TaskID, next.TaskID)
	assert.Equal(t, models.TaskStatusPending, next.Status)

	next, err = queue.GetNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, second.TaskID, next.TaskID)

	next, err = queue.GetNextTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestQueue_GetNextTaskHonorsSiteLock(t *testing.T) {
	queue := newTestQueue(t, "alpha", "beta")
	ctx := context.Background()

	blocked, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)
	free, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "beta"})
	require.NoError(t, err)

	queue.AttachLocker(&fixedLocker{locked: map[string]bool{"alpha": true}})

	// The locked site is skipped, not dropped
	next, err := queue.GetNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, free.TaskID, next.TaskID)

	queue.AttachLocker(&fixedLocker{locked: map[string]bool{}})
	next, err = queue.GetNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, blocked.TaskID, next.TaskID)
}

func TestQueue_PendingUnionSurvivesRestart(t *testing.T) {
	queue := newTestQueue(t, "alpha")
	ctx := context.Background()

	task, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)

	// A fresh queue over the same store rebuilds the FIFO from ready rows
	rebuilt := NewQueue(queue.storage, queue.registry, queue.reconciler, arbor.NewLogger())
	require.NoError(t, rebuilt.Initialize(ctx))

	pending, err := rebuilt.GetPendingTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, task.TaskID, pending[0].TaskID)

	next, err := rebuilt.GetNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, task.TaskID, next.TaskID)
}

func TestQueue_GetPendingTasksDeduplicates(t *testing.T) {
	queue := newTestQueue(t, "alpha")
	ctx := context.Background()

	task, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)

	pending, err := queue.GetPendingTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, task.TaskID, pending[0].TaskID)
}

func TestQueue_ClearPendingTasks(t *testing.T) {
	queue := newTestQueue(t, "alpha", "beta")
	ctx := context.Background()

	_, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)
	_, err = queue.AddTask(ctx, &models.TaskCreate{SiteID: "beta"})
	require.NoError(t, err)

	// Site-scoped clear cancels only that site's ready tasks, and the totals
	// count only tasks matching the filter
	result, err := queue.ClearPendingTasks(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ClearedCount)
	assert.Equal(t, 1, result.TotalReadyCount)

	pending, err := queue.GetPendingTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "beta", pending[0].SiteID)

	result, err = queue.ClearPendingTasks(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ClearedCount)
	assert.Equal(t, 1, result.TotalReadyCount)
}

func TestQueue_ClearPendingTasksSiteScopedCounts(t *testing.T) {
	queue := newTestQueue(t, "alpha", "beta")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "beta"})
		require.NoError(t, err)
	}

	result, err := queue.ClearPendingTasks(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 5, result.ClearedCount)
	assert.Equal(t, 5, result.TotalReadyCount)

	remaining, err := queue.GetPendingTasks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, remaining, 3)
}

func TestQueue_GetPendingTasksSiteFilter(t *testing.T) {
	queue := newTestQueue(t, "alpha", "beta")
	ctx := context.Background()

	_, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)
	_, err = queue.AddTask(ctx, &models.TaskCreate{SiteID: "beta"})
	require.NoError(t, err)

	pending, err := queue.GetPendingTasks(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alpha", pending[0].SiteID)

	pending, err = queue.GetPendingTasks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestQueue_CancelRemovesFromDispatch(t *testing.T) {
	queue := newTestQueue(t, "alpha")
	ctx := context.Background()

	task, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)

	cancelled, err := queue.CancelTask(ctx, task.TaskID, "operator request")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, cancelled.Status)

	next, err := queue.GetNextTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}
