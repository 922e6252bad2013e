package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/sites"
	"github.com/wardenhq/warden/internal/storage/sqlite"
)

// newTestStore opens a temp-file store with one enabled site seeded
func newTestStore(t *testing.T, siteIDs ...string) interfaces.StorageManager {
	config := &common.SQLiteConfig{
		Path:          t.TempDir() + "/test.db",
		CacheSizeMB:   10,
		WALMode:       false,
		BusyTimeoutMS: 5000,
	}
	manager, err := sqlite.NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	ctx := context.Background()
	for _, siteID := range siteIDs {
		require.NoError(t, manager.SiteStorage().SaveSetupParts(ctx, siteID, &models.SiteSetupUpdate{
			NewSiteConfig:    &models.SiteConfig{SiteURL: "https://" + siteID + ".example.org"},
			NewCrawlerConfig: models.NewDefaultCrawlerConfig(siteID),
		}))
	}
	return manager
}

// newTestRegistry builds a registry with no seed directories
func newTestRegistry(t *testing.T, manager interfaces.StorageManager) *sites.Registry {
	registry := sites.NewRegistry(manager, arbor.NewLogger(), "", "")
	require.NoError(t, registry.Initialize(context.Background()))
	return registry
}

func insertReadyTask(t *testing.T, manager interfaces.StorageManager, taskID, siteID string) *models.Task {
	task := models.NewTask(taskID, siteID, nil)
	require.NoError(t, manager.TaskStorage().InsertTask(context.Background(), task))
	return task
}

func TestReconciler_BasicTransition(t *testing.T) {
	manager := newTestStore(t, "alpha")
	reconciler := NewStatusReconciler(manager.TaskStorage(), arbor.NewLogger())
	ctx := context.Background()

	insertReadyTask(t, manager, "t1", "alpha")

	task, err := reconciler.UpdateTaskStatus(ctx, "t1", models.TaskStatusPending, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Nil(t, task.CompletedAt)

	task, err = reconciler.UpdateTaskStatus(ctx, "t1", models.TaskStatusSuccess, "done", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, task.Status)
	assert.Equal(t, "done", task.Msg)
	require.NotNil(t, task.CompletedAt)
}

func TestReconciler_TerminalIsMonotone(t *testing.T) {
	manager := newTestStore(t, "alpha")
	reconciler := NewStatusReconciler(manager.TaskStorage(), arbor.NewLogger())
	ctx := context.Background()

	insertReadyTask(t, manager, "t1", "alpha")

	_, err := reconciler.UpdateTaskStatus(ctx, "t1", models.TaskStatusFailed, "worker said no", nil, nil)
	require.NoError(t, err)

	// A later success verdict must not overwrite the failure
	task, err := reconciler.UpdateTaskStatus(ctx, "t1", models.TaskStatusSuccess, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, "worker said no", task.Msg)

	// Re-entering the same terminal state is a quiet no-op
	task, err = reconciler.UpdateTaskStatus(ctx, "t1", models.TaskStatusFailed, "again", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "worker said no", task.Msg)
}

func TestReconciler_MetadataShallowMerge(t *testing.T) {
	manager := newTestStore(t, "alpha")
	reconciler := NewStatusReconciler(manager.TaskStorage(), arbor.NewLogger())
	ctx := context.Background()

	task := models.NewTask("t1", "alpha", map[string]interface{}{
		"trigger": "manual",
		"retries": float64(0),
	})
	require.NoError(t, manager.TaskStorage().InsertTask(ctx, task))

	_, err := reconciler.UpdateTaskStatus(ctx, "t1", models.TaskStatusRunning, "", nil,
		map[string]interface{}{"pid": float64(4242), "retries": float64(1)})
	require.NoError(t, err)

	loaded, err := manager.TaskStorage().GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "manual", loaded.TaskMetadata["trigger"])
	assert.Equal(t, float64(4242), loaded.TaskMetadata["pid"])
	assert.Equal(t, float64(1), loaded.TaskMetadata["retries"])
}

func TestReconciler_UnknownTaskReadsReady(t *testing.T) {
	manager := newTestStore(t)
	reconciler := NewStatusReconciler(manager.TaskStorage(), arbor.NewLogger())

	status, err := reconciler.GetTaskStatus(context.Background(), "never-created")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusReady, status)
}

func TestReconciler_RejectsUnknownStatus(t *testing.T) {
	manager := newTestStore(t, "alpha")
	reconciler := NewStatusReconciler(manager.TaskStorage(), arbor.NewLogger())

	insertReadyTask(t, manager, "t1", "alpha")

	_, err := reconciler.UpdateTaskStatus(context.Background(), "t1", models.TaskStatus("sideways"), "", nil, nil)
	assert.Error(t, err)
}
