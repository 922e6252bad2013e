//go:build !windows

package tasks

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/models"
)

// stubCommand substitutes a shell snippet for the worker binary
func stubCommand(script string) CommandBuilder {
	return func(binary string, task *models.Task) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	}
}

func newTestSupervisor(t *testing.T, queue *Queue, maxConcurrency, timeoutSec int) *Supervisor {
	config := common.SupervisorConfig{
		TickInterval:  time.Second,
		SpawnsPerSec:  100,
		KillGraceWait: 200 * time.Millisecond,
	}
	settings := &stubSettings{settings: models.Settings{
		CrawlerMaxConcurrency: maxConcurrency,
		TaskTimeout:           timeoutSec,
	}}
	return NewSupervisor(config, queue, queue.reconciler, settings, t.TempDir(), arbor.NewLogger())
}

// waitForTerminal polls the reconciler view until the task settles
func waitForTerminal(t *testing.T, supervisor *Supervisor, taskID string, within time.Duration) *models.Task {
	ctx := context.Background()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		supervisor.reapFinished(ctx)
		task, err := supervisor.reconciler.GetTask(ctx, taskID)
		require.NoError(t, err)
		if task != nil && task.Status.IsTerminal() {
			return task
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state within %s", taskID, within)
	return nil
}

func TestSupervisor_CleanExitReadsSuccess(t *testing.T) {
	queue := newTestQueue(t, "alpha")
	supervisor := newTestSupervisor(t, queue, 4, 60)
	supervisor.SetCommandBuilder(stubCommand("exit 0"))
	ctx := context.Background()

	task, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)

	require.NoError(t, supervisor.StartCrawlerTasks(ctx))

	running, err := supervisor.reconciler.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.NotNil(t, running.TaskMetadata["pid"])

	done := waitForTerminal(t, supervisor, task.TaskID, 3*time.Second)
	assert.Equal(t, models.TaskStatusSuccess, done.Status)
	assert.Equal(t, 0, supervisor.RunningCount())
	assert.False(t, supervisor.Locked("alpha"))
}

func TestSupervisor_NonZeroExitReadsFailed(t *testing.T) {
	queue := newTestQueue(t, "alpha")
	supervisor := newTestSupervisor(t, queue, 4, 60)
	supervisor.SetCommandBuilder(stubCommand("exit 3"))
	ctx := context.Background()

	task, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)
	require.NoError(t, supervisor.StartCrawlerTasks(ctx))

	done := waitForTerminal(t, supervisor, task.TaskID, 3*time.Second)
	assert.Equal(t, models.TaskStatusFailed, done.Status)
	assert.Contains(t, done.Msg, "exit code 3")
	assert.Equal(t, float64(3), done.ErrorDetails["exit_code"])
}

func TestSupervisor_WorkerFailureKeepsWorkerVerdict(t *testing.T) {
	queue := newTestQueue(t, "alpha")
	supervisor := newTestSupervisor(t, queue, 4, 60)
	supervisor.SetCommandBuilder(stubCommand("exit 0"))
	ctx := context.Background()

	task, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)
	require.NoError(t, supervisor.StartCrawlerTasks(ctx))

	// The worker reports FAILED through the callback path before exiting 0
	_, err = supervisor.reconciler.UpdateTaskStatus(ctx, task.TaskID, models.TaskStatusFailed,
		"login rejected", nil, nil)
	require.NoError(t, err)

	done := waitForTerminal(t, supervisor, task.TaskID, 3*time.Second)
	assert.Equal(t, models.TaskStatusFailed, done.Status)
	assert.Equal(t, "login rejected", done.Msg)
}

func TestSupervisor_TimeoutKillsWorker(t *testing.T) {
	queue := newTestQueue(t, "alpha")
	supervisor := newTestSupervisor(t, queue, 4, 1)
	supervisor.SetCommandBuilder(stubCommand("sleep 30"))
	ctx := context.Background()

	task, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)
	require.NoError(t, supervisor.StartCrawlerTasks(ctx))
	require.Equal(t, 1, supervisor.RunningCount())

	time.Sleep(1100 * time.Millisecond)
	supervisor.killTimedOut(ctx)

	done, err := supervisor.reconciler.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, done.Status)
	assert.Contains(t, done.Msg, "timeout")
	assert.Equal(t, 0, supervisor.RunningCount())

	// The failure leaves a dump file for postmortems
	dump := filepath.Join(supervisor.storagePath, "tasks", "alpha",
		"error_"+task.TaskID+".json")
	_, statErr := os.Stat(dump)
	assert.NoError(t, statErr)
}

func TestSupervisor_SpawnFailureDefersToNextTick(t *testing.T) {
	queue := newTestQueue(t, "alpha")
	supervisor := newTestSupervisor(t, queue, 4, 60)
	supervisor.SetCommandBuilder(func(binary string, task *models.Task) *exec.Cmd {
		return exec.Command("/nonexistent/worker/binary")
	})
	ctx := context.Background()

	task, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)

	// A persistently failing spawn must not spin the pass forever
	passDone := make(chan error, 1)
	go func() { passDone <- supervisor.StartCrawlerTasks(ctx) }()
	select {
	case err := <-passDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StartCrawlerTasks did not return with a failing spawn")
	}

	// The task stays ready and is queued again for the next tick
	stored, err := supervisor.reconciler.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusReady, stored.Status)
	assert.Contains(t, stored.Msg, "failed to start worker")
	assert.Equal(t, 0, supervisor.RunningCount())

	pending, err := queue.GetPendingTasks(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, task.TaskID, pending[0].TaskID)

	// A later pass with a working binary picks it up
	supervisor.SetCommandBuilder(stubCommand("exit 0"))
	require.NoError(t, supervisor.StartCrawlerTasks(ctx))
	done := waitForTerminal(t, supervisor, task.TaskID, 3*time.Second)
	assert.Equal(t, models.TaskStatusSuccess, done.Status)
}

func TestSupervisor_PerSiteExclusion(t *testing.T) {
	queue := newTestQueue(t, "alpha")
	supervisor := newTestSupervisor(t, queue, 4, 60)
	supervisor.SetCommandBuilder(stubCommand("sleep 30"))
	ctx := context.Background()

	_, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)
	second, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)

	require.NoError(t, supervisor.StartCrawlerTasks(ctx))

	// One worker per site: the second task stays queued
	assert.Equal(t, 1, supervisor.RunningCount())
	assert.True(t, supervisor.Locked("alpha"))

	stored, err := supervisor.reconciler.GetTask(ctx, second.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusReady, stored.Status)

	supervisor.Cleanup(ctx)
}

func TestSupervisor_GlobalConcurrencyCap(t *testing.T) {
	queue := newTestQueue(t, "alpha", "beta", "gamma")
	supervisor := newTestSupervisor(t, queue, 2, 60)
	supervisor.SetCommandBuilder(stubCommand("sleep 30"))
	ctx := context.Background()

	for _, siteID := range []string{"alpha", "beta", "gamma"} {
		_, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: siteID})
		require.NoError(t, err)
	}

	require.NoError(t, supervisor.StartCrawlerTasks(ctx))
	assert.Equal(t, 2, supervisor.RunningCount())

	supervisor.Cleanup(ctx)
}

func TestSupervisor_CleanupTaskStopsWorker(t *testing.T) {
	queue := newTestQueue(t, "alpha")
	supervisor := newTestSupervisor(t, queue, 4, 60)
	supervisor.SetCommandBuilder(stubCommand("sleep 30"))
	ctx := context.Background()

	task, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)
	require.NoError(t, supervisor.StartCrawlerTasks(ctx))
	require.Equal(t, 1, supervisor.RunningCount())

	cancelled, err := supervisor.CleanupTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, cancelled.Status)
	assert.Equal(t, 0, supervisor.RunningCount())
	assert.False(t, supervisor.Locked("alpha"))
}

func TestSupervisor_CleanupCancelsEverything(t *testing.T) {
	queue := newTestQueue(t, "alpha", "beta")
	supervisor := newTestSupervisor(t, queue, 4, 60)
	supervisor.SetCommandBuilder(stubCommand("sleep 30"))
	ctx := context.Background()

	first, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)
	second, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "beta"})
	require.NoError(t, err)

	require.NoError(t, supervisor.StartCrawlerTasks(ctx))
	require.Equal(t, 2, supervisor.RunningCount())

	supervisor.Cleanup(ctx)

	for _, taskID := range []string{first.TaskID, second.TaskID} {
		task, err := supervisor.reconciler.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCancelled, task.Status)
	}
	assert.Equal(t, 0, supervisor.RunningCount())
}
