package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/models"
)

// SettingsSource exposes the live settings row to the supervisor
type SettingsSource interface {
	Current(ctx context.Context) (*models.Settings, error)
}

// CommandBuilder builds the worker command for a task. Swappable in tests.
type CommandBuilder func(binary string, task *models.Task) *exec.Cmd

// workerHandle tracks one spawned worker process
type workerHandle struct {
	taskID    string
	siteID    string
	cmd       *exec.Cmd
	pid       int
	startTime time.Time
	done      chan struct{}
	exitErr   error
}

// Supervisor spawns worker processes for dispatched tasks and polices their
// lifetime. It owns the per-site lock table: one worker per site, a global
// cap from settings.
type Supervisor struct {
	config       common.SupervisorConfig
	queue        *Queue
	reconciler   *StatusReconciler
	settings     SettingsSource
	logger       arbor.ILogger
	storagePath  string
	buildCommand CommandBuilder
	limiter      *rate.Limiter

	mu           sync.Mutex
	running      map[string]*workerHandle // keyed by task ID
	runningSites map[string]string        // site ID -> task ID

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor. storagePath is the root for task error
// dumps.
func NewSupervisor(config common.SupervisorConfig, queue *Queue, reconciler *StatusReconciler,
	settings SettingsSource, storagePath string, logger arbor.ILogger) *Supervisor {

	spawnRate := config.SpawnsPerSec
	if spawnRate <= 0 {
		spawnRate = 2
	}

	s := &Supervisor{
		config:       config,
		queue:        queue,
		reconciler:   reconciler,
		settings:     settings,
		logger:       logger,
		storagePath:  storagePath,
		buildCommand: defaultCommandBuilder,
		limiter:      rate.NewLimiter(rate.Limit(spawnRate), 1),
		running:      make(map[string]*workerHandle),
		runningSites: make(map[string]string),
		stopCh:       make(chan struct{}),
	}
	queue.AttachLocker(s)
	return s
}

// SetCommandBuilder overrides how worker commands are built
func (s *Supervisor) SetCommandBuilder(builder CommandBuilder) {
	s.buildCommand = builder
}

// Locked reports whether a site has a running worker
func (s *Supervisor) Locked(siteID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, locked := s.runningSites[siteID]
	return locked
}

// RunningCount reports the number of live workers
func (s *Supervisor) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Start runs the supervision loop until the context is cancelled or Cleanup
// is called.
func (s *Supervisor) Start(ctx context.Context) {
	tick := s.config.TickInterval
	if tick <= 0 {
		tick = 5 * time.Second
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// tick reaps finished workers, kills overruns and fills free slots
func (s *Supervisor) tick(ctx context.Context) {
	s.reapFinished(ctx)
	s.killTimedOut(ctx)
	if err := s.StartCrawlerTasks(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to start crawler tasks")
	}
}

// StartCrawlerTasks pulls dispatchable tasks from the queue and spawns
// workers until the concurrency cap is reached or the queue runs dry. A task
// whose spawn fails is not retried within the same pass; it goes back to the
// queue for the next tick so one broken binary cannot wedge the loop.
func (s *Supervisor) StartCrawlerTasks(ctx context.Context) error {
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return err
	}

	var failed []string
	defer func() {
		for _, taskID := range failed {
			s.requeue(taskID)
		}
	}()

	for {
		s.mu.Lock()
		slots := settings.CrawlerMaxConcurrency - len(s.running)
		s.mu.Unlock()
		if slots <= 0 {
			return nil
		}

		task, err := s.queue.GetNextTask(ctx)
		if err != nil {
			return err
		}
		if task == nil {
			return nil
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.spawn(ctx, task); err != nil {
			s.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to spawn worker")
			failed = append(failed, task.TaskID)
		}
	}
}

// spawn starts a worker for one pending task
func (s *Supervisor) spawn(ctx context.Context, task *models.Task) error {
	binary := s.config.WorkerBinary
	if binary == "" {
		binary = defaultWorkerBinary()
	}

	cmd := s.buildCommand(binary, task)
	setProcAttributes(cmd)

	if err := cmd.Start(); err != nil {
		// The task reverts to ready; the caller requeues it for the next tick
		if _, uerr := s.reconciler.UpdateTaskStatus(ctx, task.TaskID, models.TaskStatusReady,
			fmt.Sprintf("failed to start worker: %v", err), nil, nil); uerr != nil {
			s.logger.Error().Err(uerr).Str("task_id", task.TaskID).Msg("Failed to record spawn failure")
		}
		return err
	}

	handle := &workerHandle{
		taskID:    task.TaskID,
		siteID:    task.SiteID,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.running[task.TaskID] = handle
	s.runningSites[task.SiteID] = task.TaskID
	s.mu.Unlock()

	go func() {
		handle.exitErr = cmd.Wait()
		close(handle.done)
	}()

	if _, err := s.reconciler.UpdateTaskStatus(ctx, task.TaskID, models.TaskStatusRunning, "",
		nil, map[string]interface{}{"pid": handle.pid}); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to record running status")
	}

	s.logger.Info().
		Str("task_id", task.TaskID).
		Str("site_id", task.SiteID).
		Int("pid", handle.pid).
		Msg("Worker started")
	return nil
}

// reapFinished classifies exited workers and releases their site locks
func (s *Supervisor) reapFinished(ctx context.Context) {
	s.mu.Lock()
	finished := make([]*workerHandle, 0)
	for _, handle := range s.running {
		select {
		case <-handle.done:
			finished = append(finished, handle)
		default:
		}
	}
	for _, handle := range finished {
		delete(s.running, handle.taskID)
		delete(s.runningSites, handle.siteID)
	}
	s.mu.Unlock()

	for _, handle := range finished {
		s.classifyExit(ctx, handle)
	}
}

// classifyExit records the terminal status for an exited worker. A clean exit
// reads as success; if the worker already reported failed through the ingest
// API, the reconciler's monotone-terminal rule keeps that verdict.
func (s *Supervisor) classifyExit(ctx context.Context, handle *workerHandle) {
	elapsed := int(time.Since(handle.startTime).Seconds())

	if handle.exitErr == nil {
		if _, err := s.reconciler.UpdateTaskStatus(ctx, handle.taskID, models.TaskStatusSuccess,
			"", nil, nil); err != nil {
			s.logger.Error().Err(err).Str("task_id", handle.taskID).Msg("Failed to record worker success")
		}
		s.logger.Info().
			Str("task_id", handle.taskID).
			Int("elapsed_s", elapsed).
			Msg("Worker exited cleanly")
		return
	}

	exitCode := -1
	if exitErr, ok := handle.exitErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	msg := fmt.Sprintf("exit code %d (%ds)", exitCode, elapsed)

	task, err := s.reconciler.UpdateTaskStatus(ctx, handle.taskID, models.TaskStatusFailed, msg,
		map[string]interface{}{"exit_code": exitCode, "elapsed_s": elapsed}, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", handle.taskID).Msg("Failed to record worker failure")
		return
	}
	s.writeErrorDump(task)

	s.logger.Warn().
		Str("task_id", handle.taskID).
		Str("site_id", handle.siteID).
		Int("exit_code", exitCode).
		Int("elapsed_s", elapsed).
		Msg("Worker failed")
}

// killTimedOut kills workers that exceeded the task timeout from settings
func (s *Supervisor) killTimedOut(ctx context.Context) {
	settings, err := s.settings.Current(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Cannot read settings for timeout enforcement")
		return
	}
	timeout := time.Duration(settings.TaskTimeout) * time.Second
	if timeout <= 0 {
		return
	}

	s.mu.Lock()
	overran := make([]*workerHandle, 0)
	for _, handle := range s.running {
		if time.Since(handle.startTime) > timeout {
			overran = append(overran, handle)
		}
	}
	for _, handle := range overran {
		delete(s.running, handle.taskID)
		delete(s.runningSites, handle.siteID)
	}
	s.mu.Unlock()

	for _, handle := range overran {
		elapsed := int(time.Since(handle.startTime).Seconds())
		s.terminate(handle)

		msg := fmt.Sprintf("timeout (%ds)", elapsed)
		task, err := s.reconciler.UpdateTaskStatus(ctx, handle.taskID, models.TaskStatusFailed, msg,
			map[string]interface{}{"timeout_s": settings.TaskTimeout, "elapsed_s": elapsed}, nil)
		if err != nil {
			s.logger.Error().Err(err).Str("task_id", handle.taskID).Msg("Failed to record timeout")
			continue
		}
		s.writeErrorDump(task)

		s.logger.Warn().
			Str("task_id", handle.taskID).
			Str("site_id", handle.siteID).
			Int("elapsed_s", elapsed).
			Msg("Worker killed on timeout")
	}
}

// CleanupTask stops the worker for one task and cancels it. Unknown or
// already-finished tasks cancel without a kill.
func (s *Supervisor) CleanupTask(ctx context.Context, taskID string) (*models.Task, error) {
	s.mu.Lock()
	handle, isRunning := s.running[taskID]
	if isRunning {
		delete(s.running, taskID)
		delete(s.runningSites, handle.siteID)
	}
	s.mu.Unlock()

	if isRunning {
		s.terminate(handle)
		s.logger.Info().Str("task_id", taskID).Int("pid", handle.pid).Msg("Worker stopped on request")
	}

	return s.queue.CancelTask(ctx, taskID, "cancelled by operator")
}

// Cleanup stops the supervision loop and every worker, then clears the queue
// cache. Shutdown order is tasks first, queue second, store last; the caller
// closes the store.
func (s *Supervisor) Cleanup(ctx context.Context) {
	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	handles := make([]*workerHandle, 0, len(s.running))
	for _, handle := range s.running {
		handles = append(handles, handle)
	}
	s.running = make(map[string]*workerHandle)
	s.runningSites = make(map[string]string)
	s.mu.Unlock()

	for _, handle := range handles {
		s.terminate(handle)
		if _, err := s.reconciler.UpdateTaskStatus(ctx, handle.taskID, models.TaskStatusCancelled,
			"controller shutdown", nil, nil); err != nil {
			s.logger.Warn().Err(err).Str("task_id", handle.taskID).Msg("Failed to cancel task on shutdown")
		}
	}

	s.queue.Cleanup()
	s.logger.Info().Int("stopped", len(handles)).Msg("Supervisor stopped")
}

// terminate asks a worker to exit, escalating to a hard kill after the grace
// period.
func (s *Supervisor) terminate(handle *workerHandle) {
	grace := s.config.KillGraceWait
	if grace <= 0 {
		grace = 5 * time.Second
	}

	requestStop(handle.cmd)

	select {
	case <-handle.done:
		return
	case <-time.After(grace):
	}

	forceKill(handle.cmd)
	<-handle.done
}

// writeErrorDump snapshots a failed task to the storage tree for postmortems
func (s *Supervisor) writeErrorDump(task *models.Task) {
	if task == nil || s.storagePath == "" {
		return
	}

	dir := filepath.Join(s.storagePath, "tasks", task.SiteID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("Cannot create error dump directory")
		return
	}

	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("error_%s.json", task.TaskID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("Cannot write error dump")
		return
	}
	s.logger.Debug().Str("task_id", task.TaskID).Str("path", path).Msg("Error dump written")
}

// requeue puts a task back at the end of the queue cache
func (s *Supervisor) requeue(taskID string) {
	s.queue.mu.Lock()
	s.queue.fifo = append(s.queue.fifo, taskID)
	s.queue.mu.Unlock()
}

// defaultCommandBuilder builds the production worker invocation
func defaultCommandBuilder(binary string, task *models.Task) *exec.Cmd {
	return exec.Command(binary, "--site_id", task.SiteID, "--task_id", task.TaskID)
}

// defaultWorkerBinary resolves warden-worker next to the controller binary
func defaultWorkerBinary() string {
	executable, err := os.Executable()
	if err != nil {
		return "warden-worker"
	}
	return filepath.Join(filepath.Dir(executable), "warden-worker")
}
