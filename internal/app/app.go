package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/handlers"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/results"
	"github.com/wardenhq/warden/internal/settings"
	"github.com/wardenhq/warden/internal/sites"
	"github.com/wardenhq/warden/internal/state"
	"github.com/wardenhq/warden/internal/storage/sqlite"
	"github.com/wardenhq/warden/internal/tasks"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager interfaces.StorageManager

	// Core services
	SettingsService *settings.Service
	SiteRegistry    *sites.Registry
	StateService    *state.Service
	ResultService   *results.Service
	Reconciler      *tasks.StatusReconciler
	Queue           *tasks.Queue
	Supervisor      *tasks.Supervisor
	Scheduler       *tasks.Scheduler

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	TaskHandler     *handlers.TaskHandler
	QueueHandler    *handlers.QueueHandler
	SiteHandler     *handlers.SiteHandler
	SettingsHandler *handlers.SettingsHandler
}

// New wires the full controller: store, services, supervisor, handlers.
// Construction fails loudly on misconfiguration; nothing initializes lazily
// except the settings row itself.
func New(config *common.Config) (*App, error) {
	logger := common.GetLogger()
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		Config:    config,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	storageManager, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.SettingsService = settings.NewService(storageManager.SettingsStorage(), logger)
	a.StateService = state.NewService(storageManager.StateStorage(), logger)
	a.ResultService = results.NewService(storageManager.ResultStorage(), storageManager.TaskStorage(), logger)

	a.SiteRegistry = sites.NewRegistry(storageManager, logger,
		config.Paths.CrawlerConfig, config.Paths.CrawlerCredential)
	if err := a.SiteRegistry.Initialize(ctx); err != nil {
		storageManager.Close()
		cancel()
		return nil, fmt.Errorf("failed to initialize site registry: %w", err)
	}

	a.Reconciler = tasks.NewStatusReconciler(storageManager.TaskStorage(), logger)
	a.Queue = tasks.NewQueue(storageManager, a.SiteRegistry, a.Reconciler, logger)
	if err := a.Queue.Initialize(ctx); err != nil {
		storageManager.Close()
		cancel()
		return nil, fmt.Errorf("failed to initialize task queue: %w", err)
	}

	a.Supervisor = tasks.NewSupervisor(config.Supervisor, a.Queue, a.Reconciler,
		a.SettingsService, config.Paths.Storage, logger)
	a.Scheduler = tasks.NewScheduler(config.Scheduler, a.Queue, a.SiteRegistry,
		a.SettingsService, logger)

	// Workers inherit these through the process environment
	os.Setenv("WARDEN_LOG_DIR", a.LogDir())
	os.Setenv("WARDEN_API_URL", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port))

	a.APIHandler = handlers.NewAPIHandler()
	a.TaskHandler = handlers.NewTaskHandler(a.Queue, a.Supervisor, a.Reconciler,
		a.ResultService, storageManager.TaskStorage())
	a.QueueHandler = handlers.NewQueueHandler(a.Queue, a.Supervisor, a.SiteRegistry)
	a.SiteHandler = handlers.NewSiteHandler(a.SiteRegistry, a.StateService)
	a.SettingsHandler = handlers.NewSettingsHandler(a.SettingsService)

	logger.Info().
		Str("db", config.Storage.SQLite.Path).
		Str("seeds", config.Paths.CrawlerConfig).
		Msg("Application wired")
	return a, nil
}

// Start launches the background loops: supervisor ticks and, when enabled,
// the cron scheduler.
func (a *App) Start() error {
	a.Supervisor.Start(a.ctx)
	if err := a.Scheduler.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.Logger.Info().Msg("Background services started")
	return nil
}

// Shutdown stops everything in dependency order: supervisor first so workers
// die before the queue clears, store last.
func (a *App) Shutdown() {
	a.Logger.Info().Msg("Shutting down application")

	a.Scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.Supervisor.Cleanup(shutdownCtx)

	a.cancelCtx()

	if err := a.StorageManager.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Storage close failed")
	}
	a.Logger.Info().Msg("Application stopped")
}

// LogDir resolves the log directory consumed by workers
func (a *App) LogDir() string {
	if a.Config.Logging.Dir != "" {
		return a.Config.Logging.Dir
	}
	return filepath.Join(a.Config.Paths.AppRoot, "logs")
}
