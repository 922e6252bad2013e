package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/wardenhq/warden/internal/models"
)

var (
	siteID  = flag.String("site_id", "", "Site to scrape (required)")
	taskID  = flag.String("task_id", "", "Task this run belongs to (required)")
	apiURL  = flag.String("api", "", "Controller base URL (default http://localhost:8080 or WARDEN_API_URL)")
	timeout = flag.Duration("timeout", 0, "Overall run timeout (0 uses the controller's task_timeout)")
)

func main() {
	flag.Parse()

	if *siteID == "" || *taskID == "" {
		fmt.Fprintln(os.Stderr, "warden-worker: --site_id and --task_id are required")
		os.Exit(2)
	}

	logger := newWorkerLogger(*taskID)

	base := *apiURL
	if base == "" {
		base = os.Getenv("WARDEN_API_URL")
	}
	if base == "" {
		base = "http://localhost:8080"
	}
	client := newControllerClient(base)

	if err := run(client, logger); err != nil {
		logger.Error().Err(err).Str("task_id", *taskID).Msg("Worker run failed")

		reportCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if rerr := client.ReportStatus(reportCtx, *taskID, models.TaskStatusFailed, err.Error(),
			map[string]interface{}{"worker_error": err.Error()}); rerr != nil {
			logger.Warn().Err(rerr).Msg("Could not report failure to controller")
		}
		os.Exit(1)
	}

	logger.Info().Str("task_id", *taskID).Msg("Worker run complete")
}

func run(client *controllerClient, logger arbor.ILogger) error {
	setupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	settings, err := client.GetSettings(setupCtx)
	if err != nil {
		return fmt.Errorf("failed to fetch settings: %w", err)
	}
	setup, err := client.GetSiteSetup(setupCtx, *siteID)
	if err != nil {
		return fmt.Errorf("failed to fetch site setup: %w", err)
	}
	if !setup.Enabled() {
		return fmt.Errorf("site %s is disabled", *siteID)
	}

	runTimeout := *timeout
	if runTimeout == 0 {
		runTimeout = time.Duration(settings.TaskTimeout) * time.Second
	}
	if runTimeout == 0 {
		runTimeout = 240 * time.Second
	}
	ctx, cancelRun := context.WithTimeout(context.Background(), runTimeout)
	defer cancelRun()

	logger.Info().
		Str("site_id", *siteID).
		Str("task_id", *taskID).
		Dur("timeout", runTimeout).
		Msg("Starting scrape")

	session := &scrapeSession{setup: setup, settings: settings}
	values, state, err := session.run(ctx)
	if err != nil {
		return err
	}

	reportCtx, cancelReport := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelReport()

	if err := client.SaveBrowserState(reportCtx, *siteID, state); err != nil {
		// Result is the primary output, a state save failure only warns
		logger.Warn().Err(err).Msg("Could not persist browser state")
	}

	result := buildResult(*taskID, *siteID, values)
	if err := client.SaveResult(reportCtx, result); err != nil {
		return fmt.Errorf("failed to persist result: %w", err)
	}

	logger.Info().
		Int64("upload", result.Upload).
		Int64("download", result.Download).
		Msg("Result persisted")
	return nil
}

// newWorkerLogger writes to the console plus the controller log tree when the
// environment carries a log dir.
func newWorkerLogger(taskID string) arbor.ILogger {
	logger := arbor.NewLogger().WithConsoleWriter(arbormodels.WriterConfiguration{
		Type:             arbormodels.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	})

	if logDir := os.Getenv("WARDEN_LOG_DIR"); logDir != "" {
		dir := filepath.Join(logDir, "logs")
		if err := os.MkdirAll(dir, 0755); err == nil {
			logger = logger.WithFileWriter(arbormodels.WriterConfiguration{
				Type:       arbormodels.LogWriterTypeFile,
				FileName:   filepath.Join(dir, fmt.Sprintf("worker_%s.log", taskID)),
				TimeFormat: "15:04:05",
				MaxSize:    10 * 1024 * 1024,
				MaxBackups: 2,
				TextOutput: true,
			})
		}
	}

	if level := os.Getenv("WARDEN_LOG_LEVEL"); level != "" {
		logger = logger.WithLevelFromString(level)
	}
	return logger
}
