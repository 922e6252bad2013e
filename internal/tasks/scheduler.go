package tasks

import (
	"context"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/sites"
)

// Scheduler admits periodic tasks on cron schedules: scrapes for every
// enabled site and daily check-ins for the sites settings opt in.
type Scheduler struct {
	config   common.SchedulerConfig
	queue    *Queue
	registry *sites.Registry
	settings SettingsSource
	logger   arbor.ILogger
	cron     *cron.Cron
}

// NewScheduler creates the periodic task scheduler
func NewScheduler(config common.SchedulerConfig, queue *Queue, registry *sites.Registry,
	settings SettingsSource, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		config:   config,
		queue:    queue,
		registry: registry,
		settings: settings,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start registers the cron entries and starts the scheduler. Disabled
// schedulers start nothing and Stop stays safe to call.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Debug().Msg("Task scheduler disabled")
		return nil
	}

	if s.config.ScrapeSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.ScrapeSchedule, func() {
			s.enqueueScrapes(ctx)
		}); err != nil {
			return err
		}
	}
	if s.config.CheckinSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.CheckinSchedule, func() {
			s.enqueueCheckins(ctx)
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info().
		Str("scrape", s.config.ScrapeSchedule).
		Str("checkin", s.config.CheckinSchedule).
		Msg("Task scheduler started")
	return nil
}

// Stop halts the cron runner, waiting for in-flight jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// enqueueScrapes admits one scrape task per enabled site. Tasks from the same
// run share a batch ID in their metadata.
func (s *Scheduler) enqueueScrapes(ctx context.Context) {
	available, err := s.registry.GetAvailableSites(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled scrape enumeration failed")
		return
	}

	batchID := uuid.NewString()
	admitted := 0
	for _, siteID := range available {
		if s.hasActiveTask(ctx, siteID) {
			continue
		}
		if _, err := s.queue.AddTask(ctx, &models.TaskCreate{
			SiteID:       siteID,
			TaskMetadata: map[string]interface{}{"trigger": "schedule", "batch_id": batchID},
		}); err != nil {
			s.logger.Warn().Err(err).Str("site_id", siteID).Msg("Scheduled scrape admission failed")
			continue
		}
		admitted++
	}
	s.logger.Info().Int("admitted", admitted).Str("batch_id", batchID).Msg("Scheduled scrape tasks admitted")
}

// enqueueCheckins admits check-in tasks for the opted-in sites
func (s *Scheduler) enqueueCheckins(ctx context.Context) {
	settings, err := s.settings.Current(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Cannot read settings for check-in schedule")
		return
	}
	if !settings.EnableCheckin || len(settings.CheckinSites) == 0 {
		return
	}

	batchID := uuid.NewString()
	admitted := 0
	for _, siteID := range settings.CheckinSites {
		if s.hasActiveTask(ctx, siteID) {
			continue
		}
		if _, err := s.queue.AddTask(ctx, &models.TaskCreate{
			SiteID:       siteID,
			TaskMetadata: map[string]interface{}{"trigger": "schedule", "checkin": true, "batch_id": batchID},
		}); err != nil {
			s.logger.Warn().Err(err).Str("site_id", siteID).Msg("Scheduled check-in admission failed")
			continue
		}
		admitted++
	}
	s.logger.Info().Int("admitted", admitted).Msg("Scheduled check-in tasks admitted")
}

// hasActiveTask reports whether a site already has a task in flight, so a
// schedule tick does not stack duplicates behind a slow worker.
func (s *Scheduler) hasActiveTask(ctx context.Context, siteID string) bool {
	active, err := s.queue.storage.TaskStorage().ListTasks(ctx, &interfaces.TaskListOptions{
		SiteID: siteID,
		Status: "ready,pending,running",
		Limit:  1,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("site_id", siteID).Msg("Active task lookup failed")
		return false
	}
	return len(active) > 0
}
