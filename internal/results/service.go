package results

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
)

// Service ingests scrape results and check-in reports from workers. Every
// row must belong to a known task; orphan reports are rejected.
type Service struct {
	results  interfaces.ResultStorage
	tasks    interfaces.TaskStorage
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewService creates the result ingest service
func NewService(results interfaces.ResultStorage, tasks interfaces.TaskStorage, logger arbor.ILogger) *Service {
	return &Service{
		results:  results,
		tasks:    tasks,
		logger:   logger,
		validate: validator.New(),
	}
}

// SaveResult stores a scrape result. The ratio is derived from the byte
// counters when the worker omits it; zero download yields the sentinel.
func (s *Service) SaveResult(ctx context.Context, create *models.ResultCreate) (*models.Result, error) {
	if err := s.validate.Struct(create); err != nil {
		return nil, fmt.Errorf("invalid result payload: %w", err)
	}

	task, err := s.tasks.GetTask(ctx, create.TaskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %s not found", create.TaskID)
	}
	if task.SiteID != create.SiteID {
		return nil, fmt.Errorf("task %s belongs to site %s, not %s", create.TaskID, task.SiteID, create.SiteID)
	}

	result := &models.Result{
		TaskID:       create.TaskID,
		SiteID:       create.SiteID,
		Username:     create.Username,
		UserClass:    create.UserClass,
		UID:          create.UID,
		JoinTime:     create.JoinTime,
		LastActive:   create.LastActive,
		Upload:       create.Upload,
		Download:     create.Download,
		Bonus:        create.Bonus,
		SeedingCount: create.SeedingCount,
		SeedingSize:  create.SeedingSize,
		CreatedAt:    time.Now(),
	}
	if create.Ratio != nil {
		result.Ratio = *create.Ratio
	} else {
		result.Ratio = result.DerivedRatio()
	}

	if err := s.results.InsertResult(ctx, result); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("task_id", result.TaskID).
		Str("site_id", result.SiteID).
		Msg("Scrape result stored")
	return result, nil
}

// GetResult retrieves the result for a task. Returns (nil, nil) when absent.
func (s *Service) GetResult(ctx context.Context, taskID string) (*models.Result, error) {
	return s.results.GetResult(ctx, taskID)
}

// LatestResult retrieves the newest result for a site
func (s *Service) LatestResult(ctx context.Context, siteID string) (*models.Result, error) {
	return s.results.LatestResult(ctx, siteID)
}

// ResultsInRange lists a site's results within [start, end)
func (s *Service) ResultsInRange(ctx context.Context, siteID string, start, end time.Time) ([]*models.Result, error) {
	return s.results.ResultsInRange(ctx, siteID, start, end)
}

// SaveCheckinResult records a check-in report verbatim. "already" counts as a
// completed check-in for the day; the check-in date is the local midnight of
// the report time.
func (s *Service) SaveCheckinResult(ctx context.Context, taskID, siteID string, outcome models.CheckinOutcome) (*models.CheckInResult, error) {
	switch outcome {
	case models.CheckinSuccess, models.CheckinAlready, models.CheckinFailed, models.CheckinNotSet:
	default:
		return nil, fmt.Errorf("unknown check-in outcome %q", outcome)
	}

	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	if task.SiteID != siteID {
		return nil, fmt.Errorf("task %s belongs to site %s, not %s", taskID, task.SiteID, siteID)
	}

	now := time.Now()
	checkin := &models.CheckInResult{
		TaskID:      taskID,
		SiteID:      siteID,
		Result:      outcome,
		CheckinDate: models.MidnightOf(now),
		LastRunAt:   now,
	}

	if err := s.results.InsertCheckin(ctx, checkin); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("task_id", taskID).
		Str("site_id", siteID).
		Str("result", string(outcome)).
		Msg("Check-in result stored")
	return checkin, nil
}

// LatestCheckin retrieves the newest check-in row for a site
func (s *Service) LatestCheckin(ctx context.Context, siteID string) (*models.CheckInResult, error) {
	return s.results.LatestCheckin(ctx, siteID)
}

// CheckedInToday reports whether the site already has a successful check-in
// for the local day containing at.
func (s *Service) CheckedInToday(ctx context.Context, siteID string, at time.Time) (bool, error) {
	count, err := s.SuccessfulCheckins(ctx, siteID, at)
	return count > 0, err
}

// SuccessfulCheckins counts the successful check-ins for a site on the local
// day containing at. Both "success" and "already" count.
func (s *Service) SuccessfulCheckins(ctx context.Context, siteID string, at time.Time) (int, error) {
	start := models.MidnightOf(at)
	end := start.AddDate(0, 0, 1)

	checkins, err := s.results.CheckinsInRange(ctx, siteID, start, end)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, checkin := range checkins {
		if checkin.Result.Successful() {
			count++
		}
	}
	return count, nil
}
