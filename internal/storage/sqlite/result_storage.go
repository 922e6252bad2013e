package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
)

// ResultStorage implements SQLite storage for scrape results and check-ins
type ResultStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewResultStorage creates a new result storage instance
func NewResultStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

const resultColumns = `task_id, site_id, username, user_class, uid, join_time, last_active,
	upload, download, ratio, bonus, seeding_count, seeding_size, created_at`

// InsertResult stores a scrape result. One row per task; replays of the same
// task overwrite rather than duplicate.
func (s *ResultStorage) InsertResult(ctx context.Context, result *models.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO results (` + resultColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			username = excluded.username,
			user_class = excluded.user_class,
			uid = excluded.uid,
			join_time = excluded.join_time,
			last_active = excluded.last_active,
			upload = excluded.upload,
			download = excluded.download,
			ratio = excluded.ratio,
			bonus = excluded.bonus,
			seeding_count = excluded.seeding_count,
			seeding_size = excluded.seeding_size,
			created_at = excluded.created_at
	`

	_, err := s.db.db.ExecContext(ctx, query,
		result.TaskID,
		result.SiteID,
		result.Username,
		result.UserClass,
		result.UID,
		nullableUnix(result.JoinTime),
		nullableUnix(result.LastActive),
		result.Upload,
		result.Download,
		result.Ratio,
		result.Bonus,
		result.SeedingCount,
		result.SeedingSize,
		result.CreatedAt.Unix(),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", result.TaskID).Msg("Failed to insert result")
		return fmt.Errorf("failed to insert result: %w", err)
	}

	s.logger.Debug().Str("task_id", result.TaskID).Str("site_id", result.SiteID).Msg("Result stored")
	return nil
}

// GetResult retrieves the result for a task. Returns (nil, nil) when absent.
func (s *ResultStorage) GetResult(ctx context.Context, taskID string) (*models.Result, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE task_id = ?`, taskID)

	result, err := scanResult(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return result, nil
}

// LatestResult retrieves the newest result for a site. Returns (nil, nil)
// when the site has none.
func (s *ResultStorage) LatestResult(ctx context.Context, siteID string) (*models.Result, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE site_id = ? ORDER BY created_at DESC LIMIT 1`,
		siteID)

	result, err := scanResult(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest result: %w", err)
	}
	return result, nil
}

// ResultsInRange lists the results for a site within [start, end), oldest
// first.
func (s *ResultStorage) ResultsInRange(ctx context.Context, siteID string, start, end time.Time) ([]*models.Result, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM results
		 WHERE site_id = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at ASC`,
		siteID, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []*models.Result
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// InsertCheckin stores a check-in row, one per task
func (s *ResultStorage) InsertCheckin(ctx context.Context, checkin *models.CheckInResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO checkin_results (task_id, site_id, result, checkin_date, last_run_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			result = excluded.result,
			checkin_date = excluded.checkin_date,
			last_run_at = excluded.last_run_at`,
		checkin.TaskID,
		checkin.SiteID,
		string(checkin.Result),
		checkin.CheckinDate.Unix(),
		checkin.LastRunAt.Unix(),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", checkin.TaskID).Msg("Failed to insert checkin")
		return fmt.Errorf("failed to insert checkin: %w", err)
	}

	s.logger.Debug().
		Str("task_id", checkin.TaskID).
		Str("result", string(checkin.Result)).
		Msg("Checkin stored")
	return nil
}

// GetCheckin retrieves the check-in row for a task. Returns (nil, nil) when
// absent.
func (s *ResultStorage) GetCheckin(ctx context.Context, taskID string) (*models.CheckInResult, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT task_id, site_id, result, checkin_date, last_run_at
		FROM checkin_results WHERE task_id = ?`, taskID)

	checkin, err := scanCheckin(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkin: %w", err)
	}
	return checkin, nil
}

// LatestCheckin retrieves the newest check-in row for a site
func (s *ResultStorage) LatestCheckin(ctx context.Context, siteID string) (*models.CheckInResult, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT task_id, site_id, result, checkin_date, last_run_at
		FROM checkin_results WHERE site_id = ? ORDER BY last_run_at DESC LIMIT 1`, siteID)

	checkin, err := scanCheckin(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest checkin: %w", err)
	}
	return checkin, nil
}

// CheckinsInRange lists the check-in rows for a site whose check-in date
// falls within [start, end), oldest first.
func (s *ResultStorage) CheckinsInRange(ctx context.Context, siteID string, start, end time.Time) ([]*models.CheckInResult, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT task_id, site_id, result, checkin_date, last_run_at
		FROM checkin_results
		WHERE site_id = ? AND checkin_date >= ? AND checkin_date < ?
		ORDER BY last_run_at ASC`,
		siteID, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query checkins: %w", err)
	}
	defer rows.Close()

	var checkins []*models.CheckInResult
	for rows.Next() {
		checkin, err := scanCheckin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkin: %w", err)
		}
		checkins = append(checkins, checkin)
	}
	return checkins, rows.Err()
}

func scanResult(row rowScanner) (*models.Result, error) {
	var (
		taskID, siteID             string
		username, userClass, uid   sql.NullString
		joinTime, lastActive       sql.NullInt64
		upload, download           int64
		ratio, bonus               float64
		seedingCount               int
		seedingSize                int64
		createdAt                  int64
	)

	err := row.Scan(&taskID, &siteID, &username, &userClass, &uid, &joinTime, &lastActive,
		&upload, &download, &ratio, &bonus, &seedingCount, &seedingSize, &createdAt)
	if err != nil {
		return nil, err
	}

	result := &models.Result{
		TaskID:       taskID,
		SiteID:       siteID,
		Username:     username.String,
		UserClass:    userClass.String,
		UID:          uid.String,
		Upload:       upload,
		Download:     download,
		Ratio:        ratio,
		Bonus:        bonus,
		SeedingCount: seedingCount,
		SeedingSize:  seedingSize,
		CreatedAt:    unixToTime(createdAt),
	}
	if joinTime.Valid {
		t := unixToTime(joinTime.Int64)
		result.JoinTime = &t
	}
	if lastActive.Valid {
		t := unixToTime(lastActive.Int64)
		result.LastActive = &t
	}
	return result, nil
}

func scanCheckin(row rowScanner) (*models.CheckInResult, error) {
	var (
		taskID, siteID, outcome string
		checkinDate, lastRunAt  int64
	)

	if err := row.Scan(&taskID, &siteID, &outcome, &checkinDate, &lastRunAt); err != nil {
		return nil, err
	}

	return &models.CheckInResult{
		TaskID:      taskID,
		SiteID:      siteID,
		Result:      models.CheckinOutcome(outcome),
		CheckinDate: unixToTime(checkinDate),
		LastRunAt:   unixToTime(lastRunAt),
	}, nil
}
