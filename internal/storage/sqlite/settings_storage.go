package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
)

// SettingsStorage implements SQLite storage for the single settings row
type SettingsStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewSettingsStorage creates a new settings storage instance
func NewSettingsStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.SettingsStorage {
	return &SettingsStorage{
		db:     db,
		logger: logger,
	}
}

// GetSettings retrieves the settings row. Returns (nil, nil) when the row
// has never been written.
func (s *SettingsStorage) GetSettings(ctx context.Context) (*models.Settings, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT crawler_max_concurrency, task_timeout, login_max_retry,
		       storage_path, crawler_config_path, crawler_credential_path,
		       headless, fresh_login, captcha_default_method,
		       captcha_skip_sites, checkin_sites, enable_checkin,
		       chrome_path, log_level, updated_at
		FROM settings WHERE id = 1`)

	var (
		settings             models.Settings
		headless, freshLogin int
		skipSites, checkin   string
		enableCheckin        int
		chromePath           sql.NullString
		updatedAt            int64
	)

	err := row.Scan(
		&settings.CrawlerMaxConcurrency,
		&settings.TaskTimeout,
		&settings.LoginMaxRetry,
		&settings.StoragePath,
		&settings.CrawlerConfigPath,
		&settings.CrawlerCredentialPath,
		&headless,
		&freshLogin,
		&settings.CaptchaDefaultMethod,
		&skipSites,
		&checkin,
		&enableCheckin,
		&chromePath,
		&settings.LogLevel,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	settings.Headless = headless != 0
	settings.FreshLogin = freshLogin != 0
	settings.EnableCheckin = enableCheckin != 0
	settings.CaptchaSkipSites = splitList(skipSites)
	settings.CheckinSites = splitList(checkin)
	settings.ChromePath = chromePath.String
	settings.UpdatedAt = unixToTime(updatedAt)

	return &settings, nil
}

// SaveSettings writes the settings row, creating it on first save
func (s *SettingsStorage) SaveSettings(ctx context.Context, settings *models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings.UpdatedAt = time.Now()

	var chromePath sql.NullString
	if settings.ChromePath != "" {
		chromePath = sql.NullString{Valid: true, String: settings.ChromePath}
	}

	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO settings (id, crawler_max_concurrency, task_timeout, login_max_retry,
			storage_path, crawler_config_path, crawler_credential_path,
			headless, fresh_login, captcha_default_method,
			captcha_skip_sites, checkin_sites, enable_checkin,
			chrome_path, log_level, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			crawler_max_concurrency = excluded.crawler_max_concurrency,
			task_timeout = excluded.task_timeout,
			login_max_retry = excluded.login_max_retry,
			storage_path = excluded.storage_path,
			crawler_config_path = excluded.crawler_config_path,
			crawler_credential_path = excluded.crawler_credential_path,
			headless = excluded.headless,
			fresh_login = excluded.fresh_login,
			captcha_default_method = excluded.captcha_default_method,
			captcha_skip_sites = excluded.captcha_skip_sites,
			checkin_sites = excluded.checkin_sites,
			enable_checkin = excluded.enable_checkin,
			chrome_path = excluded.chrome_path,
			log_level = excluded.log_level,
			updated_at = excluded.updated_at`,
		settings.CrawlerMaxConcurrency,
		settings.TaskTimeout,
		settings.LoginMaxRetry,
		settings.StoragePath,
		settings.CrawlerConfigPath,
		settings.CrawlerCredentialPath,
		boolToInt(settings.Headless),
		boolToInt(settings.FreshLogin),
		settings.CaptchaDefaultMethod,
		joinList(settings.CaptchaSkipSites),
		joinList(settings.CheckinSites),
		boolToInt(settings.EnableCheckin),
		chromePath,
		settings.LogLevel,
		settings.UpdatedAt.Unix(),
	)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to save settings")
		return fmt.Errorf("failed to save settings: %w", err)
	}

	s.logger.Debug().Msg("Settings saved")
	return nil
}

func splitList(s string) []string {
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func joinList(parts []string) string {
	return strings.Join(parts, ",")
}
