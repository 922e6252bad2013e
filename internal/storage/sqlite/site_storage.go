package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
)

// SiteStorage implements SQLite storage for the crawler aggregate and its
// config children. All multi-part writes run in a single transaction.
type SiteStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewSiteStorage creates a new site storage instance
func NewSiteStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.SiteStorage {
	return &SiteStorage{
		db:     db,
		logger: logger,
	}
}

// GetCrawler retrieves a crawler row. Returns (nil, nil) when absent.
func (s *SiteStorage) GetCrawler(ctx context.Context, siteID string) (*models.Crawler, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT site_id, is_logged_in, last_login_time, total_tasks, created_at, updated_at
		FROM crawlers WHERE site_id = ?`, siteID)

	crawler, err := scanCrawler(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get crawler: %w", err)
	}
	return crawler, nil
}

// ListCrawlers returns every crawler row
func (s *SiteStorage) ListCrawlers(ctx context.Context) ([]*models.Crawler, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT site_id, is_logged_in, last_login_time, total_tasks, created_at, updated_at
		FROM crawlers ORDER BY site_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawlers: %w", err)
	}
	defer rows.Close()

	var crawlers []*models.Crawler
	for rows.Next() {
		crawler, err := scanCrawler(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crawler: %w", err)
		}
		crawlers = append(crawlers, crawler)
	}
	return crawlers, rows.Err()
}

// DeleteCrawler removes a crawler; foreign keys cascade to every child row.
// Returns false when no row matched.
func (s *SiteStorage) DeleteCrawler(ctx context.Context, siteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx, "DELETE FROM crawlers WHERE site_id = ?", siteID)
	if err != nil {
		return false, fmt.Errorf("failed to delete crawler: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected > 0 {
		s.logger.Info().Str("site_id", siteID).Msg("Crawler deleted with cascade")
	}
	return affected > 0, nil
}

// IncrementTotalTasks bumps the monotone task counter for a site
func (s *SiteStorage) IncrementTotalTasks(ctx context.Context, siteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.db.ExecContext(ctx, `
		UPDATE crawlers SET total_tasks = total_tasks + 1, updated_at = ? WHERE site_id = ?`,
		time.Now().Unix(), siteID)
	return err
}

// UpdateLoginState records a login outcome on the crawler row
func (s *SiteStorage) UpdateLoginState(ctx context.Context, siteID string, loggedIn bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.db.ExecContext(ctx, `
		UPDATE crawlers SET is_logged_in = ?, last_login_time = ?, updated_at = ? WHERE site_id = ?`,
		boolToInt(loggedIn), at.Unix(), time.Now().Unix(), siteID)
	return err
}

// GetSiteConfig retrieves a site config with its JSON subfields parsed
func (s *SiteStorage) GetSiteConfig(ctx context.Context, siteID string) (*models.SiteConfig, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT site_id, site_url, login_config, extract_rules, checkin_config, updated_at
		FROM site_configs WHERE site_id = ?`, siteID)

	config, err := scanSiteConfig(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get site config: %w", err)
	}
	return config, nil
}

// ListSiteConfigs returns every site config
func (s *SiteStorage) ListSiteConfigs(ctx context.Context) ([]*models.SiteConfig, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT site_id, site_url, login_config, extract_rules, checkin_config, updated_at
		FROM site_configs ORDER BY site_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list site configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.SiteConfig
	for rows.Next() {
		config, err := scanSiteConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site config: %w", err)
		}
		configs = append(configs, config)
	}
	return configs, rows.Err()
}

// GetCrawlerConfig retrieves the runtime knobs for a site
func (s *SiteStorage) GetCrawlerConfig(ctx context.Context, siteID string) (*models.CrawlerConfig, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT site_id, enabled, use_proxy, proxy_url, fresh_login, captcha_skip, headless,
		       login_max_retry, timeout, updated_at
		FROM crawler_configs WHERE site_id = ?`, siteID)

	config, err := scanCrawlerConfig(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get crawler config: %w", err)
	}
	return config, nil
}

// ListCrawlerConfigs returns every runtime config row
func (s *SiteStorage) ListCrawlerConfigs(ctx context.Context) ([]*models.CrawlerConfig, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT site_id, enabled, use_proxy, proxy_url, fresh_login, captcha_skip, headless,
		       login_max_retry, timeout, updated_at
		FROM crawler_configs ORDER BY site_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawler configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.CrawlerConfig
	for rows.Next() {
		config, err := scanCrawlerConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crawler config: %w", err)
		}
		configs = append(configs, config)
	}
	return configs, rows.Err()
}

// GetCredential retrieves the credential row for a site
func (s *SiteStorage) GetCredential(ctx context.Context, siteID string) (*models.CrawlerCredential, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT site_id, username, password, authorization, apikey, manual_cookies, enabled, updated_at
		FROM crawler_credentials WHERE site_id = ?`, siteID)

	credential, err := scanCredential(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return credential, nil
}

// ListCredentials returns every credential row
func (s *SiteStorage) ListCredentials(ctx context.Context) ([]*models.CrawlerCredential, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT site_id, username, password, authorization, apikey, manual_cookies, enabled, updated_at
		FROM crawler_credentials ORDER BY site_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []*models.CrawlerCredential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, rows.Err()
}

// SaveSetupParts upserts the provided parts of a site setup in one
// transaction. A default crawler row is synthesized when the aggregate root
// is missing, so child foreign keys always resolve.
func (s *SiteStorage) SaveSetupParts(ctx context.Context, siteID string, update *models.SiteSetupUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	crawler := update.NewCrawler
	if crawler == nil {
		// Keep the existing root if present, otherwise synthesize defaults
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM crawlers WHERE site_id = ?", siteID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check crawler: %w", err)
		}
		if exists == 0 {
			crawler = models.NewDefaultCrawler(siteID)
		}
	}

	if crawler != nil {
		crawler.SiteID = siteID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO crawlers (site_id, is_logged_in, last_login_time, total_tasks, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(site_id) DO UPDATE SET
				is_logged_in = excluded.is_logged_in,
				last_login_time = excluded.last_login_time,
				total_tasks = excluded.total_tasks,
				updated_at = excluded.updated_at`,
			crawler.SiteID,
			boolToInt(crawler.IsLoggedIn),
			nullableUnix(crawler.LastLoginTime),
			crawler.TotalTasks,
			crawler.CreatedAt.Unix(),
			time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to upsert crawler: %w", err)
		}
	}

	if sc := update.NewSiteConfig; sc != nil {
		sc.SiteID = siteID
		loginJSON, err := marshalSubfield(sc.LoginConfig)
		if err != nil {
			return fmt.Errorf("failed to serialize login config: %w", err)
		}
		rulesJSON, err := marshalSubfield(sc.ExtractRules)
		if err != nil {
			return fmt.Errorf("failed to serialize extract rules: %w", err)
		}
		checkinJSON, err := marshalSubfield(sc.CheckinConfig)
		if err != nil {
			return fmt.Errorf("failed to serialize checkin config: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO site_configs (site_id, site_url, login_config, extract_rules, checkin_config, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(site_id) DO UPDATE SET
				site_url = excluded.site_url,
				login_config = excluded.login_config,
				extract_rules = excluded.extract_rules,
				checkin_config = excluded.checkin_config,
				updated_at = excluded.updated_at`,
			sc.SiteID, sc.SiteURL, loginJSON, rulesJSON, checkinJSON, time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to upsert site config: %w", err)
		}
	}

	if cc := update.NewCrawlerConfig; cc != nil {
		cc.SiteID = siteID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO crawler_configs (site_id, enabled, use_proxy, proxy_url, fresh_login,
				captcha_skip, headless, login_max_retry, timeout, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(site_id) DO UPDATE SET
				enabled = excluded.enabled,
				use_proxy = excluded.use_proxy,
				proxy_url = excluded.proxy_url,
				fresh_login = excluded.fresh_login,
				captcha_skip = excluded.captcha_skip,
				headless = excluded.headless,
				login_max_retry = excluded.login_max_retry,
				timeout = excluded.timeout,
				updated_at = excluded.updated_at`,
			cc.SiteID, boolToInt(cc.Enabled), boolToInt(cc.UseProxy), cc.ProxyURL,
			boolToInt(cc.FreshLogin), boolToInt(cc.CaptchaSkip), boolToInt(cc.Headless),
			cc.LoginMaxRetry, cc.Timeout, time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to upsert crawler config: %w", err)
		}
	}

	if cred := update.NewCrawlerCredential; cred != nil {
		cred.SiteID = siteID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO crawler_credentials (site_id, username, password, authorization, apikey,
				manual_cookies, enabled, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(site_id) DO UPDATE SET
				username = excluded.username,
				password = excluded.password,
				authorization = excluded.authorization,
				apikey = excluded.apikey,
				manual_cookies = excluded.manual_cookies,
				enabled = excluded.enabled,
				updated_at = excluded.updated_at`,
			cred.SiteID, cred.Username, cred.Password, cred.Authorization, cred.APIKey,
			cred.ManualCookies, boolToInt(cred.Enabled), time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to upsert credential: %w", err)
		}
	}

	if bs := update.NewBrowserState; bs != nil {
		bs.SiteID = siteID
		doc, err := bs.ToJSON()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO browser_states (site_id, state, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(site_id) DO UPDATE SET
				state = excluded.state,
				updated_at = excluded.updated_at`,
			siteID, string(doc), time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to upsert browser state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit site setup: %w", err)
	}

	s.logger.Debug().Str("site_id", siteID).Msg("Site setup saved")
	return nil
}

func scanCrawler(row rowScanner) (*models.Crawler, error) {
	var (
		siteID        string
		isLoggedIn    int
		lastLoginTime sql.NullInt64
		totalTasks    int
		createdAt     int64
		updatedAt     int64
	)

	if err := row.Scan(&siteID, &isLoggedIn, &lastLoginTime, &totalTasks, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	crawler := &models.Crawler{
		SiteID:     siteID,
		IsLoggedIn: isLoggedIn != 0,
		TotalTasks: totalTasks,
		CreatedAt:  unixToTime(createdAt),
		UpdatedAt:  unixToTime(updatedAt),
	}
	if lastLoginTime.Valid {
		t := unixToTime(lastLoginTime.Int64)
		crawler.LastLoginTime = &t
	}
	return crawler, nil
}

func scanSiteConfig(row rowScanner) (*models.SiteConfig, error) {
	var (
		siteID, siteURL                       string
		loginJSON, rulesJSON, checkinJSON     sql.NullString
		updatedAt                             int64
	)

	if err := row.Scan(&siteID, &siteURL, &loginJSON, &rulesJSON, &checkinJSON, &updatedAt); err != nil {
		return nil, err
	}

	config := &models.SiteConfig{
		SiteID:    siteID,
		SiteURL:   siteURL,
		UpdatedAt: unixToTime(updatedAt),
	}

	if loginJSON.Valid && loginJSON.String != "" {
		var login models.LoginConfig
		if err := json.Unmarshal([]byte(loginJSON.String), &login); err != nil {
			return nil, fmt.Errorf("failed to deserialize login config for %s: %w", siteID, err)
		}
		config.LoginConfig = &login
	}
	if rulesJSON.Valid && rulesJSON.String != "" {
		if err := json.Unmarshal([]byte(rulesJSON.String), &config.ExtractRules); err != nil {
			return nil, fmt.Errorf("failed to deserialize extract rules for %s: %w", siteID, err)
		}
	}
	if checkinJSON.Valid && checkinJSON.String != "" {
		var checkin models.CheckinConfig
		if err := json.Unmarshal([]byte(checkinJSON.String), &checkin); err != nil {
			return nil, fmt.Errorf("failed to deserialize checkin config for %s: %w", siteID, err)
		}
		config.CheckinConfig = &checkin
	}

	return config, nil
}

func scanCrawlerConfig(row rowScanner) (*models.CrawlerConfig, error) {
	var (
		siteID                                              string
		enabled, useProxy, freshLogin, captchaSkip, headless int
		proxyURL                                            sql.NullString
		loginMaxRetry, timeout                              int
		updatedAt                                           int64
	)

	if err := row.Scan(&siteID, &enabled, &useProxy, &proxyURL, &freshLogin, &captchaSkip,
		&headless, &loginMaxRetry, &timeout, &updatedAt); err != nil {
		return nil, err
	}

	config := &models.CrawlerConfig{
		SiteID:        siteID,
		Enabled:       enabled != 0,
		UseProxy:      useProxy != 0,
		FreshLogin:    freshLogin != 0,
		CaptchaSkip:   captchaSkip != 0,
		Headless:      headless != 0,
		LoginMaxRetry: loginMaxRetry,
		Timeout:       timeout,
		UpdatedAt:     unixToTime(updatedAt),
	}
	if proxyURL.Valid {
		config.ProxyURL = proxyURL.String
	}
	return config, nil
}

func scanCredential(row rowScanner) (*models.CrawlerCredential, error) {
	var (
		siteID                                             string
		username, password, authorization, apikey, cookies sql.NullString
		enabled                                            int
		updatedAt                                          int64
	)

	if err := row.Scan(&siteID, &username, &password, &authorization, &apikey, &cookies,
		&enabled, &updatedAt); err != nil {
		return nil, err
	}

	return &models.CrawlerCredential{
		SiteID:        siteID,
		Username:      username.String,
		Password:      password.String,
		Authorization: authorization.String,
		APIKey:        apikey.String,
		ManualCookies: cookies.String,
		Enabled:       enabled != 0,
		UpdatedAt:     unixToTime(updatedAt),
	}, nil
}

func marshalSubfield(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	// Typed nils reach here through the interface
	switch t := v.(type) {
	case *models.LoginConfig:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *models.CheckinConfig:
		if t == nil {
			return sql.NullString{}, nil
		}
	case []models.ExtractRule:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{Valid: true, String: string(data)}, nil
}
