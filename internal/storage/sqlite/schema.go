package sqlite

const schemaSQL = `
-- Per-site aggregate root. Deleting a crawler cascades to every child row.
CREATE TABLE IF NOT EXISTS crawlers (
	site_id TEXT PRIMARY KEY,
	is_logged_in INTEGER NOT NULL DEFAULT 0,
	last_login_time INTEGER,
	total_tasks INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_crawlers_logged_in ON crawlers(site_id, is_logged_in);

-- Site scraping descriptor. Structured subfields are JSON documents.
CREATE TABLE IF NOT EXISTS site_configs (
	site_id TEXT PRIMARY KEY,
	site_url TEXT NOT NULL,
	login_config TEXT,
	extract_rules TEXT,
	checkin_config TEXT,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (site_id) REFERENCES crawlers(site_id) ON DELETE CASCADE
);

-- Per-site runtime knobs
CREATE TABLE IF NOT EXISTS crawler_configs (
	site_id TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL DEFAULT 1,
	use_proxy INTEGER NOT NULL DEFAULT 0,
	proxy_url TEXT,
	fresh_login INTEGER NOT NULL DEFAULT 0,
	captcha_skip INTEGER NOT NULL DEFAULT 0,
	headless INTEGER NOT NULL DEFAULT 1,
	login_max_retry INTEGER NOT NULL DEFAULT 3,
	timeout INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (site_id) REFERENCES crawlers(site_id) ON DELETE CASCADE
);

-- Per-site authentication material
CREATE TABLE IF NOT EXISTS crawler_credentials (
	site_id TEXT PRIMARY KEY,
	username TEXT,
	password TEXT,
	authorization TEXT,
	apikey TEXT,
	manual_cookies TEXT,
	enabled INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (site_id) REFERENCES crawlers(site_id) ON DELETE CASCADE
);

-- Browser session state, one JSON document per site
CREATE TABLE IF NOT EXISTS browser_states (
	site_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (site_id) REFERENCES crawlers(site_id) ON DELETE CASCADE
);

-- Tasks
CREATE TABLE IF NOT EXISTS tasks (
	task_id TEXT PRIMARY KEY,
	site_id TEXT NOT NULL,
	status TEXT NOT NULL,
	msg TEXT,
	error_details TEXT,
	task_metadata TEXT,
	system_info TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER,
	FOREIGN KEY (site_id) REFERENCES crawlers(site_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_site_status ON tasks(site_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_completed ON tasks(created_at, completed_at);

-- Scrape results, one-to-one with tasks
CREATE TABLE IF NOT EXISTS results (
	task_id TEXT PRIMARY KEY,
	site_id TEXT NOT NULL,
	username TEXT,
	user_class TEXT,
	uid TEXT,
	join_time INTEGER,
	last_active INTEGER,
	upload INTEGER NOT NULL DEFAULT 0,
	download INTEGER NOT NULL DEFAULT 0,
	ratio REAL NOT NULL DEFAULT 0,
	bonus REAL NOT NULL DEFAULT 0,
	seeding_count INTEGER NOT NULL DEFAULT 0,
	seeding_size INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (task_id) REFERENCES tasks(task_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_results_site ON results(site_id, created_at);

-- Daily check-in rows, append-only, at most one per task
CREATE TABLE IF NOT EXISTS checkin_results (
	task_id TEXT PRIMARY KEY,
	site_id TEXT NOT NULL,
	result TEXT NOT NULL,
	checkin_date INTEGER NOT NULL,
	last_run_at INTEGER NOT NULL,
	FOREIGN KEY (task_id) REFERENCES tasks(task_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_checkins_site ON checkin_results(site_id);
CREATE INDEX IF NOT EXISTS idx_checkins_date ON checkin_results(checkin_date, last_run_at);

-- Single settings row (id fixed at 1)
CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	crawler_max_concurrency INTEGER NOT NULL,
	task_timeout INTEGER NOT NULL,
	login_max_retry INTEGER NOT NULL,
	storage_path TEXT NOT NULL,
	crawler_config_path TEXT NOT NULL,
	crawler_credential_path TEXT NOT NULL,
	headless INTEGER NOT NULL,
	fresh_login INTEGER NOT NULL,
	captcha_default_method TEXT NOT NULL,
	captcha_skip_sites TEXT NOT NULL,
	checkin_sites TEXT NOT NULL,
	enable_checkin INTEGER NOT NULL,
	chrome_path TEXT,
	log_level TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// InitSchema initializes the database schema. Idempotent: every statement is
// IF NOT EXISTS, so restarts are safe.
func (s *SQLiteDB) InitSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return err
	}
	s.logger.Debug().Msg("Database schema initialized")
	return nil
}
