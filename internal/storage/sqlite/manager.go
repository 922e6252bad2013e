package sqlite

import (
	"database/sql"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/interfaces"
)

// Manager implements the StorageManager interface
type Manager struct {
	db       *SQLiteDB
	task     interfaces.TaskStorage
	site     interfaces.SiteStorage
	state    interfaces.StateStorage
	result   interfaces.ResultStorage
	settings interfaces.SettingsStorage
	logger   arbor.ILogger
}

// NewManager creates a new SQLite storage manager
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (interfaces.StorageManager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:       db,
		task:     NewTaskStorage(db, logger),
		site:     NewSiteStorage(db, logger),
		state:    NewStateStorage(db, logger),
		result:   NewResultStorage(db, logger),
		settings: NewSettingsStorage(db, logger),
		logger:   logger,
	}, nil
}

// TaskStorage returns the task repository
func (m *Manager) TaskStorage() interfaces.TaskStorage {
	return m.task
}

// SiteStorage returns the site repository
func (m *Manager) SiteStorage() interfaces.SiteStorage {
	return m.site
}

// StateStorage returns the browser-state repository
func (m *Manager) StateStorage() interfaces.StateStorage {
	return m.state
}

// ResultStorage returns the result repository
func (m *Manager) ResultStorage() interfaces.ResultStorage {
	return m.result
}

// SettingsStorage returns the settings repository
func (m *Manager) SettingsStorage() interfaces.SettingsStorage {
	return m.settings
}

// DB returns the underlying database connection
func (m *Manager) DB() *sql.DB {
	if m.db != nil {
		return m.db.DB()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// unixToTime converts a Unix timestamp to time.Time
func unixToTime(unix int64) time.Time {
	return time.Unix(unix, 0)
}

// nullableUnix converts an optional timestamp to a nullable column value
func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Valid: true, Int64: t.Unix()}
}

// boolToInt converts a bool to its SQLite integer representation
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
