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

// StateStorage implements SQLite storage for browser-state documents. The
// document is opaque here; validation belongs to the state service.
type StateStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewStateStorage creates a new browser-state storage instance
func NewStateStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.StateStorage {
	return &StateStorage{
		db:     db,
		logger: logger,
	}
}

// SaveState upserts the state document for a site. A default crawler row is
// synthesized in the same transaction when the site is unknown, so the
// foreign key resolves.
func (s *StateStorage) SaveState(ctx context.Context, siteID string, doc []byte, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM crawlers WHERE site_id = ?", siteID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check crawler: %w", err)
	}
	if exists == 0 {
		crawler := models.NewDefaultCrawler(siteID)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO crawlers (site_id, is_logged_in, last_login_time, total_tasks, created_at, updated_at)
			VALUES (?, 0, NULL, 0, ?, ?)`,
			siteID, crawler.CreatedAt.Unix(), crawler.UpdatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("failed to create crawler for state: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO browser_states (site_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(site_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at`,
		siteID, string(doc), updatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("failed to save browser state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit browser state: %w", err)
	}

	s.logger.Debug().Str("site_id", siteID).Int("bytes", len(doc)).Msg("Browser state saved")
	return nil
}

// GetState retrieves the raw state document for a site. Returns (nil, nil)
// when absent.
func (s *StateStorage) GetState(ctx context.Context, siteID string) ([]byte, error) {
	var doc string
	err := s.db.db.QueryRowContext(ctx,
		"SELECT state FROM browser_states WHERE site_id = ?", siteID).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get browser state: %w", err)
	}
	return []byte(doc), nil
}

// DeleteState removes the state document for a site. Returns false when no
// row matched.
func (s *StateStorage) DeleteState(ctx context.Context, siteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx,
		"DELETE FROM browser_states WHERE site_id = ?", siteID)
	if err != nil {
		return false, fmt.Errorf("failed to delete browser state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListStates returns every state document keyed by site
func (s *StateStorage) ListStates(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.db.QueryContext(ctx, "SELECT site_id, state FROM browser_states")
	if err != nil {
		return nil, fmt.Errorf("failed to list browser states: %w", err)
	}
	defer rows.Close()

	states := make(map[string][]byte)
	for rows.Next() {
		var siteID, doc string
		if err := rows.Scan(&siteID, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan browser state: %w", err)
		}
		states[siteID] = []byte(doc)
	}
	return states, rows.Err()
}
