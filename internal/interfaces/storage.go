package interfaces

import (
	"context"
	"time"

	"github.com/wardenhq/warden/internal/models"
)

// TaskListOptions filters and orders task list queries
type TaskListOptions struct {
	SiteID   string
	Status   string // comma-separated statuses supported
	OrderBy  string // default "created_at"
	OrderDir string // default "DESC"
	Limit    int
	Offset   int
}

// TaskStorage persists task rows. UpdateTask is reserved for the status
// reconciler, which is the sole writer of task-state transitions.
type TaskStorage interface {
	InsertTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	ListTasks(ctx context.Context, opts *TaskListOptions) ([]*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	CountTasksByStatus(ctx context.Context, status models.TaskStatus) (int, error)
}

// SiteStorage persists the crawler aggregate and its config children
type SiteStorage interface {
	GetCrawler(ctx context.Context, siteID string) (*models.Crawler, error)
	ListCrawlers(ctx context.Context) ([]*models.Crawler, error)
	DeleteCrawler(ctx context.Context, siteID string) (bool, error)
	IncrementTotalTasks(ctx context.Context, siteID string) error
	UpdateLoginState(ctx context.Context, siteID string, loggedIn bool, at time.Time) error

	GetSiteConfig(ctx context.Context, siteID string) (*models.SiteConfig, error)
	ListSiteConfigs(ctx context.Context) ([]*models.SiteConfig, error)
	GetCrawlerConfig(ctx context.Context, siteID string) (*models.CrawlerConfig, error)
	ListCrawlerConfigs(ctx context.Context) ([]*models.CrawlerConfig, error)
	GetCredential(ctx context.Context, siteID string) (*models.CrawlerCredential, error)
	ListCredentials(ctx context.Context) ([]*models.CrawlerCredential, error)

	// SaveSetupParts upserts the provided parts of a site setup in a single
	// transaction, synthesizing a default crawler row when none exists.
	SaveSetupParts(ctx context.Context, siteID string, update *models.SiteSetupUpdate) error
}

// StateStorage persists raw browser-state documents keyed by site.
// Documents are stored as JSON and re-validated by the state service on read.
type StateStorage interface {
	SaveState(ctx context.Context, siteID string, doc []byte, updatedAt time.Time) error
	GetState(ctx context.Context, siteID string) ([]byte, error)
	DeleteState(ctx context.Context, siteID string) (bool, error)
	ListStates(ctx context.Context) (map[string][]byte, error)
}

// ResultStorage persists scrape results and check-in rows
type ResultStorage interface {
	InsertResult(ctx context.Context, result *models.Result) error
	GetResult(ctx context.Context, taskID string) (*models.Result, error)
	LatestResult(ctx context.Context, siteID string) (*models.Result, error)
	ResultsInRange(ctx context.Context, siteID string, start, end time.Time) ([]*models.Result, error)

	InsertCheckin(ctx context.Context, checkin *models.CheckInResult) error
	GetCheckin(ctx context.Context, taskID string) (*models.CheckInResult, error)
	LatestCheckin(ctx context.Context, siteID string) (*models.CheckInResult, error)
	CheckinsInRange(ctx context.Context, siteID string, start, end time.Time) ([]*models.CheckInResult, error)
}

// SettingsStorage persists the single settings row
type SettingsStorage interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	SaveSettings(ctx context.Context, settings *models.Settings) error
}

// StorageManager aggregates the typed repositories over one store
type StorageManager interface {
	TaskStorage() TaskStorage
	SiteStorage() SiteStorage
	StateStorage() StateStorage
	ResultStorage() ResultStorage
	SettingsStorage() SettingsStorage
	Close() error
}
