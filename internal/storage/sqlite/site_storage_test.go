package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/wardenhq/warden/internal/models"
)

func TestSiteStorage_SaveSetupPartsSynthesizesCrawler(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewSiteStorage(db, arbor.NewLogger())
	ctx := context.Background()

	update := &models.SiteSetupUpdate{
		NewSiteConfig: &models.SiteConfig{
			SiteURL: "https://tracker.example.org",
			LoginConfig: &models.LoginConfig{
				LoginURL: "https://tracker.example.org/login",
			},
		},
	}
	require.NoError(t, storage.SaveSetupParts(ctx, "alpha", update))

	crawler, err := storage.GetCrawler(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, crawler)
	assert.False(t, crawler.IsLoggedIn)
	assert.Equal(t, 0, crawler.TotalTasks)

	config, err := storage.GetSiteConfig(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, "https://tracker.example.org", config.SiteURL)
	require.NotNil(t, config.LoginConfig)
	assert.Equal(t, "https://tracker.example.org/login", config.LoginConfig.LoginURL)
}

func TestSiteStorage_SaveSetupPartsUpsert(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewSiteStorage(db, arbor.NewLogger())
	ctx := context.Background()

	first := &models.SiteSetupUpdate{
		NewCrawlerConfig: models.NewDefaultCrawlerConfig("alpha"),
	}
	require.NoError(t, storage.SaveSetupParts(ctx, "alpha", first))

	second := &models.SiteSetupUpdate{
		NewCrawlerConfig: &models.CrawlerConfig{
			Enabled:       false,
			UseProxy:      true,
			ProxyURL:      "socks5://127.0.0.1:1080",
			LoginMaxRetry: 5,
			Timeout:       120,
		},
	}
	require.NoError(t, storage.SaveSetupParts(ctx, "alpha", second))

	config, err := storage.GetCrawlerConfig(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.False(t, config.Enabled)
	assert.True(t, config.UseProxy)
	assert.Equal(t, "socks5://127.0.0.1:1080", config.ProxyURL)
	assert.Equal(t, 5, config.LoginMaxRetry)
	assert.Equal(t, 120, config.Timeout)
}

func TestSiteStorage_DeleteCrawlerCascades(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	siteStorage := NewSiteStorage(db, logger)
	taskStorage := NewTaskStorage(db, logger)
	stateStorage := NewStateStorage(db, logger)
	ctx := context.Background()

	update := &models.SiteSetupUpdate{
		NewSiteConfig:        &models.SiteConfig{SiteURL: "https://tracker.example.org"},
		NewCrawlerConfig:     models.NewDefaultCrawlerConfig("alpha"),
		NewCrawlerCredential: &models.CrawlerCredential{Username: "user", Password: "pass", Enabled: true},
	}
	require.NoError(t, siteStorage.SaveSetupParts(ctx, "alpha", update))

	task := models.NewTask("alpha-20260101-000000-aaaa", "alpha", nil)
	require.NoError(t, taskStorage.InsertTask(ctx, task))
	require.NoError(t, stateStorage.SaveState(ctx, "alpha", []byte(`{"cookies":{}}`), time.Now()))

	deleted, err := siteStorage.DeleteCrawler(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, deleted)

	// Every child row owned by the crawler is gone
	gone, err := siteStorage.GetSiteConfig(ctx, "alpha")
	require.NoError(t, err)
	assert.Nil(t, gone)

	cred, err := siteStorage.GetCredential(ctx, "alpha")
	require.NoError(t, err)
	assert.Nil(t, cred)

	orphanTask, err := taskStorage.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Nil(t, orphanTask)

	doc, err := stateStorage.GetState(ctx, "alpha")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestSiteStorage_CascadeHoldsOnFreshConnections(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	siteStorage := NewSiteStorage(db, logger)
	taskStorage := NewTaskStorage(db, logger)
	ctx := context.Background()

	require.NoError(t, siteStorage.SaveSetupParts(ctx, "alpha", &models.SiteSetupUpdate{
		NewSiteConfig: &models.SiteConfig{SiteURL: "https://tracker.example.org"},
	}))
	task := models.NewTask("alpha-20260101-000000-aaaa", "alpha", nil)
	require.NoError(t, taskStorage.InsertTask(ctx, task))

	// Force the pool to discard every idle connection so the delete runs on a
	// brand-new one; foreign_keys must still be on there
	db.DB().SetMaxIdleConns(0)
	db.DB().SetMaxIdleConns(2)

	deleted, err := siteStorage.DeleteCrawler(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, deleted)

	orphan, err := taskStorage.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Nil(t, orphan)
}

func TestSiteStorage_DeleteMissingReturnsFalse(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewSiteStorage(db, arbor.NewLogger())

	deleted, err := storage.DeleteCrawler(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSiteStorage_LoginStateAndCounters(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewSiteStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.SaveSetupParts(ctx, "alpha", &models.SiteSetupUpdate{
		NewCrawlerConfig: models.NewDefaultCrawlerConfig("alpha"),
	}))

	loginAt := time.Now().Add(-time.Hour)
	require.NoError(t, storage.UpdateLoginState(ctx, "alpha", true, loginAt))
	require.NoError(t, storage.IncrementTotalTasks(ctx, "alpha"))
	require.NoError(t, storage.IncrementTotalTasks(ctx, "alpha"))

	crawler, err := storage.GetCrawler(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, crawler)
	assert.True(t, crawler.IsLoggedIn)
	require.NotNil(t, crawler.LastLoginTime)
	assert.Equal(t, loginAt.Unix(), crawler.LastLoginTime.Unix())
	assert.Equal(t, 2, crawler.TotalTasks)
}
