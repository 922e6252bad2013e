package results

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/storage/sqlite"
)

func newTestService(t *testing.T) (*Service, interfaces.StorageManager) {
	config := &common.SQLiteConfig{
		Path:          t.TempDir() + "/test.db",
		CacheSizeMB:   10,
		BusyTimeoutMS: 5000,
	}
	manager, err := sqlite.NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	ctx := context.Background()
	require.NoError(t, manager.SiteStorage().SaveSetupParts(ctx, "alpha", &models.SiteSetupUpdate{
		NewSiteConfig:    &models.SiteConfig{SiteURL: "https://alpha.example.org"},
		NewCrawlerConfig: models.NewDefaultCrawlerConfig("alpha"),
	}))

	return NewService(manager.ResultStorage(), manager.TaskStorage(), arbor.NewLogger()), manager
}

func insertTask(t *testing.T, manager interfaces.StorageManager, taskID, siteID string) {
	task := models.NewTask(taskID, siteID, nil)
	require.NoError(t, manager.TaskStorage().InsertTask(context.Background(), task))
}

func TestSaveResult_DerivesRatio(t *testing.T) {
	service, manager := newTestService(t)
	ctx := context.Background()
	insertTask(t, manager, "t1", "alpha")

	result, err := service.SaveResult(ctx, &models.ResultCreate{
		TaskID:   "t1",
		SiteID:   "alpha",
		Upload:   2048,
		Download: 1024,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, result.Ratio, 0.0001)

	stored, err := service.GetResult(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.InDelta(t, 2.0, stored.Ratio, 0.0001)
}

func TestSaveResult_ZeroDownloadSentinel(t *testing.T) {
	service, manager := newTestService(t)
	insertTask(t, manager, "t1", "alpha")

	result, err := service.SaveResult(context.Background(), &models.ResultCreate{
		TaskID: "t1",
		SiteID: "alpha",
		Upload: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, float64(models.RatioSentinel), result.Ratio)
}

func TestSaveResult_ExplicitRatioWins(t *testing.T) {
	service, manager := newTestService(t)
	insertTask(t, manager, "t1", "alpha")

	ratio := 1.5
	result, err := service.SaveResult(context.Background(), &models.ResultCreate{
		TaskID:   "t1",
		SiteID:   "alpha",
		Upload:   100,
		Download: 100,
		Ratio:    &ratio,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, result.Ratio, 0.0001)
}

func TestSaveResult_RejectsOrphanAndMismatch(t *testing.T) {
	service, manager := newTestService(t)
	ctx := context.Background()

	_, err := service.SaveResult(ctx, &models.ResultCreate{TaskID: "ghost", SiteID: "alpha"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	insertTask(t, manager, "t1", "alpha")
	_, err = service.SaveResult(ctx, &models.ResultCreate{TaskID: "t1", SiteID: "beta"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to site alpha")
}

func TestSaveResult_RejectsMissingFields(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.SaveResult(context.Background(), &models.ResultCreate{SiteID: "alpha"})
	require.Error(t, err)
}

func TestSaveCheckin_MidnightDate(t *testing.T) {
	service, manager := newTestService(t)
	insertTask(t, manager, "t1", "alpha")

	checkin, err := service.SaveCheckinResult(context.Background(), "t1", "alpha", models.CheckinSuccess)
	require.NoError(t, err)

	want := models.MidnightOf(time.Now())
	assert.True(t, checkin.CheckinDate.Equal(want), "checkin date %s, want %s", checkin.CheckinDate, want)
	assert.Equal(t, 0, checkin.CheckinDate.Hour())
}

func TestSaveCheckin_RejectsUnknownOutcome(t *testing.T) {
	service, manager := newTestService(t)
	insertTask(t, manager, "t1", "alpha")

	_, err := service.SaveCheckinResult(context.Background(), "t1", "alpha", models.CheckinOutcome("maybe"))
	require.Error(t, err)
}

func TestSuccessfulCheckins_CountsAlready(t *testing.T) {
	service, manager := newTestService(t)
	ctx := context.Background()
	insertTask(t, manager, "t1", "alpha")
	insertTask(t, manager, "t2", "alpha")
	insertTask(t, manager, "t3", "alpha")

	_, err := service.SaveCheckinResult(ctx, "t1", "alpha", models.CheckinSuccess)
	require.NoError(t, err)
	_, err = service.SaveCheckinResult(ctx, "t2", "alpha", models.CheckinAlready)
	require.NoError(t, err)
	_, err = service.SaveCheckinResult(ctx, "t3", "alpha", models.CheckinFailed)
	require.NoError(t, err)

	count, err := service.SuccessfulCheckins(ctx, "alpha", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	done, err := service.CheckedInToday(ctx, "alpha", time.Now())
	require.NoError(t, err)
	assert.True(t, done)
}

func TestCheckedInToday_FailedOnlyIsFalse(t *testing.T) {
	service, manager := newTestService(t)
	ctx := context.Background()
	insertTask(t, manager, "t1", "alpha")

	_, err := service.SaveCheckinResult(ctx, "t1", "alpha", models.CheckinFailed)
	require.NoError(t, err)

	done, err := service.CheckedInToday(ctx, "alpha", time.Now())
	require.NoError(t, err)
	assert.False(t, done)
}

func TestLatestResult(t *testing.T) {
	service, manager := newTestService(t)
	ctx := context.Background()
	insertTask(t, manager, "t1", "alpha")

	absent, err := service.LatestResult(ctx, "alpha")
	require.NoError(t, err)
	assert.Nil(t, absent)

	_, err = service.SaveResult(ctx, &models.ResultCreate{
		TaskID: "t1", SiteID: "alpha", Upload: 10, Download: 10,
	})
	require.NoError(t, err)

	latest, err := service.LatestResult(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "t1", latest.TaskID)
}
