package settings

import (
	"context"
	"testing"

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
	return NewService(manager.SettingsStorage(), arbor.NewLogger()), manager
}

func TestCurrent_LazyInitWritesRow(t *testing.T) {
	service, manager := newTestService(t)
	ctx := context.Background()

	before, err := manager.SettingsStorage().GetSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, before)

	settings, err := service.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Greater(t, settings.CrawlerMaxConcurrency, 0)
	assert.Greater(t, settings.TaskTimeout, 0)

	after, err := manager.SettingsStorage().GetSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, settings.CrawlerMaxConcurrency, after.CrawlerMaxConcurrency)
}

func TestCurrent_ReturnsCopies(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	first, err := service.Current(ctx)
	require.NoError(t, err)
	first.TaskTimeout = 1

	second, err := service.Current(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, 1, second.TaskTimeout)
}

func TestSet_PersistsAndInvalidatesCache(t *testing.T) {
	service, manager := newTestService(t)
	ctx := context.Background()

	require.NoError(t, service.Set(ctx, models.SettingCrawlerMaxConcurrency, 7))

	value, err := service.Get(ctx, models.SettingCrawlerMaxConcurrency)
	require.NoError(t, err)
	assert.Equal(t, 7, value)

	stored, err := manager.SettingsStorage().GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.CrawlerMaxConcurrency)
}

func TestSet_AcceptsJSONNumberShape(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	// JSON decoding hands numbers over as float64
	require.NoError(t, service.Set(ctx, models.SettingTaskTimeout, float64(120)))

	value, err := service.Get(ctx, models.SettingTaskTimeout)
	require.NoError(t, err)
	assert.Equal(t, 120, value)
}

func TestSet_RejectsWrongTypesAndRanges(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	assert.Error(t, service.Set(ctx, models.SettingCrawlerMaxConcurrency, 0))
	assert.Error(t, service.Set(ctx, models.SettingCrawlerMaxConcurrency, "four"))
	assert.Error(t, service.Set(ctx, models.SettingTaskTimeout, -5))
	assert.Error(t, service.Set(ctx, models.SettingHeadless, "yes"))
	assert.Error(t, service.Set(ctx, models.SettingStoragePath, ""))
	assert.Error(t, service.Set(ctx, models.SettingCheckinSites, []interface{}{"alpha", 3}))
	assert.Error(t, service.Set(ctx, "no_such_key", 1))
	_, err := service.Get(ctx, "no_such_key")
	assert.Error(t, err)
}

func TestSet_StringListFromJSON(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, service.Set(ctx, models.SettingCheckinSites, []interface{}{"alpha", "beta"}))

	value, err := service.Get(ctx, models.SettingCheckinSites)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, value)
}

func TestUpdate_SurvivesRestart(t *testing.T) {
	service, manager := newTestService(t)
	ctx := context.Background()

	settings, err := service.Current(ctx)
	require.NoError(t, err)
	settings.EnableCheckin = true
	settings.CheckinSites = []string{"alpha"}
	require.NoError(t, service.Update(ctx, settings))

	// A fresh provider over the same store sees the persisted row
	fresh := NewService(manager.SettingsStorage(), arbor.NewLogger())
	reloaded, err := fresh.Current(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded.EnableCheckin)
	assert.Equal(t, []string{"alpha"}, reloaded.CheckinSites)
}
