package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/models"
)

// stubSettings serves a fixed settings row
type stubSettings struct {
	settings models.Settings
}

func (s *stubSettings) Current(ctx context.Context) (*models.Settings, error) {
	copied := s.settings
	return &copied, nil
}

func newTestScheduler(t *testing.T, queue *Queue, settings models.Settings) *Scheduler {
	config := common.SchedulerConfig{Enabled: true}
	return NewScheduler(config, queue, queue.registry, &stubSettings{settings: settings}, arbor.NewLogger())
}

func TestScheduler_EnqueueScrapesEveryEnabledSite(t *testing.T) {
	queue := newTestQueue(t, "alpha", "beta")
	scheduler := newTestScheduler(t, queue, models.Settings{})
	ctx := context.Background()

	scheduler.enqueueScrapes(ctx)

	pending, err := queue.GetPendingTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "schedule", pending[0].TaskMetadata["trigger"])
	assert.NotEmpty(t, pending[0].TaskMetadata["batch_id"])
	assert.Equal(t, pending[0].TaskMetadata["batch_id"], pending[1].TaskMetadata["batch_id"])
}

func TestScheduler_SkipsSitesWithActiveTask(t *testing.T) {
	queue := newTestQueue(t, "alpha", "beta")
	scheduler := newTestScheduler(t, queue, models.Settings{})
	ctx := context.Background()

	_, err := queue.AddTask(ctx, &models.TaskCreate{SiteID: "alpha"})
	require.NoError(t, err)

	scheduler.enqueueScrapes(ctx)

	pending, err := queue.GetPendingTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	bySite := map[string]int{}
	for _, task := range pending {
		bySite[task.SiteID]++
	}
	assert.Equal(t, 1, bySite["alpha"])
	assert.Equal(t, 1, bySite["beta"])
}

func TestScheduler_CheckinsHonorOptIn(t *testing.T) {
	queue := newTestQueue(t, "alpha", "beta")
	ctx := context.Background()

	// Check-ins disabled: nothing is admitted
	scheduler := newTestScheduler(t, queue, models.Settings{CheckinSites: []string{"alpha"}})
	scheduler.enqueueCheckins(ctx)
	pending, err := queue.GetPendingTasks(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	scheduler = newTestScheduler(t, queue, models.Settings{
		EnableCheckin: true,
		CheckinSites:  []string{"alpha"},
	})
	scheduler.enqueueCheckins(ctx)

	pending, err = queue.GetPendingTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alpha", pending[0].SiteID)
	assert.Equal(t, true, pending[0].TaskMetadata["checkin"])
}
