package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/common"
	"github.com/wardenhq/warden/internal/interfaces"
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
	return NewService(manager.StateStorage(), arbor.NewLogger()), manager
}

func TestSaveAndGetState(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	doc := []byte(`{
		"cookies": {"session": {"value": "abc", "domain": ".example.org", "path": "/"}},
		"local_storage": {"token": "xyz"}
	}`)
	saved, err := service.SaveState(ctx, "alpha", doc)
	require.NoError(t, err)
	assert.Len(t, saved.Cookies, 1)

	loaded, err := service.GetState(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "abc", loaded.Cookies["session"].Value)
	assert.Equal(t, "xyz", loaded.LocalStorage["token"])
}

func TestSaveState_RejectsInvalidDocument(t *testing.T) {
	service, _ := newTestService(t)

	// Cookie without a value is structurally invalid
	_, err := service.SaveState(context.Background(), "alpha",
		[]byte(`{"cookies": {"session": {"domain": ".example.org", "path": "/"}}}`))
	require.Error(t, err)
}

func TestGetState_CorruptRowReadsAsNone(t *testing.T) {
	service, manager := newTestService(t)
	ctx := context.Background()

	// Bypass the service so a structurally invalid document lands in the store
	require.NoError(t, manager.StateStorage().SaveState(ctx, "alpha",
		[]byte(`{"cookies": {"session": 42}}`), time.Now()))

	state, err := service.GetState(ctx, "alpha")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestGetState_AbsentReadsAsNone(t *testing.T) {
	service, _ := newTestService(t)

	state, err := service.GetState(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestDeleteState(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.SaveState(ctx, "alpha", []byte(`{"cookies": {}}`))
	require.NoError(t, err)

	deleted, err := service.DeleteState(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = service.DeleteState(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, deleted)
}
