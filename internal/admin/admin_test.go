package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prashikshan/internal/admin/admintest"
)

func TestSettingsDefaults(t *testing.T) {
	store := NewSettingsStore(admintest.NewBackend())

	got, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), got)
	assert.True(t, got.PlaywrightEnabled)
	assert.Equal(t, 10, got.ArticlesLimitPerCategory)
	assert.Equal(t, SortPriority, got.SortOrder)
}

func TestSettingsPlaywrightToggle(t *testing.T) {
	ctx := context.Background()
	store := NewSettingsStore(admintest.NewBackend())

	got, err := store.SetPlaywright(ctx, nil)
	require.NoError(t, err)
	assert.False(t, got.PlaywrightEnabled)

	got, err = store.SetPlaywright(ctx, nil)
	require.NoError(t, err)
	assert.True(t, got.PlaywrightEnabled)

	off := false
	got, err = store.SetPlaywright(ctx, &off)
	require.NoError(t, err)
	assert.False(t, got.PlaywrightEnabled)

	reloaded, err := store.Get(ctx)
	require.NoError(t, err)
	assert.False(t, reloaded.PlaywrightEnabled)
}

func TestSettingsArticlesLimitBounds(t *testing.T) {
	ctx := context.Background()
	store := NewSettingsStore(admintest.NewBackend())

	for _, bad := range []int{0, -1, 51} {
		_, err := store.SetArticlesLimit(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidArticlesLimit, "limit %d", bad)
	}

	got, err := store.SetArticlesLimit(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, got.ArticlesLimitPerCategory)

	got, err = store.SetArticlesLimit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ArticlesLimitPerCategory)
}

func TestSettingsSortOrderAndPriority(t *testing.T) {
	ctx := context.Background()
	store := NewSettingsStore(admintest.NewBackend())

	_, err := store.SetSortOrder(ctx, "alphabetical")
	assert.ErrorIs(t, err, ErrInvalidSortOrder)

	got, err := store.SetSortOrder(ctx, " Time ")
	require.NoError(t, err)
	assert.Equal(t, SortTime, got.SortOrder)

	got, err = store.SetSourcePriority(ctx, []string{" Wired ", "", "BBC News"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Wired", "BBC News"}, got.SourcePriority)

	_, err = store.SetSourcePriority(ctx, []string{" "})
	assert.Error(t, err)
}

func TestSettingsBackendError(t *testing.T) {
	backend := admintest.NewBackend()
	backend.Err = errors.New("connection refused")
	store := NewSettingsStore(backend)

	got, err := store.Get(context.Background())
	assert.Error(t, err)
	assert.Equal(t, DefaultSettings(), got)
}

func TestRefreshTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	backend := admintest.NewBackend()
	tracker := NewRefreshTracker(backend, 0)

	idle, err := tracker.Get(ctx)
	require.NoError(t, err)
	assert.False(t, idle.IsRunning)

	started, err := tracker.Start(ctx, "Initializing...")
	require.NoError(t, err)
	assert.True(t, started.IsRunning)
	require.NotNil(t, started.StartedAt)
	require.NotEmpty(t, started.LockToken)

	again, err := tracker.Start(ctx, "Initializing...")
	assert.ErrorIs(t, err, ErrRefreshRunning)
	assert.True(t, again.IsRunning)
	assert.Empty(t, again.LockToken)

	_, err = tracker.Update(ctx, func(s *RefreshStatus) {
		s.Progress = 50
		s.CurrentTask = "Scraping Technology..."
	})
	require.NoError(t, err)

	mid, err := tracker.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, mid.Progress)

	done, err := tracker.Finish(ctx, started.LockToken, "Error in Career: timeout", 4001)
	require.NoError(t, err)
	assert.False(t, done.IsRunning)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, "Error in Career: timeout", done.LastError)

	_, locked := backend.Value(refreshLockKey)
	assert.False(t, locked)

	_, err = tracker.Start(ctx, "Initializing...")
	assert.NoError(t, err)
}

func TestRefreshTrackerAbortReleasesLock(t *testing.T) {
	ctx := context.Background()
	backend := admintest.NewBackend()
	tracker := NewRefreshTracker(backend, 0)

	started, err := tracker.Start(ctx, "Queued")
	require.NoError(t, err)
	require.NoError(t, tracker.Abort(ctx, started.LockToken, "enqueue failed"))

	status, err := tracker.Get(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Equal(t, "enqueue failed", status.LastError)

	_, locked := backend.Value(refreshLockKey)
	assert.False(t, locked)
}

func TestRefreshTrackerStaleTokenKeepsNewLock(t *testing.T) {
	ctx := context.Background()
	backend := admintest.NewBackend()
	tracker := NewRefreshTracker(backend, 0)

	first, err := tracker.Start(ctx, "Scraping Technology...")
	require.NoError(t, err)

	// 第一次刷新超过锁 TTL，锁过期后被第二次刷新取得。
	backend.Expire(refreshLockKey)
	second, err := tracker.Start(ctx, "Scraping Career...")
	require.NoError(t, err)
	require.NotEqual(t, first.LockToken, second.LockToken)

	status, err := tracker.Finish(ctx, first.LockToken, "", 0)
	assert.ErrorIs(t, err, ErrLockLost)
	assert.True(t, status.IsRunning)
	assert.Equal(t, "Scraping Career...", status.CurrentTask)
	assert.ErrorIs(t, tracker.Abort(ctx, first.LockToken, "late abort"), ErrLockLost)

	owner, locked := backend.Value(refreshLockKey)
	require.True(t, locked)
	assert.Equal(t, second.LockToken, owner)

	_, err = tracker.Start(ctx, "Initializing...")
	assert.ErrorIs(t, err, ErrRefreshRunning)

	done, err := tracker.Finish(ctx, second.LockToken, "", 0)
	require.NoError(t, err)
	assert.False(t, done.IsRunning)
	_, locked = backend.Value(refreshLockKey)
	assert.False(t, locked)
}
