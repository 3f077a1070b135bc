package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prashikshan/internal/admin"
	"prashikshan/internal/admin/admintest"
	"prashikshan/internal/errcode"
	"prashikshan/internal/news"
	"prashikshan/internal/storage"
	"prashikshan/internal/tasks"
)

type fakeScraper struct {
	mu      sync.Mutex
	results map[string][]news.Article
	fail    map[string]error
	calls   []string
}

func (f *fakeScraper) Category(_ context.Context, category string) ([]news.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, category)
	if err := f.fail[category]; err != nil {
		return nil, err
	}
	return f.results[category], nil
}

type handlerFixture struct {
	handler *NewsRefreshHandler
	scraper *fakeScraper
	cache   *news.Cache
	tracker *admin.RefreshTracker
	redis   *admintest.Backend
}

func newFixture(t *testing.T) handlerFixture {
	t.Helper()
	return newFixtureWithCloud(t, nil)
}

func newFixtureWithCloud(t *testing.T, cloud news.CloudStore) handlerFixture {
	t.Helper()
	backend := admintest.NewBackend()
	scraper := &fakeScraper{
		results: map[string][]news.Article{
			news.CategoryTech: {{Title: "Go 1.25 released", Source: "Hacker News"}},
		},
		fail: map[string]error{
			news.CategoryCareer: errors.New("all 7 sources failed"),
		},
	}
	cache := news.NewCache(filepath.Join(t.TempDir(), "news.json"), cloud, "", nil)
	tracker := admin.NewRefreshTracker(backend, 0)
	return handlerFixture{
		handler: NewNewsRefreshHandler(scraper, cache, tracker, backend, nil),
		scraper: scraper,
		cache:   cache,
		tracker: tracker,
		redis:   backend,
	}
}

func refreshTask(t *testing.T, p tasks.NewsRefreshPayload) *asynq.Task {
	t.Helper()
	task, err := tasks.NewNewsRefreshTask(p)
	require.NoError(t, err)
	return task
}

func TestNewsRefreshRecordsPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.handler.ProcessTask(ctx, refreshTask(t, tasks.NewsRefreshPayload{
		Categories:    []string{"career", "tech", "sports"},
		CorrelationID: "corr-1",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{news.CategoryTech, news.CategoryCareer}, f.scraper.calls)
	assert.Len(t, f.cache.Articles(news.CategoryTech), 1)
	assert.False(t, f.cache.IsStale(time.Hour))

	status, err := f.tracker.Get(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, errcode.CategoryFailed, status.ErrorCode)
	assert.Contains(t, status.LastError, "Career")

	published := f.redis.Published()
	require.Len(t, published, 1)
	assert.Equal(t, NewsRefreshChannel, published[0].Channel)
	var msg NewsRefreshNotifyMessage
	require.NoError(t, json.Unmarshal([]byte(published[0].Payload), &msg))
	assert.Equal(t, "partial", msg.Status)
	assert.Equal(t, "corr-1", msg.CorrelationID)
	assert.Equal(t, map[string]int{news.CategoryTech: 1}, msg.CategoryCounts)

	_, err = f.tracker.Start(ctx, "next")
	assert.NoError(t, err, "lock must be released after refresh")
}

func TestNewsRefreshSkipsWhenAlreadyRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.Start(ctx, "manual")
	require.NoError(t, err)

	err = f.handler.ProcessTask(ctx, refreshTask(t, tasks.NewsRefreshPayload{}))
	require.NoError(t, err)
	assert.Empty(t, f.scraper.calls)

	status, err := f.tracker.Get(ctx)
	require.NoError(t, err)
	assert.True(t, status.IsRunning)
}

func TestNewsRefreshLockedPayloadUsesCallerLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.tracker.Start(ctx, "Initializing...")
	require.NoError(t, err)

	err = f.handler.ProcessTask(ctx, refreshTask(t, tasks.NewsRefreshPayload{
		Categories: []string{"tech"},
		LockToken:  started.LockToken,
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{news.CategoryTech}, f.scraper.calls)

	status, err := f.tracker.Get(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Equal(t, errcode.OK, status.ErrorCode)
	assert.Empty(t, status.LastError)
}

func TestNewsRefreshStaleTokenLeavesNewerRefreshAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 管理后台拿到的锁已过期，另一次刷新持有了新锁。
	stale, err := f.tracker.Start(ctx, "Initializing...")
	require.NoError(t, err)
	f.redis.Expire("admin:refresh:lock")
	current, err := f.tracker.Start(ctx, "Scraping Career...")
	require.NoError(t, err)

	err = f.handler.ProcessTask(ctx, refreshTask(t, tasks.NewsRefreshPayload{
		Categories: []string{"tech"},
		LockToken:  stale.LockToken,
	}))
	require.NoError(t, err)

	owner, locked := f.redis.Value("admin:refresh:lock")
	require.True(t, locked)
	assert.Equal(t, current.LockToken, owner)
	status, err := f.tracker.Get(ctx)
	require.NoError(t, err)
	assert.True(t, status.IsRunning)
}

// memCloud 是内存版对象存储。
type memCloud struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memCloud) PutBytes(_ context.Context, name string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[name] = append([]byte(nil), data...)
	return nil
}

func (m *memCloud) GetBytes(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func TestNewsRefreshStartsFromCloudCopy(t *testing.T) {
	ctx := context.Background()
	cloud := &memCloud{}
	f := newFixtureWithCloud(t, cloud)
	f.cache.UpdateCategory(news.CategoryAIML, []news.Article{{Title: "stale local article"}})
	require.NoError(t, f.cache.Save(ctx, false))

	// 管理后台在另一个进程清空了缓存并把版本推到 7。
	apiCache := news.NewCache(filepath.Join(t.TempDir(), "api.json"), cloud, "", nil)
	for i := 0; i < 5; i++ {
		_, err := apiCache.IncrementVersion(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, apiCache.Clear(ctx))
	require.Equal(t, int64(7), apiCache.Version())

	err := f.handler.ProcessTask(ctx, refreshTask(t, tasks.NewsRefreshPayload{
		Categories: []string{"tech"},
		SyncCloud:  true,
	}))
	require.NoError(t, err)

	assert.Empty(t, f.cache.Articles(news.CategoryAIML), "cleared articles stay cleared")
	assert.Len(t, f.cache.Articles(news.CategoryTech), 1)
	assert.Equal(t, int64(7), f.cache.Version())

	published := f.redis.Published()
	require.Len(t, published, 1)
	var msg NewsRefreshNotifyMessage
	require.NoError(t, json.Unmarshal([]byte(published[0].Payload), &msg))
	assert.Equal(t, int64(7), msg.FeedVersion)

	_, err = apiCache.LoadFromCloud(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), apiCache.Version())
	assert.Len(t, apiCache.Articles(news.CategoryTech), 1)
	assert.Empty(t, apiCache.Articles(news.CategoryAIML))
}

func TestNewsRefreshRejectsBadPayload(t *testing.T) {
	f := newFixture(t)
	err := f.handler.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeNewsRefresh, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSelectCategories(t *testing.T) {
	all, unknown := selectCategories(nil)
	assert.Equal(t, news.Categories, all)
	assert.Empty(t, unknown)

	selected, unknown := selectCategories([]string{"ai", "github", "weather"})
	assert.Equal(t, []string{news.CategoryAIML, news.CategoryGitHub}, selected)
	assert.Equal(t, []string{"weather"}, unknown)
}
