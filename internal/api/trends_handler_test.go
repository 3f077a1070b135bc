package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prashikshan/internal/news"
	"prashikshan/internal/worker"
)

func newTrendsEngine(t *testing.T) (http.Handler, *news.Service) {
	t.Helper()
	service := newTestNewsService(t, nil)
	r := newTestEngine()
	registerTrendsRoutes(r.Group("/api/trends"), NewTrendsHandler(service, nil))
	return r, service
}

func TestTrendsServeFreshCache(t *testing.T) {
	r, service := newTrendsEngine(t)
	service.Cache().UpdateCategory(news.CategoryAIML, sampleArticles(news.CategoryAIML, 3))

	rec := doRequest(t, r, http.MethodGet, "/api/trends/ai", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	var articles []news.Article
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &articles))
	require.Len(t, articles, 3)
	assert.Equal(t, news.CategoryAIML, articles[0].Category)

	rec = doRequest(t, r, http.MethodGet, "/api/trends/category/AI_ML", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
}

func TestTrendsUnknownCategory(t *testing.T) {
	r, _ := newTrendsEngine(t)

	rec := doRequest(t, r, http.MethodGet, "/api/trends/category/sports", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Unknown category: sports", body["error"])
	assert.Len(t, body["available_categories"], len(news.CategoryAliases()))
}

func TestTrendsVersionAndSources(t *testing.T) {
	r, service := newTrendsEngine(t)
	_, err := service.Cache().IncrementVersion(context.Background())
	require.NoError(t, err)

	rec := doRequest(t, r, http.MethodGet, "/api/trends/version", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, service.Cache().Version(), decodeBody(t, rec)["version"])

	rec = doRequest(t, r, http.MethodGet, "/api/trends/sources", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "disabled", body["playwright_status"])
	assert.NotEmpty(t, body["categories"])
}

type fakeLoader struct {
	calls  int
	loaded bool
	err    error
}

func (f *fakeLoader) LoadFromCloud(context.Context) (bool, error) {
	f.calls++
	return f.loaded, f.err
}

func TestHandleRefreshNotification(t *testing.T) {
	encode := func(msg worker.NewsRefreshNotifyMessage) string {
		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		return string(raw)
	}
	ctx := context.Background()
	logger := slog.Default()

	cases := []struct {
		name      string
		payload   string
		wantCalls int
	}{
		{"completed", encode(worker.NewsRefreshNotifyMessage{Status: worker.NotifyStatusCompleted, FeedVersion: 4}), 1},
		{"partial", encode(worker.NewsRefreshNotifyMessage{Status: worker.NotifyStatusPartial}), 1},
		{"failed", encode(worker.NewsRefreshNotifyMessage{Status: worker.NotifyStatusFailed, ErrorCode: 500}), 0},
		{"garbage", "{not json", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loader := &fakeLoader{loaded: true}
			handleRefreshNotification(ctx, tc.payload, loader, logger)
			assert.Equal(t, tc.wantCalls, loader.calls)
		})
	}

	loader := &fakeLoader{err: news.ErrCloudDisabled}
	handleRefreshNotification(ctx, encode(worker.NewsRefreshNotifyMessage{Status: worker.NotifyStatusCompleted}), loader, logger)
	assert.Equal(t, 1, loader.calls)
}
