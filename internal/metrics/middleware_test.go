package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAreaOf(t *testing.T) {
	cases := map[string]string{
		"/health":                          "system",
		"/metrics":                         "system",
		"/api/internships":                 "internships",
		"/api/internships/company/profile": "internships",
		"/api/trends/category/ai_ml":       "trends",
		"/api/admin/news/refresh":          "admin",
		"/api/feed":                        "social",
		"/api/messages":                    "social",
		"/api/uploads/url":                 "uploads",
		"/api/whatever":                    "other",
	}
	for path, want := range cases {
		assert.Equal(t, want, areaOf(path), path)
	}
}

func TestGinMiddlewareCountsTrendsCache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/api/trends/:name", func(c *gin.Context) {
		c.Header("X-Cache", c.Query("cache"))
		c.Status(http.StatusOK)
	})

	hits := testutil.ToFloat64(trendsCacheResults.WithLabelValues("HIT"))
	misses := testutil.ToFloat64(trendsCacheResults.WithLabelValues("MISS"))

	for _, target := range []string{"/api/trends/ai?cache=HIT", "/api/trends/ai?cache=HIT", "/api/trends/ai?cache=MISS", "/api/trends/ai"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	assert.Equal(t, hits+2, testutil.ToFloat64(trendsCacheResults.WithLabelValues("HIT")))
	assert.Equal(t, misses+1, testutil.ToFloat64(trendsCacheResults.WithLabelValues("MISS")))
	assert.Equal(t, 0.0, testutil.ToFloat64(requestsInFlight.WithLabelValues("trends")))
}

func TestTaskOutcome(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, TaskOutcomeOK, taskOutcome(ctx, nil))
	assert.Equal(t, TaskOutcomeDead, taskOutcome(ctx, fmt.Errorf("bad payload: %w", asynq.SkipRetry)))
	// 没有 asynq 任务元数据时按可重试处理。
	assert.Equal(t, TaskOutcomeRetry, taskOutcome(ctx, errors.New("upstream down")))
}

func TestAsynqMetricsMiddleware(t *testing.T) {
	const taskType = "test:metrics"
	handler := AsynqMetricsMiddleware()(asynq.HandlerFunc(func(_ context.Context, task *asynq.Task) error {
		if string(task.Payload()) == "fail" {
			return asynq.SkipRetry
		}
		return nil
	}))

	ctx := context.Background()
	assert.NoError(t, handler.ProcessTask(ctx, asynq.NewTask(taskType, []byte("ok"))))
	assert.ErrorIs(t, handler.ProcessTask(ctx, asynq.NewTask(taskType, []byte("fail"))), asynq.SkipRetry)

	assert.Equal(t, 1.0, testutil.ToFloat64(tasksTotal.WithLabelValues(taskType, TaskOutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tasksTotal.WithLabelValues(taskType, TaskOutcomeDead)))
	assert.Equal(t, 0.0, testutil.ToFloat64(taskInProgress.WithLabelValues(taskType)))
}
