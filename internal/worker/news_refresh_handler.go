package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"prashikshan/internal/admin"
	"prashikshan/internal/errcode"
	"prashikshan/internal/metrics"
	"prashikshan/internal/news"
	"prashikshan/internal/tasks"
)

// CategoryScraper 抓取一个分类，由 news.Aggregator 实现。
type CategoryScraper interface {
	Category(ctx context.Context, category string) ([]news.Article, error)
}

// NewsRefreshHandler 负责消费新闻刷新任务。
type NewsRefreshHandler struct {
	scraper   CategoryScraper
	cache     *news.Cache
	tracker   *admin.RefreshTracker
	publisher Publisher
	logger    *slog.Logger
}

// NewNewsRefreshHandler 创建任务处理器。publisher 可以为 nil。
func NewNewsRefreshHandler(
	scraper CategoryScraper,
	cache *news.Cache,
	tracker *admin.RefreshTracker,
	publisher Publisher,
	logger *slog.Logger,
) *NewsRefreshHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NewsRefreshHandler{
		scraper:   scraper,
		cache:     cache,
		tracker:   tracker,
		publisher: publisher,
		logger:    logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *NewsRefreshHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	payload, err := tasks.ParseNewsRefreshPayload(t)
	if err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	taskID, _ := asynq.GetTaskID(ctx)
	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("task_id", taskID),
	)

	categories, unknown := selectCategories(payload.Categories)
	if len(unknown) > 0 {
		log.Warn("ignoring unknown categories", slog.Any("categories", unknown))
	}

	// 管理后台入队时已持有锁；重试时上一轮已经释放，需要重新抢。
	lockToken := payload.LockToken
	retry, _ := asynq.GetRetryCount(ctx)
	if lockToken == "" || retry > 0 {
		started, err := h.tracker.Start(ctx, "Initializing...")
		if err != nil {
			if errors.Is(err, admin.ErrRefreshRunning) {
				log.Info("news refresh already running, skipping task")
				return nil
			}
			return err
		}
		lockToken = started.LockToken
	}
	finish := func(lastError string, code int) {
		_, err := h.tracker.Finish(ctx, lockToken, lastError, code)
		switch {
		case errors.Is(err, admin.ErrLockLost):
			log.Warn("refresh lock expired before completion, leaving status to current holder")
		case err != nil:
			log.Error("finish refresh status failed", slog.Any("error", err))
		}
	}
	if _, err := h.tracker.Update(ctx, func(s *admin.RefreshStatus) { s.TaskID = taskID }); err != nil {
		log.Warn("record task id failed", slog.Any("error", err))
	}

	start := time.Now()
	log.Info("Starting news refresh...", slog.Any("categories", categories))

	defer func() {
		if retErr == nil {
			return
		}
		finish(strings.TrimSpace(retErr.Error()), errcode.SystemError)
		if !isFinalAsynqAttempt(ctx) {
			return
		}
		notify := NewsRefreshNotifyMessage{
			Status:        NotifyStatusFailed,
			CorrelationID: payload.CorrelationID,
			TaskID:        taskID,
			FeedVersion:   h.cache.Version(),
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := publishNotify(ctx, h.publisher, NewsRefreshChannel, notify); err != nil {
			log.Error("publish refresh error notification failed", slog.Any("error", err))
		}
	}()

	// 先拿到云端副本，管理后台的清空或版本递增不会被本地旧缓存覆盖。
	if _, err := h.cache.LoadFromCloud(ctx); err != nil && !errors.Is(err, news.ErrCloudDisabled) {
		log.Warn("load news cache from cloud failed, refreshing local copy", slog.Any("error", err))
	}

	var (
		lastError string
		code      = errcode.OK
		counts    = make(map[string]int, len(categories))
	)
	for i, category := range categories {
		name := news.CategoryNames[category]
		if _, err := h.tracker.Update(ctx, func(s *admin.RefreshStatus) {
			s.CurrentTask = "Scraping " + name + "..."
		}); err != nil {
			log.Warn("update refresh status failed", slog.Any("error", err))
		}

		articles, err := h.scraper.Category(ctx, category)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("category refresh failed", slog.String("category", category), slog.Any("error", err))
			lastError = fmt.Sprintf("Error in %s: %v", name, err)
			code = errcode.CategoryFailed
		} else {
			h.cache.UpdateCategory(category, articles)
			counts[category] = len(articles)
			log.Info("category refreshed", slog.String("category", category), slog.Int("articles", len(articles)))
		}

		progress := (i + 1) * 100 / len(categories)
		if _, err := h.tracker.Update(ctx, func(s *admin.RefreshStatus) {
			s.Progress = progress
			if lastError != "" {
				s.LastError = lastError
			}
		}); err != nil {
			log.Warn("update refresh status failed", slog.Any("error", err))
		}
	}

	if _, err := h.tracker.Update(ctx, func(s *admin.RefreshStatus) { s.CurrentTask = "Saving cache..." }); err != nil {
		log.Warn("update refresh status failed", slog.Any("error", err))
	}

	duration := time.Since(start)
	h.cache.SetRefreshDuration(duration)
	if err := h.cache.Save(ctx, false); err != nil {
		log.Error("save news cache failed", slog.Any("error", err))
		return err
	}
	if payload.SyncCloud {
		if err := h.cache.SyncToCloud(ctx); err != nil && !errors.Is(err, news.ErrCloudDisabled) {
			log.Warn("sync news cache to cloud failed", slog.Any("error", err))
			lastError = fmt.Sprintf("Cloud sync failed: %v", err)
			if code == errcode.OK {
				code = errcode.CloudSyncFail
			}
		}
	}
	metrics.ObserveNewsRefresh(duration)

	finish(lastError, code)

	status := NotifyStatusCompleted
	if code != errcode.OK {
		status = NotifyStatusPartial
	}
	notify := NewsRefreshNotifyMessage{
		Status:         status,
		CorrelationID:  payload.CorrelationID,
		TaskID:         taskID,
		FeedVersion:    h.cache.Version(),
		DurationSec:    duration.Seconds(),
		CategoryCounts: counts,
		ErrorCode:      code,
		ErrorMessage:   lastError,
	}
	if err := publishNotify(ctx, h.publisher, NewsRefreshChannel, notify); err != nil {
		log.Warn("publish refresh notification failed", slog.Any("error", err))
	}

	log.Info("News refresh completed.", slog.Duration("duration", duration), slog.Int("error_code", code))
	return nil
}

// selectCategories 过滤请求的分类，保持 news.Categories 中的顺序。空请求表示全部。
func selectCategories(requested []string) (selected, unknown []string) {
	if len(requested) == 0 {
		return append([]string(nil), news.Categories...), nil
	}
	want := make(map[string]bool, len(requested))
	for _, c := range requested {
		key, ok := news.ResolveCategory(c)
		if !ok {
			unknown = append(unknown, c)
			continue
		}
		want[key] = true
	}
	for _, c := range news.Categories {
		if want[c] {
			selected = append(selected, c)
		}
	}
	return selected, unknown
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
