package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"prashikshan/internal/news"
	"prashikshan/internal/worker"
)

const eventsHeartbeat = 25 * time.Second

// Subscriber 是 Redis 订阅能力，*redis.Client 满足该接口。
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// cacheLoader 用对象存储中的缓存替换本地缓存。
type cacheLoader interface {
	LoadFromCloud(ctx context.Context) (bool, error)
}

// ReloadCacheOnRefresh 订阅 worker 的刷新通知，刷新完成后从对象存储重新加载本地缓存。
// api 与 worker 各自持有一份本地缓存，云端副本是两者之间的同步点。阻塞到 ctx 取消。
func ReloadCacheOnRefresh(ctx context.Context, sub Subscriber, cache cacheLoader, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	pubsub := sub.Subscribe(ctx, worker.NewsRefreshChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("refresh notification channel closed")
			}
			handleRefreshNotification(ctx, msg.Payload, cache, logger)
		}
	}
}

func handleRefreshNotification(ctx context.Context, payload string, cache cacheLoader, logger *slog.Logger) {
	var note worker.NewsRefreshNotifyMessage
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		logger.Warn("decode refresh notification", slog.Any("error", err))
		return
	}
	log := logger.With(slog.String("correlation_id", note.CorrelationID))
	if note.Status == worker.NotifyStatusFailed {
		log.Info("refresh failed, keeping local cache", slog.Int("error_code", note.ErrorCode))
		return
	}
	loaded, err := cache.LoadFromCloud(ctx)
	switch {
	case errors.Is(err, news.ErrCloudDisabled):
		log.Debug("cloud cache disabled, skip reload")
	case err != nil:
		log.Warn("reload cache after refresh", slog.Any("error", err))
	case loaded:
		log.Info("news cache reloaded", slog.Int64("feed_version", note.FeedVersion))
	}
}

// Events 以 SSE 推送刷新结果，管理后台用它代替轮询 /news/refresh/status。
// EventSource 无法设置请求头，所以管理密钥通过 admin_key 查询参数传入。
func (h *AdminHandler) Events(sub Subscriber) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sub == nil {
			Internal(c, "event stream unavailable")
			return
		}
		ctx := c.Request.Context()
		pubsub := sub.Subscribe(ctx, worker.NewsRefreshChannel)
		defer pubsub.Close()

		ch := pubsub.Channel()
		ticker := time.NewTicker(eventsHeartbeat)
		defer ticker.Stop()

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("ready", gin.H{"timestamp": h.timestamp()})
		c.Writer.Flush()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case msg, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent("news_refresh", json.RawMessage(msg.Payload))
				return true
			case <-ticker.C:
				c.SSEvent("ping", h.timestamp())
				return true
			}
		})
	}
}
