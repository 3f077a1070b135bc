package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewsRefreshChannel 是刷新完成通知的 Redis Pub/Sub 频道，api 进程转发给管理后台。
const NewsRefreshChannel = "admin:news_refresh"

// 刷新通知的 status 取值。
const (
	NotifyStatusCompleted = "completed"
	NotifyStatusPartial   = "partial"
	NotifyStatusFailed    = "error"
)

// Publisher 是 Redis Publish 的最小接口。
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NewsRefreshNotifyMessage 是刷新结束后广播的消息。
// 注意：这里的字段名与前端解析保持一致。
type NewsRefreshNotifyMessage struct {
	Status         string         `json:"status"`
	CorrelationID  string         `json:"correlation_id"`
	TaskID         string         `json:"task_id,omitempty"`
	FeedVersion    int64          `json:"feed_version"`
	DurationSec    float64        `json:"duration_seconds"`
	CategoryCounts map[string]int `json:"category_counts,omitempty"`
	ErrorCode      int            `json:"error_code"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

func publishNotify(ctx context.Context, pub Publisher, channel string, msg any) error {
	if pub == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	if err := pub.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}
