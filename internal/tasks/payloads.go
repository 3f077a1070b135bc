package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeNewsRefresh = "news:refresh"
)

// QueueNews 是新闻刷新使用的队列。
const QueueNews = "news"

// NewsRefreshPayload 描述一次新闻刷新。Categories 为空表示刷新全部分类。
// LockToken 非空表示入队方已经持有刷新锁（管理后台触发），worker 用它释放锁；
// 定时任务入队时为空，由 worker 自己抢锁。
type NewsRefreshPayload struct {
	Categories    []string `json:"categories,omitempty"`
	SyncCloud     bool     `json:"sync_cloud"`
	CorrelationID string   `json:"correlation_id"`
	LockToken     string   `json:"lock_token,omitempty"`
}

// NewNewsRefreshTask 构造新闻刷新任务。
func NewNewsRefreshTask(p NewsRefreshPayload, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal news refresh payload: %w", err)
	}
	opts = append([]asynq.Option{asynq.Queue(QueueNews), asynq.MaxRetry(2)}, opts...)
	return asynq.NewTask(TypeNewsRefresh, payload, opts...), nil
}

// ParseNewsRefreshPayload 解析任务负载。
func ParseNewsRefreshPayload(t *asynq.Task) (NewsRefreshPayload, error) {
	var p NewsRefreshPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal news refresh payload: %w", err)
	}
	return p, nil
}
