package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisRateCounter 是固定窗口计数所需的 Redis 命令，*redis.Client 满足。
type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// hourlyQuota 按自然小时给每个主体计数，键形如 ratelimit:<scope>:<subject>:<yyyymmddhh>。
type hourlyQuota struct {
	counter redisRateCounter
	scope   string
	limit   int64
	now     func() time.Time
}

func newHourlyQuota(counter redisRateCounter, scope string, limit int64) *hourlyQuota {
	if counter == nil {
		return nil
	}
	return &hourlyQuota{counter: counter, scope: scope, limit: limit, now: time.Now}
}

func (q *hourlyQuota) key(subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", q.scope, subject, q.now().UTC().Format("2006010215"))
}

// Take 占用一次额度，返回本小时剩余次数；超额时 allowed 为 false。
func (q *hourlyQuota) Take(ctx context.Context, subject string) (remaining int64, allowed bool, err error) {
	key := q.key(subject)
	count, err := q.counter.Incr(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		// 窗口多留一分钟，避免跨小时边界时键提前消失。
		_ = q.counter.Expire(ctx, key, time.Hour+time.Minute).Err()
	}
	if count > q.limit {
		return 0, false, nil
	}
	return q.limit - count, true, nil
}
