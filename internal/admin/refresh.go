package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	refreshStatusKey = "admin:refresh:status"
	refreshLockKey   = "admin:refresh:lock"

	// DefaultRefreshLockTTL 是刷新锁的过期时间，worker 崩溃时锁最多保留这么久。
	DefaultRefreshLockTTL = 30 * time.Minute
)

// ErrRefreshRunning 表示已有刷新任务在执行。
var ErrRefreshRunning = errors.New("refresh already in progress")

// ErrLockLost 表示刷新锁已过期或被其他刷新持有，本次结束不再改写状态。
var ErrLockLost = errors.New("refresh lock no longer held")

// releaseLockScript 只在锁值等于持有者令牌时删除锁。
const releaseLockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RefreshStatus 描述最近一次新闻刷新的进度。
type RefreshStatus struct {
	IsRunning   bool       `json:"is_running"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Progress    int        `json:"progress"`
	CurrentTask string     `json:"current_task,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	ErrorCode   int        `json:"error_code"`
	TaskID      string     `json:"task_id,omitempty"`

	// LockToken 是本次 Start 取得的锁令牌，只在 Start 的返回值里出现。
	LockToken string `json:"-"`
}

// RefreshTracker 在 Redis 中保存刷新状态，并用 SETNX 保证同一时间只有一个刷新。
type RefreshTracker struct {
	backend Backend
	lockTTL time.Duration
	now     func() time.Time
}

// NewRefreshTracker 创建刷新状态跟踪器。
func NewRefreshTracker(backend Backend, lockTTL time.Duration) *RefreshTracker {
	if lockTTL <= 0 {
		lockTTL = DefaultRefreshLockTTL
	}
	return &RefreshTracker{backend: backend, lockTTL: lockTTL, now: time.Now}
}

// Get 返回当前状态；从未刷新过时返回零值。
func (t *RefreshTracker) Get(ctx context.Context) (RefreshStatus, error) {
	var status RefreshStatus
	raw, err := t.backend.Get(ctx, refreshStatusKey).Result()
	if errors.Is(err, redis.Nil) {
		return status, nil
	}
	if err != nil {
		return status, fmt.Errorf("load refresh status: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return RefreshStatus{}, fmt.Errorf("decode refresh status: %w", err)
	}
	return status, nil
}

func (t *RefreshTracker) put(ctx context.Context, status RefreshStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	if err := t.backend.Set(ctx, refreshStatusKey, data, 0).Err(); err != nil {
		return fmt.Errorf("save refresh status: %w", err)
	}
	return nil
}

// Start 获取刷新锁并把状态置为运行中。锁已被占用时返回 ErrRefreshRunning。
// 返回状态的 LockToken 用于之后的 Finish/Abort。
func (t *RefreshTracker) Start(ctx context.Context, currentTask string) (RefreshStatus, error) {
	token := uuid.NewString()
	ok, err := t.backend.SetNX(ctx, refreshLockKey, token, t.lockTTL).Result()
	if err != nil {
		return RefreshStatus{}, fmt.Errorf("acquire refresh lock: %w", err)
	}
	if !ok {
		current, _ := t.Get(ctx)
		return current, ErrRefreshRunning
	}

	started := t.now().UTC()
	status := RefreshStatus{
		IsRunning:   true,
		StartedAt:   &started,
		CurrentTask: currentTask,
	}
	if err := t.put(ctx, status); err != nil {
		_, _ = t.release(ctx, token)
		return RefreshStatus{}, err
	}
	status.LockToken = token
	return status, nil
}

// release 比较后删除锁，返回锁是否仍由 token 持有。
func (t *RefreshTracker) release(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	n, err := t.backend.Eval(ctx, releaseLockScript, []string{refreshLockKey}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("release refresh lock: %w", err)
	}
	return n == 1, nil
}

// Update 读出状态、应用修改后写回。
func (t *RefreshTracker) Update(ctx context.Context, mutate func(*RefreshStatus)) (RefreshStatus, error) {
	status, err := t.Get(ctx)
	if err != nil {
		return status, err
	}
	mutate(&status)
	return status, t.put(ctx, status)
}

// Finish 释放 token 对应的锁并把状态置为结束。lastError 为空表示全部成功。
// 锁已不属于 token 时返回 ErrLockLost，状态留给当前持有者。
func (t *RefreshTracker) Finish(ctx context.Context, token, lastError string, code int) (RefreshStatus, error) {
	held, err := t.release(ctx, token)
	if err != nil {
		return RefreshStatus{}, err
	}
	if !held {
		current, _ := t.Get(ctx)
		return current, ErrLockLost
	}
	finished := t.now().UTC()
	return t.Update(ctx, func(s *RefreshStatus) {
		s.IsRunning = false
		s.FinishedAt = &finished
		s.Progress = 100
		s.CurrentTask = "Completed"
		if lastError != "" {
			s.LastError = lastError
		}
		s.ErrorCode = code
	})
}

// Abort 在任务未能入队时释放锁并回滚状态。
func (t *RefreshTracker) Abort(ctx context.Context, token, reason string) error {
	held, err := t.release(ctx, token)
	if err != nil {
		return err
	}
	if !held {
		return ErrLockLost
	}
	_, err = t.Update(ctx, func(s *RefreshStatus) {
		s.IsRunning = false
		s.CurrentTask = ""
		s.LastError = reason
	})
	return err
}
