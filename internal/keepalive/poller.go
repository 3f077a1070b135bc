// Package keepalive 定期访问外部服务的健康检查端点，避免免费托管平台把空闲服务休眠。
package keepalive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"prashikshan/internal/metrics"
)

const (
	DefaultInterval = 10 * time.Minute
	DefaultTimeout  = 30 * time.Second

	statusKeyPrefix = "keepalive:"
	statusTTL       = 24 * time.Hour
)

// Target 是一个被探活的服务。
type Target struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ParseTargets 解析 "name=url" 或裸 url 形式的配置；裸 url 以 host 作为名字，
// 没有路径时补上 /health。
func ParseTargets(entries []string) ([]Target, error) {
	targets := make([]Target, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, raw := "", entry
		if idx := strings.Index(entry, "="); idx > 0 && !strings.Contains(entry[:idx], "/") {
			name, raw = strings.TrimSpace(entry[:idx]), strings.TrimSpace(entry[idx+1:])
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("invalid keepalive target %q", entry)
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = "/health"
		}
		if name == "" {
			name = u.Host
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate keepalive target name %q", name)
		}
		seen[name] = struct{}{}
		targets = append(targets, Target{Name: name, URL: u.String()})
	}
	return targets, nil
}

// TargetStatus 是某个目标最近一次探活的结果。
type TargetStatus struct {
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	OK         bool      `json:"ok"`
	StatusCode int       `json:"status_code,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
	Checks     int       `json:"checks"`
	Failures   int       `json:"failures"`
}

// StatusWriter 保存探活结果，*redis.Client 满足该接口。
type StatusWriter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// StatusReader 读取探活结果。
type StatusReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Poller 按固定间隔并发探活所有目标。
type Poller struct {
	targets  []Target
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	store    StatusWriter
	logger   *slog.Logger

	mu     sync.RWMutex
	status map[string]TargetStatus
}

// Option 配置 Poller。
type Option func(*Poller)

// WithHTTPClient 替换默认 HTTP 客户端。
func WithHTTPClient(c *http.Client) Option {
	return func(p *Poller) { p.client = c }
}

// WithStore 把每次结果写入 Redis，供 api 进程的管理面板读取。
func WithStore(s StatusWriter) Option {
	return func(p *Poller) { p.store = s }
}

// NewPoller 创建探活器。interval/timeout 非正时使用默认值。
func NewPoller(targets []Target, interval, timeout time.Duration, logger *slog.Logger, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		targets:  targets,
		interval: interval,
		timeout:  timeout,
		client:   &http.Client{},
		logger:   logger.With(slog.String("component", "keepalive")),
		status:   make(map[string]TargetStatus, len(targets)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run 立即探活一轮，然后每个 interval 探活一次，直到 ctx 取消。
func (p *Poller) Run(ctx context.Context) error {
	if len(p.targets) == 0 {
		p.logger.Info("no keepalive targets configured")
		<-ctx.Done()
		return nil
	}

	p.logger.Info("keepalive poller started",
		slog.Int("targets", len(p.targets)),
		slog.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.PollOnce(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("keepalive poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce 并发探活所有目标并等待全部完成。
func (p *Poller) PollOnce(ctx context.Context) {
	var g errgroup.Group
	for _, target := range p.targets {
		g.Go(func() error {
			p.record(ctx, p.ping(ctx, target))
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) ping(ctx context.Context, target Target) TargetStatus {
	result := TargetStatus{Name: target.Name, URL: target.URL}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target.URL, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	req.Header.Set("User-Agent", "prashikshan-keepalive/1.0")

	resp, err := p.client.Do(req)
	result.LatencyMS = time.Since(start).Milliseconds()
	result.CheckedAt = time.Now().UTC()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	result.StatusCode = resp.StatusCode
	result.OK = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !result.OK {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return result
}

func (p *Poller) record(ctx context.Context, result TargetStatus) {
	p.mu.Lock()
	prev := p.status[result.Name]
	result.Checks = prev.Checks + 1
	result.Failures = prev.Failures
	if !result.OK {
		result.Failures++
	}
	p.status[result.Name] = result
	p.mu.Unlock()

	metrics.ObserveKeepAlive(result.Name, result.OK, time.Duration(result.LatencyMS)*time.Millisecond)

	log := p.logger.With(slog.String("target", result.Name), slog.Int64("latency_ms", result.LatencyMS))
	if result.OK {
		log.Info("keepalive ping ok", slog.Int("status", result.StatusCode))
	} else {
		log.Warn("keepalive ping failed", slog.String("error", result.Error))
	}

	if p.store == nil || ctx.Err() != nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := p.store.Set(ctx, statusKeyPrefix+result.Name, data, statusTTL).Err(); err != nil {
		log.Warn("persist keepalive status failed", slog.Any("error", err))
	}
}

// Status 返回按名字排序的最近结果。尚未探活的目标只带名字与 URL。
func (p *Poller) Status() []TargetStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]TargetStatus, 0, len(p.targets))
	for _, target := range p.targets {
		st, ok := p.status[target.Name]
		if !ok {
			st = TargetStatus{Name: target.Name, URL: target.URL}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ReadStatus 从 Redis 读取 worker 写入的探活结果。
func ReadStatus(ctx context.Context, reader StatusReader, targets []Target) ([]TargetStatus, error) {
	out := make([]TargetStatus, 0, len(targets))
	for _, target := range targets {
		st := TargetStatus{Name: target.Name, URL: target.URL}
		raw, err := reader.Get(ctx, statusKeyPrefix+target.Name).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return nil, fmt.Errorf("read keepalive status %q: %w", target.Name, err)
		default:
			if err := json.Unmarshal([]byte(raw), &st); err != nil {
				return nil, fmt.Errorf("decode keepalive status %q: %w", target.Name, err)
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
