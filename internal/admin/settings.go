package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const settingsKey = "admin:settings"

const (
	fieldPlaywright     = "playwright_enabled"
	fieldArticlesLimit  = "articles_limit_per_category"
	fieldSortOrder      = "sort_order"
	fieldSourcePriority = "source_priority"
)

const (
	MinArticlesLimit     = 1
	MaxArticlesLimit     = 50
	DefaultArticlesLimit = 10
)

var (
	ErrInvalidArticlesLimit = fmt.Errorf("limit must be between %d and %d", MinArticlesLimit, MaxArticlesLimit)
	ErrInvalidSortOrder     = errors.New("sort_order must be one of priority, time, random")
)

// SortOrder 决定聚合后文章的排序方式。
type SortOrder string

const (
	SortPriority SortOrder = "priority"
	SortTime     SortOrder = "time"
	SortRandom   SortOrder = "random"
)

// Valid 判断排序方式是否已知。
func (s SortOrder) Valid() bool {
	switch s {
	case SortPriority, SortTime, SortRandom:
		return true
	}
	return false
}

// DefaultSourcePriority 是 priority 排序下的默认来源顺序，越靠前越优先。
var DefaultSourcePriority = []string{
	"TechCrunch",
	"Hacker News",
	"The Verge",
	"Wired",
	"Ars Technica",
	"BBC News",
	"Dev.to",
	"GitHub Trending",
	"Product Hunt",
	"NDTV Education",
	"Medium",
	"Google News",
}

// Settings 是管理后台可调的抓取参数，api 与 worker 进程通过 Redis 共享。
type Settings struct {
	PlaywrightEnabled        bool      `json:"playwright_enabled"`
	ArticlesLimitPerCategory int       `json:"articles_limit_per_category"`
	SortOrder                SortOrder `json:"sort_order"`
	SourcePriority           []string  `json:"source_priority"`
}

// DefaultSettings 返回出厂设置。
func DefaultSettings() Settings {
	priority := make([]string, len(DefaultSourcePriority))
	copy(priority, DefaultSourcePriority)
	return Settings{
		PlaywrightEnabled:        true,
		ArticlesLimitPerCategory: DefaultArticlesLimit,
		SortOrder:                SortPriority,
		SourcePriority:           priority,
	}
}

// SettingsStore 读写 Redis hash admin:settings。
type SettingsStore struct {
	backend Backend
}

// NewSettingsStore 创建设置存储。
func NewSettingsStore(backend Backend) *SettingsStore {
	return &SettingsStore{backend: backend}
}

// Get 读取当前设置；缺失或无法解析的字段回退为默认值。
func (s *SettingsStore) Get(ctx context.Context) (Settings, error) {
	settings := DefaultSettings()

	fields, err := s.backend.HGetAll(ctx, settingsKey).Result()
	if err != nil {
		return settings, fmt.Errorf("load admin settings: %w", err)
	}

	if v, ok := fields[fieldPlaywright]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.PlaywrightEnabled = b
		}
	}
	if v, ok := fields[fieldArticlesLimit]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= MinArticlesLimit && n <= MaxArticlesLimit {
			settings.ArticlesLimitPerCategory = n
		}
	}
	if v, ok := fields[fieldSortOrder]; ok && SortOrder(v).Valid() {
		settings.SortOrder = SortOrder(v)
	}
	if v, ok := fields[fieldSourcePriority]; ok {
		var list []string
		if err := json.Unmarshal([]byte(v), &list); err == nil && len(list) > 0 {
			settings.SourcePriority = list
		}
	}
	return settings, nil
}

// SetPlaywright 设置浏览器抓取开关；enabled 为 nil 时取反。
func (s *SettingsStore) SetPlaywright(ctx context.Context, enabled *bool) (Settings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return current, err
	}
	next := !current.PlaywrightEnabled
	if enabled != nil {
		next = *enabled
	}
	if err := s.backend.HSet(ctx, settingsKey, fieldPlaywright, strconv.FormatBool(next)).Err(); err != nil {
		return current, fmt.Errorf("save playwright setting: %w", err)
	}
	current.PlaywrightEnabled = next
	return current, nil
}

// SetArticlesLimit 设置每个分类保留的文章数，范围 1..50。
func (s *SettingsStore) SetArticlesLimit(ctx context.Context, limit int) (Settings, error) {
	if limit < MinArticlesLimit || limit > MaxArticlesLimit {
		return Settings{}, ErrInvalidArticlesLimit
	}
	if err := s.backend.HSet(ctx, settingsKey, fieldArticlesLimit, strconv.Itoa(limit)).Err(); err != nil {
		return Settings{}, fmt.Errorf("save articles limit: %w", err)
	}
	return s.Get(ctx)
}

// SetSortOrder 设置排序方式。
func (s *SettingsStore) SetSortOrder(ctx context.Context, order string) (Settings, error) {
	so := SortOrder(strings.ToLower(strings.TrimSpace(order)))
	if !so.Valid() {
		return Settings{}, ErrInvalidSortOrder
	}
	if err := s.backend.HSet(ctx, settingsKey, fieldSortOrder, string(so)).Err(); err != nil {
		return Settings{}, fmt.Errorf("save sort order: %w", err)
	}
	return s.Get(ctx)
}

// SetSourcePriority 覆盖来源优先级列表，空白项会被丢弃。
func (s *SettingsStore) SetSourcePriority(ctx context.Context, sources []string) (Settings, error) {
	cleaned := make([]string, 0, len(sources))
	for _, src := range sources {
		if src = strings.TrimSpace(src); src != "" {
			cleaned = append(cleaned, src)
		}
	}
	if len(cleaned) == 0 {
		return Settings{}, errors.New("source_priority must contain at least one source")
	}
	data, err := json.Marshal(cleaned)
	if err != nil {
		return Settings{}, err
	}
	if err := s.backend.HSet(ctx, settingsKey, fieldSourcePriority, string(data)).Err(); err != nil {
		return Settings{}, fmt.Errorf("save source priority: %w", err)
	}
	return s.Get(ctx)
}
