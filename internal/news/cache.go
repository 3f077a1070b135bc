package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"prashikshan/internal/storage"
)

const cacheFormatVersion = "1.0"

// DefaultCloudObjectKey 是缓存在对象存储中的对象名。
const DefaultCloudObjectKey = "news-cache/news_cache.json"

// CloudStore 是缓存云同步所需的对象存储能力，由 storage.Client 实现。
type CloudStore interface {
	PutBytes(ctx context.Context, objectName string, data []byte, contentType string) error
	GetBytes(ctx context.Context, objectName string) ([]byte, error)
}

// CacheMetadata 记录缓存的刷新次数与创建时间。
type CacheMetadata struct {
	RefreshCount int        `json:"refresh_count"`
	CreatedAt    *time.Time `json:"created_at"`
	Version      string     `json:"version"`
}

// CacheDocument 是落盘与上传的 JSON 结构。
type CacheDocument struct {
	LastUpdated         *time.Time           `json:"last_updated"`
	LastRefreshDuration float64              `json:"last_refresh_duration"`
	TotalArticles       int                  `json:"total_articles"`
	FeedVersion         int64                `json:"feed_version"`
	Categories          map[string][]Article `json:"categories"`
	Metadata            CacheMetadata        `json:"metadata"`
}

func newCacheDocument(now time.Time, version int64) CacheDocument {
	categories := make(map[string][]Article, len(Categories))
	for _, c := range Categories {
		categories[c] = []Article{}
	}
	created := now.UTC()
	return CacheDocument{
		FeedVersion: version,
		Categories:  categories,
		Metadata:    CacheMetadata{CreatedAt: &created, Version: cacheFormatVersion},
	}
}

// CacheStats 是管理后台展示的缓存概况。
type CacheStats struct {
	LastUpdated         *time.Time     `json:"last_updated"`
	LastRefreshDuration float64        `json:"last_refresh_duration"`
	TotalArticles       int            `json:"total_articles"`
	FeedVersion         int64          `json:"feed_version"`
	CategoryCounts      map[string]int `json:"category_counts"`
	Metadata            CacheMetadata  `json:"metadata"`
	CacheFile           string         `json:"cache_file"`
	CacheSizeKB         float64        `json:"cache_size_kb"`
}

// Cache 是分类文章的本地 JSON 缓存，可同步到对象存储，供 api 与 worker 共享。
// 并发安全。
type Cache struct {
	path     string
	cloud    CloudStore
	cloudKey string
	logger   *slog.Logger
	now      func() time.Time

	mu  sync.RWMutex
	doc CacheDocument
}

// NewCache 打开本地缓存文件；文件不存在或损坏时从空缓存开始。cloud 可以为 nil。
func NewCache(path string, cloud CloudStore, cloudKey string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cloudKey == "" {
		cloudKey = DefaultCloudObjectKey
	}
	c := &Cache{
		path:     path,
		cloud:    cloud,
		cloudKey: cloudKey,
		logger:   logger.With(slog.String("component", "news_cache")),
		now:      time.Now,
	}
	c.doc = newCacheDocument(c.now(), 1)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		c.logger.Warn("read cache file failed", slog.String("path", path), slog.Any("error", err))
	default:
		if err := c.replace(data); err != nil {
			c.logger.Warn("cache file corrupt, starting empty", slog.String("path", path), slog.Any("error", err))
		}
	}
	return c
}

// replace 用 JSON 内容替换当前文档，调用方负责加锁（或在构造期间调用）。
func (c *Cache) replace(data []byte) error {
	var doc CacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode cache: %w", err)
	}
	if doc.Categories == nil {
		doc.Categories = map[string][]Article{}
	}
	if doc.FeedVersion <= 0 {
		doc.FeedVersion = 1
	}
	// feed 版本只增不减，较旧的副本不能让客户端看到回退的版本号。
	if doc.FeedVersion < c.doc.FeedVersion {
		doc.FeedVersion = c.doc.FeedVersion
	}
	if doc.Metadata.Version == "" {
		doc.Metadata.Version = cacheFormatVersion
	}
	c.doc = doc
	return nil
}

// Articles 返回分类下缓存的文章副本。
func (c *Cache) Articles(category string) []Article {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.doc.Categories[category]
	out := make([]Article, len(src))
	copy(out, src)
	return out
}

// UpdateCategory 替换一个分类的文章并更新统计。
func (c *Cache) UpdateCategory(category string, articles []Article) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc.Categories == nil {
		c.doc.Categories = map[string][]Article{}
	}
	c.doc.Categories[category] = articles
	c.touch()
}

// UpdateAll 整体替换所有分类。
func (c *Cache) UpdateAll(categories map[string][]Article) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc.Categories = categories
	c.touch()
}

func (c *Cache) touch() {
	total := 0
	for _, list := range c.doc.Categories {
		total += len(list)
	}
	now := c.now().UTC()
	c.doc.TotalArticles = total
	c.doc.LastUpdated = &now
	c.doc.Metadata.RefreshCount++
}

// SetRefreshDuration 记录最近一次刷新耗时（秒，保留两位小数）。
func (c *Cache) SetRefreshDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc.LastRefreshDuration = math.Round(d.Seconds()*100) / 100
}

// IsStale 判断缓存是否超过 maxAge 未更新；从未更新过视为过期。
func (c *Cache) IsStale(maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.doc.LastUpdated == nil {
		return true
	}
	return c.now().Sub(*c.doc.LastUpdated) > maxAge
}

// Version 返回 feed 版本号，客户端轮询它判断是否需要重新拉取。
func (c *Cache) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.FeedVersion
}

// LastUpdated 返回最近更新时间。
func (c *Cache) LastUpdated() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.LastUpdated
}

// IncrementVersion 增加 feed 版本，写盘后上传到对象存储，返回新版本号。
// 上传失败时本地已生效，返回的错误包装 ErrCloudSync。
func (c *Cache) IncrementVersion(ctx context.Context) (int64, error) {
	c.mu.Lock()
	c.doc.FeedVersion++
	version := c.doc.FeedVersion
	err := c.saveLocked()
	c.mu.Unlock()
	if err != nil {
		return version, err
	}
	return version, c.publish(ctx)
}

// Clear 清空全部文章，写盘后上传到对象存储。feed 版本继续递增，客户端据此丢弃旧数据。
// 其他进程下次 LoadFromCloud 时拿到的就是清空后的缓存。
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.doc = newCacheDocument(c.now(), c.doc.FeedVersion+1)
	err := c.saveLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.publish(ctx)
}

// publish 在配置了对象存储时上传缓存。
func (c *Cache) publish(ctx context.Context) error {
	if err := c.SyncToCloud(ctx); err != nil && !errors.Is(err, ErrCloudDisabled) {
		return err
	}
	return nil
}

// Stats 返回缓存统计。
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make(map[string]int, len(c.doc.Categories))
	for k, v := range c.doc.Categories {
		counts[k] = len(v)
	}
	stats := CacheStats{
		LastUpdated:         c.doc.LastUpdated,
		LastRefreshDuration: c.doc.LastRefreshDuration,
		TotalArticles:       c.doc.TotalArticles,
		FeedVersion:         c.doc.FeedVersion,
		CategoryCounts:      counts,
		Metadata:            c.doc.Metadata,
		CacheFile:           c.path,
	}
	if info, err := os.Stat(c.path); err == nil {
		stats.CacheSizeKB = math.Round(float64(info.Size())/1024*100) / 100
	}
	return stats
}

// Save 写本地文件，syncCloud 为 true 时再上传到对象存储。
func (c *Cache) Save(ctx context.Context, syncCloud bool) error {
	c.mu.Lock()
	err := c.saveLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if syncCloud {
		return c.SyncToCloud(ctx)
	}
	return nil
}

// saveLocked 先写临时文件再 rename，避免读到半截 JSON。
func (c *Cache) saveLocked() error {
	data, err := json.Marshal(c.doc)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".news_cache-*.json")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

var (
	// ErrCloudDisabled 表示没有配置对象存储。
	ErrCloudDisabled = errors.New("cloud sync is not configured")
	// ErrCloudSync 表示本地缓存已写入但上传对象存储失败。
	ErrCloudSync = errors.New("cloud sync failed")
)

// SyncToCloud 把当前缓存上传到对象存储。
func (c *Cache) SyncToCloud(ctx context.Context) error {
	if c.cloud == nil {
		return ErrCloudDisabled
	}
	c.mu.RLock()
	data, err := json.Marshal(c.doc)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := c.cloud.PutBytes(ctx, c.cloudKey, data, "application/json"); err != nil {
		return fmt.Errorf("%w: upload cache: %w", ErrCloudSync, err)
	}
	c.logger.Info("cache synced to cloud", slog.String("key", c.cloudKey), slog.Int("bytes", len(data)))
	return nil
}

// LoadFromCloud 用对象存储中的缓存替换本地缓存并写盘。feed 版本取两者较大值。
// 云端没有缓存对象时返回 false 且不报错。
func (c *Cache) LoadFromCloud(ctx context.Context) (bool, error) {
	if c.cloud == nil {
		return false, ErrCloudDisabled
	}
	data, err := c.cloud.GetBytes(ctx, c.cloudKey)
	if err != nil {
		if storage.IsNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("download cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.replace(data); err != nil {
		return false, err
	}
	if err := c.saveLocked(); err != nil {
		return false, err
	}
	c.logger.Info("cache loaded from cloud", slog.String("key", c.cloudKey))
	return true, nil
}
