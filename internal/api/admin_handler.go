package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"prashikshan/internal/admin"
	"prashikshan/internal/api/middleware"
	"prashikshan/internal/auth"
	"prashikshan/internal/keepalive"
	"prashikshan/internal/news"
	"prashikshan/internal/tasks"
)

const (
	defaultCacheArticlesLimit = 100
	dashboardSampleSize       = 3
	dashboardStaleAfter       = 30 * time.Minute
)

var dashboardCategories = []string{
	news.CategoryTech,
	news.CategoryEducation,
	news.CategoryCareer,
	news.CategoryAIML,
	news.CategoryStartups,
}

// TaskEnqueuer 是 asynq.Client 的入队能力。
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AdminHandler 负责管理后台：抓取设置、缓存运维、刷新任务与保活状态。
type AdminHandler struct {
	settings  *admin.SettingsStore
	tracker   *admin.RefreshTracker
	queue     TaskEnqueuer
	news      *news.Service
	keys      *auth.AdminKeyMatcher
	keepalive keepalive.StatusReader
	targets   []keepalive.Target
	logger    *slog.Logger
	now       func() time.Time
}

// AdminDeps 汇总 AdminHandler 的依赖。
type AdminDeps struct {
	Settings  *admin.SettingsStore
	Tracker   *admin.RefreshTracker
	Queue     TaskEnqueuer
	News      *news.Service
	Keys      *auth.AdminKeyMatcher
	KeepAlive keepalive.StatusReader
	Targets   []keepalive.Target
	Logger    *slog.Logger
}

// NewAdminHandler 构造 AdminHandler。
func NewAdminHandler(d AdminDeps) *AdminHandler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		settings:  d.Settings,
		tracker:   d.Tracker,
		queue:     d.Queue,
		news:      d.News,
		keys:      d.Keys,
		keepalive: d.KeepAlive,
		targets:   d.Targets,
		logger:    logger,
		now:       time.Now,
	}
}

// bindOptionalJSON 允许空请求体。
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *AdminHandler) timestamp() string {
	return h.now().Format(time.RFC3339)
}

// Health 不需要鉴权。
func (h *AdminHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"timestamp":         h.timestamp(),
		"cache_initialized": h.news != nil && h.news.Cache() != nil,
	})
}

type adminLoginRequest struct {
	AdminKey string `json:"admin_key"`
}

// Login 校验管理员密钥，密钥可以放在请求体或 X-Admin-Key 头中。
func (h *AdminHandler) Login(c *gin.Context) {
	var req adminLoginRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	key := strings.TrimSpace(req.AdminKey)
	if key == "" {
		key = middleware.AdminKeyFromRequest(c)
	}
	if h.keys == nil || !h.keys.Match(key) {
		middleware.LoggerFromContext(c).Warn("admin login failed")
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid admin key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Admin authenticated",
		"timestamp": h.timestamp(),
	})
}

// GetSettings 返回当前抓取设置。
func (h *AdminHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.Get(c.Request.Context())
	if err != nil {
		h.logger.Error("load admin settings", slog.Any("error", err))
		Internal(c, "failed to load settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": settings})
}

type playwrightRequest struct {
	Enabled *bool `json:"enabled"`
}

// TogglePlaywright 切换浏览器抓取开关；请求体带 enabled 时直接设置。
func (h *AdminHandler) TogglePlaywright(c *gin.Context) {
	var req playwrightRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	settings, err := h.settings.SetPlaywright(c.Request.Context(), req.Enabled)
	if err != nil {
		h.logger.Error("save playwright setting", slog.Any("error", err))
		Internal(c, "failed to save settings")
		return
	}
	state := "disabled"
	if settings.PlaywrightEnabled {
		state = "enabled"
	}
	h.logger.Info("playwright setting changed", slog.Bool("enabled", settings.PlaywrightEnabled))
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"playwright_enabled": settings.PlaywrightEnabled,
		"message":            "Playwright scraping " + state,
	})
}

type articlesLimitRequest struct {
	Limit any `json:"limit"`
}

var errLimitNotNumber = errors.New("limit must be a number")

// parseLimit 接受数字或数字字符串。
func parseLimit(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, errLimitNotNumber
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, errLimitNotNumber
		}
		return i, nil
	}
	return 0, errLimitNotNumber
}

// SetArticlesLimit 设置每个分类保留的文章数（1..50）。
func (h *AdminHandler) SetArticlesLimit(c *gin.Context) {
	var req articlesLimitRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.Limit == nil {
		BadRequest(c, "limit is required")
		return
	}
	limit, err := parseLimit(req.Limit)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	settings, err := h.settings.SetArticlesLimit(c.Request.Context(), limit)
	if errors.Is(err, admin.ErrInvalidArticlesLimit) {
		BadRequest(c, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("save articles limit", slog.Any("error", err))
		Internal(c, "failed to save settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":                     true,
		"articles_limit_per_category": settings.ArticlesLimitPerCategory,
		"message":                     fmt.Sprintf("Articles limit set to %d per category", settings.ArticlesLimitPerCategory),
	})
}

type sortOrderRequest struct {
	SortOrder      string   `json:"sort_order"`
	SourcePriority []string `json:"source_priority"`
}

// SetSortOrder 设置排序方式，可同时覆盖来源优先级。
func (h *AdminHandler) SetSortOrder(c *gin.Context) {
	var req sortOrderRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.SortOrder == "" && len(req.SourcePriority) == 0 {
		BadRequest(c, "sort_order or source_priority is required")
		return
	}
	ctx := c.Request.Context()
	var (
		settings admin.Settings
		err      error
	)
	if req.SortOrder != "" {
		settings, err = h.settings.SetSortOrder(ctx, req.SortOrder)
		if errors.Is(err, admin.ErrInvalidSortOrder) {
			BadRequest(c, err.Error())
			return
		}
		if err != nil {
			h.logger.Error("save sort order", slog.Any("error", err))
			Internal(c, "failed to save settings")
			return
		}
	}
	if len(req.SourcePriority) > 0 {
		settings, err = h.settings.SetSourcePriority(ctx, req.SourcePriority)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"sort_order":      settings.SortOrder,
		"source_priority": settings.SourcePriority,
		"message":         "Sort order set to " + string(settings.SortOrder),
	})
}

func (h *AdminHandler) refreshStatus(ctx context.Context) admin.RefreshStatus {
	status, err := h.tracker.Get(ctx)
	if err != nil {
		h.logger.Warn("load refresh status", slog.Any("error", err))
	}
	return status
}

// Stats 返回缓存、刷新与系统概况。
func (h *AdminHandler) Stats(c *gin.Context) {
	cache := h.news.Cache()
	c.JSON(http.StatusOK, gin.H{
		"cache":          cache.Stats(),
		"refresh_status": h.refreshStatus(c.Request.Context()),
		"system": gin.H{
			"timestamp":   h.timestamp(),
			"cache_stale": cache.IsStale(h.news.MaxAge()),
		},
	})
}

// CacheStats 返回缓存统计。
func (h *AdminHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.news.Cache().Stats())
}

// CacheArticles 返回缓存中的文章，category 省略时返回全部分类。
func (h *AdminHandler) CacheArticles(c *gin.Context) {
	cache := h.news.Cache()
	limit := queryInt(c, "limit", defaultCacheArticlesLimit)
	if limit < 0 {
		limit = defaultCacheArticlesLimit
	}

	label := "all"
	var articles []news.Article
	if name := strings.TrimSpace(c.Query("category")); name != "" {
		key, ok := news.ResolveCategory(name)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":                "Unknown category: " + name,
				"available_categories": news.CategoryAliases(),
			})
			return
		}
		label = key
		articles = cache.Articles(key)
	} else {
		for _, key := range news.Categories {
			articles = append(articles, cache.Articles(key)...)
		}
	}

	total := len(articles)
	if limit < total {
		articles = articles[:limit]
	}
	c.JSON(http.StatusOK, gin.H{
		"category":        label,
		"count":           len(articles),
		"articles":        articlesOrEmpty(articles),
		"total_available": total,
	})
}

// ClearCache 清空缓存并同步到云端，worker 和其他实例下次加载时看到的也是空缓存。
func (h *AdminHandler) ClearCache(c *gin.Context) {
	err := h.news.Cache().Clear(c.Request.Context())
	if err != nil && !errors.Is(err, news.ErrCloudSync) {
		h.logger.Error("clear news cache", slog.Any("error", err))
		Internal(c, "failed to clear cache")
		return
	}
	if err != nil {
		h.logger.Warn("sync cache after clear", slog.Any("error", err))
	}
	h.logger.Info("news cache cleared")
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Cache cleared",
		"cloud_synced": err == nil,
		"timestamp":    h.timestamp(),
	})
}

type refreshRequest struct {
	SyncCloud  *bool    `json:"sync_cloud"`
	Categories []string `json:"categories"`
}

// RefreshNews 抢占刷新锁后把刷新任务交给 worker。已有刷新在跑时返回 409。
func (h *AdminHandler) RefreshNews(c *gin.Context) {
	var req refreshRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	for _, name := range req.Categories {
		if _, ok := news.ResolveCategory(name); !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":                "Unknown category: " + name,
				"available_categories": news.CategoryAliases(),
			})
			return
		}
	}
	syncCloud := true
	if req.SyncCloud != nil {
		syncCloud = *req.SyncCloud
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)
	status, err := h.tracker.Start(ctx, "Initializing...")
	if errors.Is(err, admin.ErrRefreshRunning) {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"message": "Refresh already in progress",
			"status":  status,
		})
		return
	}
	if err != nil {
		log.Error("start news refresh", slog.Any("error", err))
		Internal(c, "failed to start refresh")
		return
	}

	task, err := tasks.NewNewsRefreshTask(tasks.NewsRefreshPayload{
		Categories:    req.Categories,
		SyncCloud:     syncCloud,
		CorrelationID: middleware.GetCorrelationID(c),
		LockToken:     status.LockToken,
	})
	var info *asynq.TaskInfo
	if err == nil {
		info, err = h.queue.Enqueue(task)
	}
	if err != nil {
		log.Error("enqueue news refresh", slog.Any("error", err))
		if abortErr := h.tracker.Abort(ctx, status.LockToken, "enqueue failed: "+err.Error()); abortErr != nil {
			log.Error("abort news refresh", slog.Any("error", abortErr))
		}
		Internal(c, "failed to enqueue refresh")
		return
	}

	log.Info("news refresh enqueued", slog.String("task_id", info.ID), slog.Bool("sync_cloud", syncCloud))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "News refresh started",
		"status":  status,
		"task_id": info.ID,
	})
}

// RefreshStatus 返回最近一次刷新的状态。
func (h *AdminHandler) RefreshStatus(c *gin.Context) {
	status, err := h.tracker.Get(c.Request.Context())
	if err != nil {
		h.logger.Error("load refresh status", slog.Any("error", err))
		Internal(c, "failed to load refresh status")
		return
	}
	c.JSON(http.StatusOK, status)
}

// ForceUpdate 递增 feed 版本并同步到云端，所有客户端下次轮询时重新加载。
func (h *AdminHandler) ForceUpdate(c *gin.Context) {
	cache := h.news.Cache()
	version, err := cache.IncrementVersion(c.Request.Context())
	if err != nil && !errors.Is(err, news.ErrCloudSync) {
		h.logger.Error("increment feed version", slog.Any("error", err))
		Internal(c, "failed to update feed version")
		return
	}
	if err != nil {
		h.logger.Warn("sync cache after version bump", slog.Any("error", err))
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Feed version updated - all clients will reload",
		"new_version":  version,
		"cloud_synced": err == nil,
		"timestamp":    h.timestamp(),
	})
}

// CloudSync 把本地缓存上传到对象存储。
func (h *AdminHandler) CloudSync(c *gin.Context) {
	err := h.news.Cache().SyncToCloud(c.Request.Context())
	if err != nil {
		h.logger.Warn("cloud sync failed", slog.Any("error", err))
	}
	msg := "Synced to cloud"
	if err != nil {
		msg = "Sync failed"
	}
	c.JSON(http.StatusOK, gin.H{"success": err == nil, "message": msg, "timestamp": h.timestamp()})
}

// CloudLoad 用对象存储中的缓存替换本地缓存。
func (h *AdminHandler) CloudLoad(c *gin.Context) {
	cache := h.news.Cache()
	ok, err := cache.LoadFromCloud(c.Request.Context())
	if err != nil {
		h.logger.Warn("cloud load failed", slog.Any("error", err))
	}
	if !ok || err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Load failed", "stats": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Loaded from cloud", "stats": cache.Stats()})
}

func (h *AdminHandler) keepAliveStatus(ctx context.Context) []keepalive.TargetStatus {
	if h.keepalive == nil || len(h.targets) == 0 {
		return []keepalive.TargetStatus{}
	}
	status, err := keepalive.ReadStatus(ctx, h.keepalive, h.targets)
	if err != nil {
		h.logger.Warn("read keepalive status", slog.Any("error", err))
		return []keepalive.TargetStatus{}
	}
	return status
}

// KeepAlive 返回 worker 最近一次保活探测的结果。
func (h *AdminHandler) KeepAlive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"targets":   h.keepAliveStatus(c.Request.Context()),
		"timestamp": h.timestamp(),
	})
}

// Dashboard 汇总管理后台首页需要的数据。
func (h *AdminHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	cache := h.news.Cache()

	samples := make(map[string][]news.Article, len(dashboardCategories))
	for _, key := range dashboardCategories {
		articles := cache.Articles(key)
		if len(articles) > dashboardSampleSize {
			articles = articles[:dashboardSampleSize]
		}
		samples[key] = articlesOrEmpty(articles)
	}

	settings, err := h.settings.Get(ctx)
	if err != nil {
		h.logger.Warn("load admin settings", slog.Any("error", err))
	}

	c.JSON(http.StatusOK, gin.H{
		"cache_stats":     cache.Stats(),
		"refresh_status":  h.refreshStatus(ctx),
		"article_samples": samples,
		"is_cache_stale":  cache.IsStale(dashboardStaleAfter),
		"settings":        settings,
		"browser":         h.news.Aggregator().Sources().BrowserStatus(ctx, true),
		"keepalive":       h.keepAliveStatus(ctx),
		"timestamp":       h.timestamp(),
	})
}
