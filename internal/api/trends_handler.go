package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"prashikshan/internal/news"
)

const (
	defaultSearchQuery = "technology"
	defaultSearchLimit = 15
	maxSearchLimit     = 50
	redditTrendLimit   = 15
)

// TrendsHandler 提供 /api/trends 新闻接口，分类数据优先取缓存。
type TrendsHandler struct {
	service *news.Service
	logger  *slog.Logger
}

// NewTrendsHandler 构造 TrendsHandler。
func NewTrendsHandler(service *news.Service, logger *slog.Logger) *TrendsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrendsHandler{service: service, logger: logger}
}

func forceRefresh(c *gin.Context) bool {
	return strings.EqualFold(c.Query("refresh"), "true")
}

// articlesOrEmpty 保证 JSON 输出为 [] 而不是 null。
func articlesOrEmpty(articles []news.Article) []news.Article {
	if articles == nil {
		return []news.Article{}
	}
	return articles
}

// Version 返回缓存版本号，客户端轮询该接口判断是否需要重新加载。
func (h *TrendsHandler) Version(c *gin.Context) {
	cache := h.service.Cache()
	c.JSON(http.StatusOK, gin.H{
		"version":      cache.Version(),
		"last_updated": cache.LastUpdated(),
	})
}

func (h *TrendsHandler) categories(c *gin.Context, keys []string) {
	force := forceRefresh(c)
	out := gin.H{}
	for _, key := range keys {
		articles, _, err := h.service.CachedOrScrape(c.Request.Context(), key, force)
		if err != nil {
			h.logger.Error("load trends category", slog.String("category", key), slog.Any("error", err))
			Internal(c, err.Error())
			return
		}
		out[key] = articlesOrEmpty(articles)
	}
	out["_cached"] = !force
	c.JSON(http.StatusOK, out)
}

// Overview 返回 tech、education、general 三个分类。
func (h *TrendsHandler) Overview(c *gin.Context) {
	h.categories(c, []string{news.CategoryTech, news.CategoryEducation, news.CategoryGeneral})
}

// All 返回主要分类的全部文章。
func (h *TrendsHandler) All(c *gin.Context) {
	h.categories(c, []string{
		news.CategoryTech,
		news.CategoryEducation,
		news.CategoryCareer,
		news.CategoryAIML,
		news.CategoryStartups,
		news.CategoryGeneral,
	})
}

// Category 返回固定分类的处理函数，例如 /api/trends/tech。
func (h *TrendsHandler) Category(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.serveCategory(c, key)
	}
}

// ByName 处理 /api/trends/category/:category，未知分类返回 400 与可用列表。
func (h *TrendsHandler) ByName(c *gin.Context) {
	name := c.Param("category")
	key, ok := news.ResolveCategory(name)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":                "Unknown category: " + name,
			"available_categories": news.CategoryAliases(),
		})
		return
	}
	h.serveCategory(c, key)
}

func (h *TrendsHandler) serveCategory(c *gin.Context, key string) {
	articles, cached, err := h.service.CachedOrScrape(c.Request.Context(), key, forceRefresh(c))
	if err != nil {
		h.logger.Error("load trends category", slog.String("category", key), slog.Any("error", err))
		Internal(c, err.Error())
		return
	}
	c.Header("X-Cache", map[bool]string{true: "HIT", false: "MISS"}[cached])
	c.JSON(http.StatusOK, articlesOrEmpty(articles))
}

// live 直接抓取单个来源，不经过缓存。
func (h *TrendsHandler) live(c *gin.Context, name string, fetch func(ctx context.Context) ([]news.Article, error)) {
	articles, err := fetch(c.Request.Context())
	if err != nil {
		h.logger.Error("scrape source", slog.String("source", name), slog.Any("error", err))
		Internal(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, articlesOrEmpty(articles))
}

func (h *TrendsHandler) sources() *news.Sources {
	return h.service.Aggregator().Sources()
}

// HackerNews 返回 Hacker News 热门。
func (h *TrendsHandler) HackerNews(c *gin.Context) {
	h.live(c, "hackernews", h.sources().HackerNews)
}

// Reddit 返回指定 subreddit 的热门帖子。
func (h *TrendsHandler) Reddit(c *gin.Context) {
	subreddit := strings.TrimSpace(c.Param("subreddit"))
	if subreddit == "" {
		BadRequest(c, "subreddit is required")
		return
	}
	h.live(c, "reddit", func(ctx context.Context) ([]news.Article, error) {
		return h.sources().Reddit(ctx, subreddit, redditTrendLimit)
	})
}

// ProductHunt 返回 Product Hunt 热门产品。
func (h *TrendsHandler) ProductHunt(c *gin.Context) {
	h.live(c, "producthunt", h.sources().ProductHunt)
}

// Medium 返回某个标签下的 Medium 文章。
func (h *TrendsHandler) Medium(c *gin.Context) {
	tag := strings.TrimSpace(c.Param("tag"))
	if tag == "" {
		BadRequest(c, "tag is required")
		return
	}
	h.live(c, "medium", func(ctx context.Context) ([]news.Article, error) {
		return h.sources().Medium(ctx, tag)
	})
}

// Search 用三条扩展查询搜索 Google News。
func (h *TrendsHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		query = defaultSearchQuery
	}
	limit := clamp(queryInt(c, "limit", defaultSearchLimit), 1, maxSearchLimit)
	articles, err := h.service.Aggregator().Search(c.Request.Context(), query, limit)
	if err != nil {
		h.logger.Error("search news", slog.String("query", query), slog.Any("error", err))
		Internal(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, articlesOrEmpty(articles))
}

type endpointInfo struct {
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint,omitempty"`
	Source      string `json:"source,omitempty"`
	Description string `json:"description,omitempty"`
}

// Sources 列出可用的分类、来源与缓存状态。
func (h *TrendsHandler) Sources(c *gin.Context) {
	stats := h.service.Cache().Stats()
	browser := h.sources().BrowserStatus(c.Request.Context(), false)
	browserStatus := "disabled"
	if browser.Enabled && (browser.LocalBrowser || browser.RemoteService) {
		browserStatus = "available"
	} else if browser.Enabled {
		browserStatus = "not installed"
	}

	c.JSON(http.StatusOK, gin.H{
		"categories": []endpointInfo{
			{Name: "Technology", Endpoint: "/api/trends/tech", Description: "Tech news from TechCrunch, Wired, The Verge, etc."},
			{Name: "Education", Endpoint: "/api/trends/education", Description: "Education, courses, scholarships, exams"},
			{Name: "Career", Endpoint: "/api/trends/career", Description: "Jobs, hiring, salaries, interviews"},
			{Name: "AI & ML", Endpoint: "/api/trends/ai", Description: "ChatGPT, AI tools, machine learning"},
			{Name: "Startups", Endpoint: "/api/trends/startups", Description: "Funding, unicorns, entrepreneurship"},
			{Name: "Developer", Endpoint: "/api/trends/developer", Description: "Dev.to, GitHub, Hacker News"},
			{Name: "General", Endpoint: "/api/trends/all", Description: "All categories combined"},
		},
		"rss_feeds": []endpointInfo{
			{Name: "Google News", Endpoint: "/api/trends/search?q=<query>"},
			{Name: "TechCrunch", Source: "Included in /tech"},
			{Name: "BBC News", Source: "Included in /tech"},
			{Name: "Wired", Source: "Included in /tech"},
			{Name: "Ars Technica", Source: "Included in /tech"},
			{Name: "The Verge", Source: "Included in /tech"},
			{Name: "Product Hunt", Endpoint: "/api/trends/producthunt"},
			{Name: "Medium", Endpoint: "/api/trends/medium/<tag>"},
			{Name: "NDTV Education", Source: "Included in /education"},
		},
		"apis": []endpointInfo{
			{Name: "Hacker News", Endpoint: "/api/trends/hackernews"},
			{Name: "Dev.to", Source: "Included in /developer"},
			{Name: "Reddit", Endpoint: "/api/trends/reddit/<subreddit>"},
			{Name: "GitHub Trending", Endpoint: "/api/trends/github"},
		},
		"cache": gin.H{
			"enabled": true,
			"stats":   stats,
		},
		"suggested_subreddits": []string{
			"technology", "programming", "webdev", "learnprogramming",
			"cscareerquestions", "MachineLearning", "artificial",
			"startups", "entrepreneur", "india", "developersIndia",
		},
		"suggested_medium_tags": []string{
			"technology", "programming", "artificial-intelligence",
			"startup", "career", "productivity", "javascript", "python",
		},
		"playwright_status": browserStatus,
		"browser":           browser,
	})
}
