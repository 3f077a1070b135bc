package news

import (
	"context"
	"log/slog"
	"strings"
)

// BrowserGate 报告浏览器渲染抓取当前是否启用（管理后台开关）。
type BrowserGate func(ctx context.Context) bool

// Sources 封装所有单一来源的抓取函数。
type Sources struct {
	fetcher   *Fetcher
	endpoints Endpoints
	logger    *slog.Logger

	renderer    PageRenderer
	remote      *ScraperClient
	browserGate BrowserGate
}

// SourcesOption 定制 Sources。
type SourcesOption func(*Sources)

// WithEndpoints 替换上游地址。
func WithEndpoints(e Endpoints) SourcesOption {
	return func(s *Sources) { s.endpoints = e }
}

// WithRenderer 设置本地 headless 浏览器。
func WithRenderer(r PageRenderer) SourcesOption {
	return func(s *Sources) { s.renderer = r }
}

// WithScraperClient 设置远端浏览器抓取服务。
func WithScraperClient(c *ScraperClient) SourcesOption {
	return func(s *Sources) { s.remote = c }
}

// WithBrowserGate 设置浏览器抓取开关。
func WithBrowserGate(g BrowserGate) SourcesOption {
	return func(s *Sources) { s.browserGate = g }
}

// NewSources 创建来源集合。
func NewSources(fetcher *Fetcher, logger *slog.Logger, opts ...SourcesOption) *Sources {
	if fetcher == nil {
		fetcher = NewFetcher(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sources{
		fetcher:   fetcher,
		endpoints: DefaultEndpoints(),
		logger:    logger.With(slog.String("component", "news_sources")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sources) browserEnabled(ctx context.Context) bool {
	if s.browserGate == nil {
		return false
	}
	return s.browserGate(ctx)
}

// BrowserStatus 描述浏览器抓取的可用情况，用于 /sources 与管理后台。
type BrowserStatus struct {
	Enabled         bool `json:"enabled"`
	LocalBrowser    bool `json:"local_browser"`
	RemoteService   bool `json:"remote_service"`
	RemoteAvailable bool `json:"remote_available"`
}

// BrowserStatus 返回当前浏览器抓取状态；checkRemote 为 true 时探测远端 /health。
func (s *Sources) BrowserStatus(ctx context.Context, checkRemote bool) BrowserStatus {
	st := BrowserStatus{
		Enabled:       s.browserEnabled(ctx),
		LocalBrowser:  s.renderer != nil,
		RemoteService: s.remote != nil,
	}
	if checkRemote && s.remote != nil {
		st.RemoteAvailable = s.remote.Available(ctx)
	}
	return st
}

// GoogleNews 按关键词搜索 Google News RSS。
func (s *Sources) GoogleNews(ctx context.Context, query string, n int) ([]Article, error) {
	if n <= 0 {
		n = 10
	}
	return s.fetcher.fetchFeed(ctx, feedSpec{
		Source:      "Google News",
		Category:    CategoryGeneral,
		URL:         s.endpoints.googleNewsURL(query),
		Limit:       n,
		SourceTitle: true,
	})
}

// TechCrunch 抓取 RSS，并为缺图的文章补全页面封面图。
func (s *Sources) TechCrunch(ctx context.Context) ([]Article, error) {
	articles, err := s.fetcher.fetchFeed(ctx, feedSpec{
		Source:    "TechCrunch",
		Category:  CategoryTech,
		URL:       s.endpoints.TechCrunch,
		Limit:     8,
		DescLimit: 200,
	})
	if err != nil {
		return nil, err
	}
	s.enrichImages(ctx, articles, func(Article) bool { return true })
	return articles, nil
}

func (s *Sources) TheVerge(ctx context.Context) ([]Article, error) {
	return s.fetcher.fetchFeed(ctx, feedSpec{Source: "The Verge", Category: CategoryTech, URL: s.endpoints.TheVerge, Limit: 8, DescLimit: 200})
}

func (s *Sources) Wired(ctx context.Context) ([]Article, error) {
	return s.fetcher.fetchFeed(ctx, feedSpec{Source: "Wired", Category: CategoryTech, URL: s.endpoints.Wired, Limit: 8, DescLimit: 200})
}

func (s *Sources) ArsTechnica(ctx context.Context) ([]Article, error) {
	return s.fetcher.fetchFeed(ctx, feedSpec{Source: "Ars Technica", Category: CategoryTech, URL: s.endpoints.ArsTechnica, Limit: 8, DescLimit: 200})
}

func (s *Sources) BBCTechnology(ctx context.Context) ([]Article, error) {
	return s.fetcher.fetchFeed(ctx, feedSpec{Source: "BBC News", Category: CategoryTech, URL: s.endpoints.BBCTechnology, Limit: 8, DescLimit: 200})
}

func (s *Sources) NDTVEducation(ctx context.Context) ([]Article, error) {
	return s.fetcher.fetchFeed(ctx, feedSpec{Source: "NDTV Education", Category: CategoryEducation, URL: s.endpoints.NDTVEducation, Limit: 8, DescLimit: 200})
}

// ProductHunt 在浏览器抓取启用时优先走浏览器，失败或未启用时回退到 RSS。
func (s *Sources) ProductHunt(ctx context.Context) ([]Article, error) {
	if articles := s.viaBrowser(ctx, "producthunt", "https://www.producthunt.com/", "/posts/", "Product Hunt", CategoryStartups); len(articles) > 0 {
		return articles, nil
	}
	return s.fetcher.fetchFeed(ctx, feedSpec{Source: "Product Hunt", Category: CategoryStartups, URL: s.endpoints.ProductHunt, Limit: 10, DescLimit: 200})
}

// Medium 抓取标签下的文章，浏览器抓取优先，RSS 兜底。
func (s *Sources) Medium(ctx context.Context, tag string) ([]Article, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		tag = "technology"
	}
	pageURL := "https://medium.com/tag/" + tag
	if articles := s.viaBrowser(ctx, "medium", pageURL, "/@", "Medium", CategoryTech); len(articles) > 0 {
		return articles, nil
	}
	return s.fetcher.fetchFeed(ctx, feedSpec{Source: "Medium", Category: CategoryTech, URL: s.endpoints.mediumURL(tag), Limit: 8, DescLimit: 200})
}

// viaBrowser 依次尝试远端抓取服务与本地 headless 浏览器，任何失败都返回 nil。
func (s *Sources) viaBrowser(ctx context.Context, remoteSource, pageURL, pathHint, source, category string) []Article {
	if !s.browserEnabled(ctx) {
		return nil
	}
	logger := s.logger.With(slog.String("source", source))

	if s.remote != nil {
		articles, err := s.remote.ScrapeSource(ctx, remoteSource)
		if err == nil && len(articles) > 0 {
			return articles
		}
		if err != nil {
			logger.Warn("remote scraper failed, trying local browser", slog.Any("error", err))
		}
	}

	if s.renderer != nil {
		htmlText, err := s.renderer.RenderHTML(ctx, pageURL, "a")
		if err != nil {
			logger.Warn("browser render failed, falling back to rss", slog.Any("error", err))
			return nil
		}
		return parseLinkListing([]byte(htmlText), pageURL, pathHint, source, category, 10)
	}
	return nil
}
