package news

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"prashikshan/internal/admin"
	"prashikshan/internal/metrics"
)

// ErrUnknownCategory 表示请求了不存在的分类。
var ErrUnknownCategory = errors.New("unknown category")

// DefaultSourceTimeout 是单个来源的抓取上限。
const DefaultSourceTimeout = 15 * time.Second

const maxParallelSources = 8

// SettingsProvider 提供排序方式、来源优先级与每类文章上限。
type SettingsProvider interface {
	Get(ctx context.Context) (admin.Settings, error)
}

type source struct {
	name  string
	fetch func(ctx context.Context) ([]Article, error)
}

// Aggregator 按分类并行抓取多个来源，去重、排序并截断。
type Aggregator struct {
	sources  *Sources
	settings SettingsProvider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAggregator 创建聚合器。settings 为 nil 时使用默认设置。
func NewAggregator(sources *Sources, settings SettingsProvider, timeout time.Duration, logger *slog.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		sources:  sources,
		settings: settings,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "news_aggregator")),
	}
}

// Sources 返回底层来源集合，供单来源接口使用。
func (a *Aggregator) Sources() *Sources {
	return a.sources
}

func (a *Aggregator) google(query string, n int) source {
	return source{name: "Google: " + query, fetch: func(ctx context.Context) ([]Article, error) {
		return a.sources.GoogleNews(ctx, query, n)
	}}
}

func (a *Aggregator) reddit(subreddit string, n int) source {
	return source{name: "r/" + subreddit, fetch: func(ctx context.Context) ([]Article, error) {
		return a.sources.Reddit(ctx, subreddit, n)
	}}
}

func (a *Aggregator) plan(category string) ([]source, bool) {
	s := a.sources
	switch category {
	case CategoryTech:
		return []source{
			{"TechCrunch", s.TechCrunch},
			{"Hacker News", s.HackerNews},
			{"Dev.to", s.DevTo},
			{"The Verge", s.TheVerge},
			{"Wired", s.Wired},
			{"Ars Technica", s.ArsTechnica},
			{"BBC News", s.BBCTechnology},
			a.google("AI artificial intelligence ChatGPT latest news", 5),
			a.google("software development programming trends 2024", 5),
			a.google("cybersecurity hacking data breach news", 4),
		}, true
	case CategoryEducation:
		return []source{
			{"NDTV Education", s.NDTVEducation},
			a.google("online courses free certification Coursera Udemy", 6),
			a.google("skill development training india NSDC", 5),
			a.google("placement jobs campus recruitment freshers 2024", 5),
			a.google("scholarship students india 2024 eligibility", 4),
			a.google("competitive exams GATE CAT UPSC preparation tips", 4),
			a.google("internship opportunities students india tech", 4),
			a.google("coding bootcamp learn programming india", 4),
		}, true
	case CategoryDeveloper:
		return []source{
			{"Dev.to", s.DevTo},
			{"Hacker News", s.HackerNews},
			{"GitHub Trending", s.GitHubTrending},
			a.google("web development react angular vue javascript", 5),
			a.google("python programming tutorials tips tricks", 4),
			a.google("developer tools productivity coding", 4),
		}, true
	case CategoryCareer:
		return []source{
			a.google("job openings hiring tech india bangalore hyderabad", 6),
			a.google("remote work jobs opportunities work from home", 5),
			a.google("salary hike increment appraisal trends india", 4),
			a.google("interview preparation tips tech companies", 4),
			a.google("layoffs hiring freeze tech industry news", 4),
			a.google("linkedin career tips professional networking", 4),
			a.reddit("cscareerquestions", 8),
		}, true
	case CategoryAIML:
		return []source{
			a.google("ChatGPT OpenAI GPT-4 latest updates features", 6),
			a.google("Google Gemini Bard AI assistant news", 5),
			a.google("artificial intelligence business applications", 5),
			a.google("machine learning deep learning research papers", 4),
			a.google("AI automation jobs impact future work", 4),
			a.google("generative AI image video tools Midjourney DALL-E", 4),
			a.reddit("MachineLearning", 6),
			a.reddit("artificial", 5),
		}, true
	case CategoryStartups:
		return []source{
			{"Product Hunt", s.ProductHunt},
			a.google("startup funding series A B C india", 6),
			a.google("indian unicorn startup valuation news", 5),
			a.google("entrepreneur success story india founder", 4),
			a.google("Y Combinator startup accelerator news", 4),
			a.google("venture capital investment tech startups", 4),
			a.reddit("startups", 6),
		}, true
	case CategoryGitHub:
		return []source{{"GitHub Trending", s.GitHubTrending}}, true
	case CategoryGeneral:
		return []source{
			a.google("trending india news today viral", 6),
			a.google("technology trends 2024 2025 predictions", 5),
			a.google("digital transformation business innovation", 4),
			a.google("future skills demand jobs 2025", 4),
			a.google("fintech digital payments UPI india", 4),
			a.google("electric vehicles EV india tesla", 4),
		}, true
	}
	return nil, false
}

func (a *Aggregator) currentSettings(ctx context.Context) admin.Settings {
	if a.settings == nil {
		return admin.DefaultSettings()
	}
	settings, err := a.settings.Get(ctx)
	if err != nil {
		a.logger.Warn("read admin settings failed, using defaults", slog.Any("error", err))
	}
	return settings
}

// Category 抓取一个分类。单个来源失败只记录日志；所有来源都失败时返回错误。
func (a *Aggregator) Category(ctx context.Context, category string) ([]Article, error) {
	plan, ok := a.plan(category)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	articles, failed := a.collect(ctx, plan)
	if len(articles) == 0 && failed == len(plan) {
		return nil, fmt.Errorf("category %s: all %d sources failed", category, failed)
	}

	settings := a.currentSettings(ctx)
	articles = SortArticles(Dedup(articles), settings.SortOrder, settings.SourcePriority)
	if limit := settings.ArticlesLimitPerCategory; limit > 0 && len(articles) > limit {
		articles = articles[:limit]
	}
	fillPlaceholders(articles)

	metrics.AddScrapedArticles(category, len(articles))
	a.logger.Info("category aggregated",
		slog.String("category", category),
		slog.Int("sources", len(plan)),
		slog.Int("failed_sources", failed),
		slog.Int("articles", len(articles)),
	)
	return articles, nil
}

// collect 并行执行所有来源并按计划顺序拼接结果。
func (a *Aggregator) collect(ctx context.Context, plan []source) ([]Article, int) {
	results := make([][]Article, len(plan))
	var (
		mu     sync.Mutex
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSources)
	for i, src := range plan {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, a.timeout)
			defer cancel()

			articles, err := src.fetch(sctx)
			if err != nil {
				metrics.IncSourceError(src.name)
				a.logger.Warn("news source failed", slog.String("source", src.name), slog.Any("error", err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			results[i] = articles
			return nil
		})
	}
	_ = g.Wait()

	var out []Article
	for _, r := range results {
		out = append(out, r...)
	}
	return out, failed
}

// Search 用三条扩展查询搜索 Google News，去重后截断到 limit。
func (a *Aggregator) Search(ctx context.Context, query string, limit int) ([]Article, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}
	if limit <= 0 {
		limit = 15
	}
	per := limit/3 + 2
	plan := []source{
		a.google(query, per),
		a.google(query+" latest news", per),
		a.google(query+" india", per),
	}

	articles, failed := a.collect(ctx, plan)
	if len(articles) == 0 && failed == len(plan) {
		return nil, fmt.Errorf("search %q: all sources failed", query)
	}
	articles = Dedup(articles)
	if len(articles) > limit {
		articles = articles[:limit]
	}
	fillPlaceholders(articles)
	return articles, nil
}

// SortArticles 按管理后台的排序方式排序：
// priority 按来源优先级（大小写不敏感的双向子串匹配，未知来源排最后），
// time 按时间倒序（无时间的排最后），random 随机打乱。
func SortArticles(articles []Article, order admin.SortOrder, priority []string) []Article {
	out := make([]Article, len(articles))
	copy(out, articles)

	switch order {
	case admin.SortRandom:
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	case admin.SortTime:
		sort.SliceStable(out, func(i, j int) bool {
			ti, tj := out[i].Timestamp, out[j].Timestamp
			if ti == nil || tj == nil {
				return ti != nil && tj == nil
			}
			return ti.After(*tj)
		})
	default:
		ranks := make([]int, len(out))
		for i := range out {
			ranks[i] = sourceRank(out[i].Source, priority)
		}
		idx := make([]int, len(out))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(i, j int) bool { return ranks[idx[i]] < ranks[idx[j]] })
		sorted := make([]Article, len(out))
		for i, k := range idx {
			sorted[i] = out[k]
		}
		out = sorted
	}
	return out
}

func sourceRank(source string, priority []string) int {
	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" {
		return len(priority)
	}
	for i, p := range priority {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.Contains(s, p) || strings.Contains(p, s) {
			return i
		}
	}
	return len(priority)
}
