package news

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultServeMaxAge 是接口直接返回缓存的最大缓存年龄。
const DefaultServeMaxAge = 60 * time.Minute

// sharedScrapeTimeout 限制合并后的一次现场抓取。抓取不跟随任何单个请求取消。
const sharedScrapeTimeout = 2 * time.Minute

// Service 组合聚合器与缓存，对外提供“缓存优先”的读取。
type Service struct {
	agg    *Aggregator
	cache  *Cache
	maxAge time.Duration
	logger *slog.Logger

	inflight singleflight.Group
}

// NewService 创建新闻服务。
func NewService(agg *Aggregator, cache *Cache, maxAge time.Duration, logger *slog.Logger) *Service {
	if maxAge <= 0 {
		maxAge = DefaultServeMaxAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		agg:    agg,
		cache:  cache,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "news_service")),
	}
}

func (s *Service) Aggregator() *Aggregator { return s.agg }

func (s *Service) Cache() *Cache { return s.cache }

// MaxAge 返回缓存被视为新鲜的时长。
func (s *Service) MaxAge() time.Duration { return s.maxAge }

// CachedOrScrape 依次尝试：新鲜的本地缓存、对象存储中的新鲜缓存、现场抓取。
// 现场抓取的结果写入本地缓存但不上传。同一分类的并发抓取会合并为一次。
// 第二个返回值表示结果是否来自缓存。
func (s *Service) CachedOrScrape(ctx context.Context, category string, force bool) ([]Article, bool, error) {
	if !force {
		if articles := s.fresh(category); articles != nil {
			return articles, true, nil
		}
		if ok, err := s.cache.LoadFromCloud(ctx); err != nil && !errors.Is(err, ErrCloudDisabled) {
			s.logger.Warn("load cache from cloud failed", slog.String("category", category), slog.Any("error", err))
		} else if ok {
			if articles := s.fresh(category); articles != nil {
				return articles, true, nil
			}
		}
	}

	// 抓取由所有等待者共享，先发起的请求断开不能让其余等待者一起失败。
	ch := s.inflight.DoChan(category, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedScrapeTimeout)
		defer cancel()
		articles, err := s.agg.Category(sctx, category)
		if err != nil {
			return nil, err
		}
		s.cache.UpdateCategory(category, articles)
		if err := s.cache.Save(sctx, false); err != nil {
			s.logger.Warn("save news cache failed", slog.Any("error", err))
		}
		return articles, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]Article), false, nil
	}
}

func (s *Service) fresh(category string) []Article {
	articles := s.cache.Articles(category)
	if len(articles) == 0 || s.cache.IsStale(s.maxAge) {
		return nil
	}
	return articles
}
