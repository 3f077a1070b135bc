package news

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	hackerNewsStories = 10
	imageWorkers      = 5
	imageTimeout      = 4 * time.Second
)

type hnStory struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Time        int64  `json:"time"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
}

// HackerNews 抓取热门故事，并行补全外链的 og:image。
func (s *Sources) HackerNews(ctx context.Context) ([]Article, error) {
	var ids []int64
	if err := s.fetcher.GetJSON(ctx, s.endpoints.hackerNewsTopURL(), nil, &ids); err != nil {
		return nil, err
	}
	if len(ids) > hackerNewsStories {
		ids = ids[:hackerNewsStories]
	}

	stories := make([]*hnStory, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imageWorkers)
	for i, id := range ids {
		g.Go(func() error {
			var story hnStory
			if err := s.fetcher.GetJSON(gctx, s.endpoints.hackerNewsStoryURL(id), nil, &story); err != nil {
				s.logger.Debug("hacker news story failed", slog.Int64("id", id), slog.Any("error", err))
				return nil
			}
			stories[i] = &story
			return nil
		})
	}
	_ = g.Wait()

	articles := make([]Article, 0, len(stories))
	for _, story := range stories {
		if story == nil || story.Title == "" {
			continue
		}
		link := story.URL
		if link == "" {
			link = fmt.Sprintf("%s%d", s.endpoints.HackerNewsItem, story.ID)
		}
		ts := time.Unix(story.Time, 0).UTC()
		articles = append(articles, Article{
			Title:     story.Title,
			Link:      link,
			Published: ts.Format("Mon, 02 Jan 2006"),
			Timestamp: &ts,
			Source:    "Hacker News",
			Category:  CategoryTech,
			Score:     story.Score,
			Comments:  story.Descendants,
		})
	}

	s.enrichImages(ctx, articles, func(a Article) bool {
		return !strings.HasPrefix(a.Link, s.endpoints.HackerNewsItem)
	})
	return articles, nil
}

// enrichImages 对缺图且满足 want 的文章并行抓取 og:image，失败静默跳过。
func (s *Sources) enrichImages(ctx context.Context, articles []Article, want func(Article) bool) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(imageWorkers)
	for i := range articles {
		if articles[i].Image != "" || articles[i].Link == "" || articles[i].Link == "#" || !want(articles[i]) {
			continue
		}
		link := articles[i].Link
		g.Go(func() error {
			ictx, cancel := context.WithTimeout(ctx, imageTimeout)
			defer cancel()
			img, err := s.OGImage(ictx, link)
			if err != nil || img == "" {
				return nil
			}
			mu.Lock()
			articles[i].Image = img
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

type devToArticle struct {
	Title                  string   `json:"title"`
	URL                    string   `json:"url"`
	PublishedAt            string   `json:"published_at"`
	Description            string   `json:"description"`
	CoverImage             string   `json:"cover_image"`
	SocialImage            string   `json:"social_image"`
	TagList                []string `json:"tag_list"`
	PositiveReactionsCount int      `json:"positive_reactions_count"`
}

// DevTo 抓取 Dev.to 一周热门文章。
func (s *Sources) DevTo(ctx context.Context) ([]Article, error) {
	var items []devToArticle
	if err := s.fetcher.GetJSON(ctx, s.endpoints.DevTo, nil, &items); err != nil {
		return nil, err
	}
	articles := make([]Article, 0, len(items))
	for _, item := range items {
		image := item.CoverImage
		if image == "" {
			image = item.SocialImage
		}
		a := Article{
			Title:       item.Title,
			Link:        item.URL,
			Published:   item.PublishedAt,
			Timestamp:   parseLooseTime(item.PublishedAt),
			Source:      "Dev.to",
			Category:    CategoryTech,
			Description: plainText(item.Description, 200),
			Image:       image,
			Tags:        item.TagList,
			Score:       item.PositiveReactionsCount,
		}
		if a.Title == "" {
			a.Title = "No Title"
		}
		if a.Published == "" {
			a.Published = "Unknown Date"
		}
		articles = append(articles, a)
	}
	return articles, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title       string  `json:"title"`
				Permalink   string  `json:"permalink"`
				CreatedUTC  float64 `json:"created_utc"`
				Score       int     `json:"score"`
				NumComments int     `json:"num_comments"`
				Thumbnail   string  `json:"thumbnail"`
				Stickied    bool    `json:"stickied"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Reddit 抓取 subreddit 热帖，跳过置顶帖。Reddit 要求独立的 User-Agent。
func (s *Sources) Reddit(ctx context.Context, subreddit string, limit int) ([]Article, error) {
	subreddit = strings.TrimSpace(subreddit)
	if subreddit == "" {
		return nil, fmt.Errorf("subreddit is required")
	}
	if limit <= 0 {
		limit = 10
	}
	var listing redditListing
	err := s.fetcher.GetJSON(ctx, s.endpoints.redditURL(subreddit, limit), map[string]string{
		"User-Agent": botUserAgent,
	}, &listing)
	if err != nil {
		return nil, err
	}

	base := strings.TrimRight(s.endpoints.Reddit, "/")
	articles := make([]Article, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.Stickied {
			continue
		}
		ts := time.Unix(int64(post.CreatedUTC), 0).UTC()
		a := Article{
			Title:     post.Title,
			Link:      base + post.Permalink,
			Published: ts.Format("Mon, 02 Jan 2006"),
			Timestamp: &ts,
			Source:    "r/" + subreddit,
			Category:  "reddit",
			Score:     post.Score,
			Comments:  post.NumComments,
		}
		if strings.HasPrefix(post.Thumbnail, "http") {
			a.Image = post.Thumbnail
		}
		articles = append(articles, a)
	}
	return articles, nil
}
