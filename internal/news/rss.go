package news

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

// feedSpec 描述一个 RSS/Atom 源。
type feedSpec struct {
	Source      string
	Category    string
	URL         string
	Limit       int
	DescLimit   int
	SourceTitle bool // Google News：来源取标题末尾的 " - 出版方"
}

// fetchFeed 抓取并解析 RSS/Atom。gofeed.Parser 不是并发安全的，每次调用单独创建。
func (f *Fetcher) fetchFeed(ctx context.Context, spec feedSpec) ([]Article, error) {
	data, _, err := f.Get(ctx, spec.URL, map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8",
	})
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", spec.Source, err)
	}

	items := feed.Items
	if spec.Limit > 0 && len(items) > spec.Limit {
		items = items[:spec.Limit]
	}

	articles := make([]Article, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		articles = append(articles, articleFromItem(item, spec))
	}
	return articles, nil
}

var googleSourceSuffix = regexp.MustCompile(`\s+-\s+([^-]+)$`)

func articleFromItem(item *gofeed.Item, spec feedSpec) Article {
	a := Article{
		Title:    strings.TrimSpace(item.Title),
		Link:     strings.TrimSpace(item.Link),
		Source:   spec.Source,
		Category: spec.Category,
	}
	if a.Title == "" {
		a.Title = "No Title"
	}
	if a.Link == "" {
		a.Link = "#"
	}

	a.Published = item.Published
	if a.Published == "" {
		a.Published = item.Updated
	}
	if a.Published == "" {
		a.Published = "Unknown Date"
	}
	switch {
	case item.PublishedParsed != nil:
		ts := item.PublishedParsed.UTC()
		a.Timestamp = &ts
	case item.UpdatedParsed != nil:
		ts := item.UpdatedParsed.UTC()
		a.Timestamp = &ts
	}

	if spec.SourceTitle {
		if m := googleSourceSuffix.FindStringSubmatch(a.Title); m != nil {
			a.Source = strings.TrimSpace(m[1])
			a.Title = strings.TrimSpace(strings.TrimSuffix(a.Title, m[0]))
		}
	}

	if spec.Source == "Medium" {
		if item.Author != nil && item.Author.Name != "" {
			a.Source = "Medium - " + item.Author.Name
		} else if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
			a.Source = "Medium - " + item.DublinCoreExt.Creator[0]
		}
	}

	a.Image = itemImage(item)

	if spec.DescLimit > 0 && item.Description != "" {
		a.Description = plainText(item.Description, spec.DescLimit)
	}
	return a
}

// itemImage 依次尝试 item image、media:content、media:thumbnail、图片 enclosure、
// 以及 content/description 中的第一张 <img>。
func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail", "group"} {
			for _, ext := range media[name] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
				for _, child := range ext.Children["content"] {
					if u := child.Attrs["url"]; u != "" {
						return u
					}
				}
			}
		}
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && (enc.Type == "" || strings.HasPrefix(enc.Type, "image/")) {
			return enc.URL
		}
	}
	for _, fragment := range []string{item.Content, item.Description} {
		if src := firstImageSrc(fragment); src != "" {
			return src
		}
	}
	return ""
}

// firstImageSrc 返回 HTML 片段里第一张 <img> 的 src。
func firstImageSrc(fragment string) string {
	if !strings.Contains(fragment, "<img") {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "img" {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key == "src" && attr.Val != "" {
					return attr.Val
				}
			}
		}
	}
}

func parseLooseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.RFC1123Z, time.RFC1123, "2006-01-02T15:04:05Z0700"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
