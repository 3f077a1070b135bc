package news

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoints 汇总所有上游地址，测试中整体替换为 httptest 服务。
type Endpoints struct {
	GoogleNews     string
	TechCrunch     string
	TheVerge       string
	Wired          string
	ArsTechnica    string
	BBCTechnology  string
	NDTVEducation  string
	ProductHunt    string
	MediumTagFeed  string
	HackerNewsAPI  string
	HackerNewsItem string
	DevTo          string
	Reddit         string
	GitHubTrending string
	GitHubBase     string
}

// DefaultEndpoints 返回线上地址。
func DefaultEndpoints() Endpoints {
	return Endpoints{
		GoogleNews:     "https://news.google.com/rss/search",
		TechCrunch:     "https://techcrunch.com/feed/",
		TheVerge:       "https://www.theverge.com/rss/index.xml",
		Wired:          "https://www.wired.com/feed/rss",
		ArsTechnica:    "https://feeds.arstechnica.com/arstechnica/index",
		BBCTechnology:  "https://feeds.bbci.co.uk/news/technology/rss.xml",
		NDTVEducation:  "https://feeds.feedburner.com/ndtvnews-education",
		ProductHunt:    "https://www.producthunt.com/feed",
		MediumTagFeed:  "https://medium.com/feed/tag/",
		HackerNewsAPI:  "https://hacker-news.firebaseio.com/v0",
		HackerNewsItem: "https://news.ycombinator.com/item?id=",
		DevTo:          "https://dev.to/api/articles?per_page=10&top=7",
		Reddit:         "https://www.reddit.com",
		GitHubTrending: "https://github.com/trending",
		GitHubBase:     "https://github.com",
	}
}

func (e Endpoints) googleNewsURL(query string) string {
	v := url.Values{}
	v.Set("q", query)
	v.Set("hl", "en-IN")
	v.Set("gl", "IN")
	v.Set("ceid", "IN:en")
	return e.GoogleNews + "?" + v.Encode()
}

func (e Endpoints) mediumURL(tag string) string {
	return e.MediumTagFeed + url.PathEscape(tag)
}

func (e Endpoints) redditURL(subreddit string, limit int) string {
	return fmt.Sprintf("%s/r/%s/hot.json?limit=%d", strings.TrimRight(e.Reddit, "/"), url.PathEscape(subreddit), limit)
}

func (e Endpoints) hackerNewsTopURL() string {
	return strings.TrimRight(e.HackerNewsAPI, "/") + "/topstories.json"
}

func (e Endpoints) hackerNewsStoryURL(id int64) string {
	return fmt.Sprintf("%s/item/%d.json", strings.TrimRight(e.HackerNewsAPI, "/"), id)
}
