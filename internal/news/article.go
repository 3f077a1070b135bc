// Package news 聚合多个公开新闻源（RSS、JSON API、HTML 页面、浏览器渲染页面），
// 按分类去重排序后写入带云同步的 JSON 缓存。
package news

import (
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Article 是一条聚合后的新闻。字段名与前端解析保持一致。
type Article struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Published   string     `json:"published"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Source      string     `json:"source"`
	Category    string     `json:"category"`
	Image       string     `json:"image,omitempty"`
	Description string     `json:"description,omitempty"`
	Score       int        `json:"score,omitempty"`
	Comments    int        `json:"comments,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Language    string     `json:"language,omitempty"`
	Stars       string     `json:"stars,omitempty"`
}

// 缓存中的分类键。
const (
	CategoryTech      = "tech"
	CategoryEducation = "education"
	CategoryCareer    = "career"
	CategoryAIML      = "ai_ml"
	CategoryStartups  = "startups"
	CategoryDeveloper = "developer"
	CategoryGitHub    = "github"
	CategoryGeneral   = "general"
)

// Categories 是缓存与刷新任务覆盖的全部分类，顺序即刷新顺序。
var Categories = []string{
	CategoryTech,
	CategoryEducation,
	CategoryCareer,
	CategoryAIML,
	CategoryStartups,
	CategoryDeveloper,
	CategoryGitHub,
	CategoryGeneral,
}

// CategoryNames 用于刷新进度展示。
var CategoryNames = map[string]string{
	CategoryTech:      "Technology",
	CategoryEducation: "Education",
	CategoryCareer:    "Career",
	CategoryAIML:      "AI & ML",
	CategoryStartups:  "Startups",
	CategoryDeveloper: "Developer",
	CategoryGitHub:    "GitHub Trending",
	CategoryGeneral:   "General",
}

// categoryAliases 把 URL 中的分类名映射为缓存键。
var categoryAliases = map[string]string{
	"tech":      CategoryTech,
	"education": CategoryEducation,
	"career":    CategoryCareer,
	"ai":        CategoryAIML,
	"ai_ml":     CategoryAIML,
	"startups":  CategoryStartups,
	"developer": CategoryDeveloper,
	"general":   CategoryGeneral,
	"github":    CategoryGitHub,
}

// ResolveCategory 解析分类别名（大小写不敏感）。
func ResolveCategory(name string) (string, bool) {
	key, ok := categoryAliases[strings.ToLower(strings.TrimSpace(name))]
	return key, ok
}

// CategoryAliases 返回所有可用的分类别名，顺序固定。
func CategoryAliases() []string {
	return []string{"tech", "education", "career", "ai", "ai_ml", "startups", "developer", "general", "github"}
}

// IsKnownCategory 判断是否为缓存分类键。
func IsKnownCategory(key string) bool {
	_, ok := CategoryNames[key]
	return ok
}

var sourcePlaceholders = []struct{ key, url string }{
	{"techcrunch", "https://images.unsplash.com/photo-1518770660439-4636190af475?w=400&h=300&fit=crop"},
	{"hacker news", "https://images.unsplash.com/photo-1555066931-4365d14bab8c?w=400&h=300&fit=crop"},
	{"dev.to", "https://images.unsplash.com/photo-1461749280684-dccba630e2f6?w=400&h=300&fit=crop"},
	{"github", "https://images.unsplash.com/photo-1618401471353-b98afee0b2eb?w=400&h=300&fit=crop"},
	{"product hunt", "https://images.unsplash.com/photo-1559136555-9303baea8ebd?w=400&h=300&fit=crop"},
	{"the verge", "https://images.unsplash.com/photo-1519389950473-47ba0277781c?w=400&h=300&fit=crop"},
	{"wired", "https://images.unsplash.com/photo-1550751827-4bd374c3f58b?w=400&h=300&fit=crop"},
	{"ars technica", "https://images.unsplash.com/photo-1504639725590-34d0984388bd?w=400&h=300&fit=crop"},
	{"bbc", "https://images.unsplash.com/photo-1495020689067-958852a7765e?w=400&h=300&fit=crop"},
	{"ndtv", "https://images.unsplash.com/photo-1523050854058-8df90110c9f1?w=400&h=300&fit=crop"},
	{"reddit", "https://images.unsplash.com/photo-1611162617474-5b21e879e113?w=400&h=300&fit=crop"},
	{"medium", "https://images.unsplash.com/photo-1499750310107-5fef28a66643?w=400&h=300&fit=crop"},
}

var categoryPlaceholders = map[string]string{
	"tech":      "https://images.unsplash.com/photo-1518770660439-4636190af475?w=400&h=300&fit=crop",
	"education": "https://images.unsplash.com/photo-1523050854058-8df90110c9f1?w=400&h=300&fit=crop",
	"career":    "https://images.unsplash.com/photo-1454165804606-c3d57bc86b40?w=400&h=300&fit=crop",
	"ai":        "https://images.unsplash.com/photo-1677442136019-21780ecad995?w=400&h=300&fit=crop",
	"startup":   "https://images.unsplash.com/photo-1559136555-9303baea8ebd?w=400&h=300&fit=crop",
	"developer": "https://images.unsplash.com/photo-1461749280684-dccba630e2f6?w=400&h=300&fit=crop",
	"github":    "https://images.unsplash.com/photo-1618401471353-b98afee0b2eb?w=400&h=300&fit=crop",
	"reddit":    "https://images.unsplash.com/photo-1611162617474-5b21e879e113?w=400&h=300&fit=crop",
	"general":   "https://images.unsplash.com/photo-1504711434969-e33886168f5c?w=400&h=300&fit=crop",
}

// PlaceholderImage 按来源（子串匹配）或分类选择占位图。
func PlaceholderImage(source, category string) string {
	lower := strings.ToLower(source)
	for _, p := range sourcePlaceholders {
		if strings.Contains(lower, p.key) {
			return p.url
		}
	}
	if u, ok := categoryPlaceholders[category]; ok {
		return u
	}
	return categoryPlaceholders["general"]
}

// fillPlaceholders 为没有图片的文章补上占位图。
func fillPlaceholders(articles []Article) {
	for i := range articles {
		if strings.TrimSpace(articles[i].Image) == "" {
			articles[i].Image = PlaceholderImage(articles[i].Source, articles[i].Category)
		}
	}
}

const dedupKeyLen = 50

// titleKey 取小写标题的前 50 个字符作为去重键。
func titleKey(title string) string {
	lower := strings.ToLower(title)
	if utf8.RuneCountInString(lower) <= dedupKeyLen {
		return lower
	}
	return string([]rune(lower)[:dedupKeyLen])
}

// Dedup 按标题前缀去重，保留先出现的文章。
func Dedup(articles []Article) []Article {
	seen := make(map[string]struct{}, len(articles))
	out := make([]Article, 0, len(articles))
	for _, a := range articles {
		key := titleKey(a.Title)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

var textPolicy = bluemonday.StrictPolicy()

// plainText 去掉 HTML 标签、反转义实体并按字符截断。
func plainText(s string, max int) string {
	text := html.UnescapeString(textPolicy.Sanitize(s))
	text = strings.Join(strings.Fields(text), " ")
	if max > 0 && utf8.RuneCountInString(text) > max {
		text = string([]rune(text)[:max])
	}
	return text
}
