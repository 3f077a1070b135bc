package news

import (
	"bytes"
	"context"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

// findAll 深度优先收集满足 match 的节点。
func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	if match(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := findFirst(c, match); n != nil {
			return n
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// absoluteURL 把协议相对或站内路径转换为绝对地址。
func absoluteURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

var skipImageHints = []string{"logo", "icon", "avatar", "badge", "button"}

// extractOGImage 依次查找 og:image、twitter:image，以及第一张足够大的非图标图片。
func extractOGImage(pageURL string, body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	metas := findAll(doc, func(n *html.Node) bool { return isElement(n, "meta") })
	for _, key := range []string{"og:image", "twitter:image"} {
		for _, m := range metas {
			if attr(m, "property") == key || attr(m, "name") == key {
				if content := attr(m, "content"); content != "" {
					return absoluteURL(pageURL, content)
				}
			}
		}
	}

	for _, img := range findAll(doc, func(n *html.Node) bool { return isElement(n, "img") }) {
		src := attr(img, "src")
		if src == "" || strings.HasPrefix(src, "data:") {
			continue
		}
		if w, err := strconv.Atoi(attr(img, "width")); err == nil && w <= 200 {
			continue
		}
		lower := strings.ToLower(src)
		skip := false
		for _, hint := range skipImageHints {
			if strings.Contains(lower, hint) {
				skip = true
				break
			}
		}
		if !skip {
			return absoluteURL(pageURL, src)
		}
	}
	return ""
}

// OGImage 抓取页面并提取封面图。
func (s *Sources) OGImage(ctx context.Context, pageURL string) (string, error) {
	body, _, err := s.fetcher.Get(ctx, pageURL, nil)
	if err != nil {
		return "", err
	}
	return extractOGImage(pageURL, body), nil
}

// parseGitHubTrending 解析 github.com/trending 页面中的 article.Box-row。
func parseGitHubTrending(body []byte, base string, limit int) ([]Article, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	rows := findAll(doc, func(n *html.Node) bool { return isElement(n, "article") && hasClass(n, "Box-row") })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	articles := make([]Article, 0, len(rows))
	for _, row := range rows {
		h2 := findFirst(row, func(n *html.Node) bool { return isElement(n, "h2") })
		if h2 == nil {
			continue
		}
		link := findFirst(h2, func(n *html.Node) bool { return isElement(n, "a") })
		if link == nil {
			continue
		}

		a := Article{
			Title:     strings.ReplaceAll(textContent(link), " ", ""),
			Link:      strings.TrimRight(base, "/") + attr(link, "href"),
			Published: "Trending Today",
			Source:    "GitHub Trending",
			Category:  CategoryGitHub,
			Language:  "Unknown",
			Stars:     "0",
		}
		if p := findFirst(row, func(n *html.Node) bool { return isElement(n, "p") }); p != nil {
			a.Description = textContent(p)
		}
		if lang := findFirst(row, func(n *html.Node) bool { return attr(n, "itemprop") == "programmingLanguage" }); lang != nil {
			a.Language = textContent(lang)
		}
		if stars := findFirst(row, func(n *html.Node) bool { return isElement(n, "a") && hasClass(n, "Link--muted") }); stars != nil {
			a.Stars = textContent(stars)
		}
		if avatar := findFirst(row, func(n *html.Node) bool { return isElement(n, "img") && hasClass(n, "avatar") }); avatar != nil {
			a.Image = attr(avatar, "src")
		}
		articles = append(articles, a)
	}
	return articles, nil
}

// GitHubTrending 抓取 GitHub 今日趋势仓库。
func (s *Sources) GitHubTrending(ctx context.Context) ([]Article, error) {
	body, _, err := s.fetcher.Get(ctx, s.endpoints.GitHubTrending, nil)
	if err != nil {
		return nil, err
	}
	return parseGitHubTrending(body, s.endpoints.GitHubBase, 10)
}

// parseLinkListing 从浏览器渲染后的页面中提取 href 包含 pathHint 的链接作为文章。
func parseLinkListing(body []byte, pageURL, pathHint, source, category string, limit int) []Article {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []Article
	for _, a := range findAll(doc, func(n *html.Node) bool { return isElement(n, "a") }) {
		href := attr(a, "href")
		if !strings.Contains(href, pathHint) {
			continue
		}
		title := textContent(a)
		if len(title) < 8 {
			continue
		}
		link := absoluteURL(pageURL, href)
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		art := Article{Title: title, Link: link, Published: "Today", Source: source, Category: category}
		if img := findFirst(a, func(n *html.Node) bool { return isElement(n, "img") }); img != nil {
			art.Image = absoluteURL(pageURL, attr(img, "src"))
		}
		out = append(out, art)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
