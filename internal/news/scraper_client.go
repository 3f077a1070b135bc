package news

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ScraperClient 调用远端的浏览器抓取服务（托管的 Playwright 实例）。
type ScraperClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewScraperClient 创建远端抓取客户端；baseURL 为空时返回 nil。
func NewScraperClient(baseURL, apiKey string, client *http.Client) *ScraperClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	return &ScraperClient{baseURL: baseURL, apiKey: apiKey, client: client}
}

func (c *ScraperClient) do(ctx context.Context, method, path string, body any, dst any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build scraper request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("scraper %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: c.baseURL + path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(dst); err != nil {
		return fmt.Errorf("decode scraper response: %w", err)
	}
	return nil
}

// Available 检查服务 /health。
func (c *ScraperClient) Available(ctx context.Context) bool {
	if c == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/health", nil, nil) == nil
}

// ScrapeSource 让远端服务抓取一个预定义来源。响应可能是文章数组，
// 也可能是 {"articles": [...]} 或 {"error": "..."}。
func (c *ScraperClient) ScrapeSource(ctx context.Context, source string) ([]Article, error) {
	if c == nil {
		return nil, errors.New("scraper service not configured")
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/scrape/news/"+url.PathEscape(source), nil, &raw); err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []Article
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode scraper articles: %w", err)
		}
		return list, nil
	}

	var wrapped struct {
		Articles []Article `json:"articles"`
		Error    string    `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode scraper envelope: %w", err)
	}
	if wrapped.Error != "" {
		return nil, fmt.Errorf("scraper service: %s", wrapped.Error)
	}
	return wrapped.Articles, nil
}

// OGImage 让远端浏览器提取页面封面图。
func (c *ScraperClient) OGImage(ctx context.Context, pageURL string) (string, error) {
	if c == nil {
		return "", errors.New("scraper service not configured")
	}
	var resp struct {
		Success bool   `json:"success"`
		Image   string `json:"image"`
	}
	if err := c.do(ctx, http.MethodPost, "/scrape/og-image", map[string]string{"url": pageURL}, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", nil
	}
	return resp.Image, nil
}
