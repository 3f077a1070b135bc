package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	botUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) PrashikshanBot/1.0 (Educational Project)"

	maxBodyBytes = 4 << 20
)

// Fetcher 是所有新闻源共用的 HTTP 客户端。
type Fetcher struct {
	client *http.Client
}

// NewFetcher 创建带整体超时的抓取客户端。
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// NewFetcherWithClient 使用外部 http.Client，测试时注入。
func NewFetcherWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Status, e.Body)
}

// Get 抓取 URL 并返回正文（最多 4 MiB）与响应头。
func (f *Fetcher) Get(ctx context.Context, url string, headers map[string]string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request %s: %w", url, err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resp.Header, &StatusError{URL: url, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.Header, fmt.Errorf("read %s: %w", url, err)
	}
	return data, resp.Header, nil
}

// GetJSON 抓取并解码 JSON。响应 Content-Type 不是 JSON 时报错。
func (f *Fetcher) GetJSON(ctx context.Context, url string, headers map[string]string, dst any) error {
	h := map[string]string{"Accept": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	data, header, err := f.Get(ctx, url, h)
	if err != nil {
		return err
	}
	if ct := header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
		return fmt.Errorf("GET %s: unexpected content type %q", url, ct)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
