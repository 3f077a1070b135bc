package news

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// PageRenderer 返回浏览器执行完脚本后的页面 HTML。
type PageRenderer interface {
	RenderHTML(ctx context.Context, targetURL, waitSelector string) (string, error)
}

// Browser 是基于本地 headless Chromium 的 PageRenderer，首次使用时启动并复用。
type Browser struct {
	logger *slog.Logger

	mu      sync.Mutex
	launch  *launcher.Launcher
	browser *rod.Browser
}

// NewBrowser 创建本地浏览器渲染器，此时不会启动 Chromium。
func NewBrowser(logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{logger: logger.With(slog.String("component", "browser"))}
}

func (b *Browser) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	launch := launcher.New().
		Headless(true).
		NoSandbox(true)
	if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	controlURL, err := launch.Launch()
	if err != nil {
		launch.Cleanup()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		launch.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	b.logger.Info("headless browser started")
	b.launch = launch
	b.browser = browser
	return browser, nil
}

// RenderHTML 打开页面、等待加载（以及可选的选择器），返回渲染后的 HTML。
func (b *Browser) RenderHTML(ctx context.Context, targetURL, waitSelector string) (string, error) {
	browser, err := b.ensure()
	if err != nil {
		return "", err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: targetURL})
	if err != nil {
		return "", fmt.Errorf("open page %s: %w", targetURL, err)
	}
	defer func() {
		_ = page.Close()
	}()

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load %s: %w", targetURL, err)
	}
	if strings.TrimSpace(waitSelector) != "" {
		if _, err := page.Timeout(15 * time.Second).Element(waitSelector); err != nil {
			b.logger.Warn("wait selector failed, using current DOM",
				slog.String("url", targetURL),
				slog.String("selector", waitSelector),
				slog.Any("error", err),
			)
		}
	}
	if err := page.Timeout(10 * time.Second).WaitIdle(5 * time.Second); err != nil {
		b.logger.Debug("wait idle failed", slog.String("url", targetURL), slog.Any("error", err))
	}

	htmlText, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read html %s: %w", targetURL, err)
	}
	return htmlText, nil
}

// Close 关闭浏览器并清理用户数据目录。
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.launch.Cleanup()
	b.browser = nil
	b.launch = nil
	return err
}
