package news

import (
	"context"
	"log/slog"

	"prashikshan/internal/admin"
	"prashikshan/internal/config"
)

// PlaywrightGate 用管理后台的 playwright 开关控制浏览器抓取，读取失败时按默认值。
func PlaywrightGate(settings SettingsProvider) BrowserGate {
	return func(ctx context.Context) bool {
		if settings == nil {
			return admin.DefaultSettings().PlaywrightEnabled
		}
		s, err := settings.Get(ctx)
		if err != nil {
			return admin.DefaultSettings().PlaywrightEnabled
		}
		return s.PlaywrightEnabled
	}
}

// SourcesFromConfig 按抓取配置装配来源：远端抓取服务、本地 headless 浏览器与后台开关。
// api 与 worker 共用，返回的 cleanup 关闭本地浏览器。
func SourcesFromConfig(cfg config.ScraperConfig, fetcher *Fetcher, settings SettingsProvider, logger *slog.Logger) (*Sources, func()) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []SourcesOption{WithBrowserGate(PlaywrightGate(settings))}
	if remote := NewScraperClient(cfg.ServiceURL, cfg.ServiceKey, nil); remote != nil {
		opts = append(opts, WithScraperClient(remote))
	}

	cleanup := func() {}
	if cfg.LocalBrowser {
		browser := NewBrowser(logger)
		opts = append(opts, WithRenderer(browser))
		cleanup = func() {
			if err := browser.Close(); err != nil {
				logger.Warn("close browser", slog.Any("error", err))
			}
		}
	}
	return NewSources(fetcher, logger, opts...), cleanup
}
