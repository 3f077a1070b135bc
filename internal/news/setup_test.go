package news

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"prashikshan/internal/admin"
	"prashikshan/internal/config"
)

func TestSourcesFromConfig(t *testing.T) {
	ctx := context.Background()
	enabled := admin.DefaultSettings()
	enabled.PlaywrightEnabled = true
	disabled := admin.DefaultSettings()
	disabled.PlaywrightEnabled = false

	cases := []struct {
		name     string
		cfg      config.ScraperConfig
		settings SettingsProvider
		want     BrowserStatus
	}{
		{
			name:     "local browser only",
			cfg:      config.ScraperConfig{LocalBrowser: true},
			settings: staticSettings{settings: enabled},
			want:     BrowserStatus{Enabled: true, LocalBrowser: true},
		},
		{
			name:     "remote service only",
			cfg:      config.ScraperConfig{ServiceURL: "http://scraper:3001", ServiceKey: "k"},
			settings: staticSettings{settings: enabled},
			want:     BrowserStatus{Enabled: true, RemoteService: true},
		},
		{
			name:     "both with blank url ignored",
			cfg:      config.ScraperConfig{ServiceURL: "  ", LocalBrowser: true},
			settings: staticSettings{settings: admin.DefaultSettings()},
			want:     BrowserStatus{Enabled: admin.DefaultSettings().PlaywrightEnabled, LocalBrowser: true},
		},
		{
			name:     "admin switch off",
			cfg:      config.ScraperConfig{LocalBrowser: true},
			settings: staticSettings{settings: disabled},
			want:     BrowserStatus{LocalBrowser: true},
		},
		{
			name:     "settings unavailable falls back to default",
			cfg:      config.ScraperConfig{},
			settings: staticSettings{err: errors.New("redis down")},
			want:     BrowserStatus{Enabled: admin.DefaultSettings().PlaywrightEnabled},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sources, cleanup := SourcesFromConfig(tc.cfg, nil, tc.settings, nil)
			defer cleanup()
			assert.Equal(t, tc.want, sources.BrowserStatus(ctx, false))
		})
	}
}
