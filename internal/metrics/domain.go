package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "prashikshan"

var (
	keepAliveUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "keepalive",
			Name:      "target_up",
			Help:      "最近一次探活是否成功（1 成功，0 失败）。",
		},
		[]string{"target"},
	)

	keepAliveLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "keepalive",
			Name:      "latency_seconds",
			Help:      "最近一次探活耗时（秒）。",
		},
		[]string{"target"},
	)

	newsArticlesScraped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "news",
			Name:      "articles_scraped_total",
			Help:      "各分类抓取到的文章数（去重后）。",
		},
		[]string{"category"},
	)

	newsSourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "news",
			Name:      "source_errors_total",
			Help:      "新闻源抓取失败次数。",
		},
		[]string{"source"},
	)

	newsRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "news",
			Name:      "refresh_duration_seconds",
			Help:      "一次完整新闻刷新的耗时分布（秒）。",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)
)

// ObserveKeepAlive 记录一次探活结果。
func ObserveKeepAlive(target string, ok bool, latency time.Duration) {
	up := 0.0
	if ok {
		up = 1
	}
	keepAliveUp.WithLabelValues(target).Set(up)
	keepAliveLatency.WithLabelValues(target).Set(latency.Seconds())
}

// AddScrapedArticles 累加某分类抓取到的文章数。
func AddScrapedArticles(category string, n int) {
	newsArticlesScraped.WithLabelValues(category).Add(float64(n))
}

// IncSourceError 记录一次新闻源失败。
func IncSourceError(source string) {
	newsSourceErrors.WithLabelValues(source).Inc()
}

// ObserveNewsRefresh 记录一次刷新耗时。
func ObserveNewsRefresh(d time.Duration) {
	newsRefreshDuration.Observe(d.Seconds())
}
