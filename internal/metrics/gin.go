package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP 请求耗时分布（秒），按业务区域与路由模板划分。",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		},
		[]string{"area", "method", "route", "status"},
	)

	requestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "当前正在处理的 HTTP 请求数量。",
		},
		[]string{"area"},
	)

	trendsCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "news",
			Name:      "cache_responses_total",
			Help:      "/api/trends 响应来自缓存（HIT）还是现抓（MISS）。",
		},
		[]string{"result"},
	)
)

// areaOf 把请求路径归到业务区域，避免按用户输入产生高基数标签。
func areaOf(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return "system"
	}
	area, _, _ := strings.Cut(rest, "/")
	switch area {
	case "internships", "trends", "admin", "uploads", "ws":
		return area
	case "profile", "explore", "follow", "feed", "posts", "comments", "messages":
		return "social"
	default:
		return "other"
	}
}

// GinMiddleware 记录请求耗时与并发数；未匹配路由统一记为 "unmatched"。
// /api/trends 的响应按 X-Cache 头统计缓存命中。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		area := areaOf(c.Request.URL.Path)
		inFlight := requestsInFlight.WithLabelValues(area)
		inFlight.Inc()
		defer inFlight.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestDuration.WithLabelValues(area, c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())

		if area == "trends" {
			if result := c.Writer.Header().Get("X-Cache"); result != "" {
				trendsCacheResults.WithLabelValues(result).Inc()
			}
		}
	}
}

// Handler 暴露默认 registry 的 /metrics。
func Handler() http.Handler {
	return promhttp.Handler()
}
