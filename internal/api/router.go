package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"prashikshan/internal/api/middleware"
	"prashikshan/internal/metrics"
)

// NewRouter 构建 Gin 引擎并挂载通用中间件、/health 与 /metrics。
func NewRouter(logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger),
		metrics.GinMiddleware(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.NoRoute(func(c *gin.Context) {
		NotFound(c, "route not found")
	})

	return router
}
