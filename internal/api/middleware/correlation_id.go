package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	correlationIDKey    = "correlationID"
	CorrelationIDHeader = "X-Correlation-ID"
	requestIDHeader     = "X-Request-ID"
	maxCorrelationIDLen = 128
)

// CorrelationIDMiddleware 为每个请求分配 Correlation ID。
// 优先沿用上游传入的 X-Correlation-ID / X-Request-ID，过长或为空时重新生成。
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(CorrelationIDHeader))
		if id == "" {
			id = strings.TrimSpace(c.GetHeader(requestIDHeader))
		}
		if id == "" || len(id) > maxCorrelationIDLen {
			id = uuid.NewString()
		}

		c.Set(correlationIDKey, id)
		c.Header(CorrelationIDHeader, id)
		c.Next()
	}
}

// GetCorrelationID 返回当前请求的 Correlation ID，未经过中间件时为空。
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(correlationIDKey)
}
