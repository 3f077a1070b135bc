package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"prashikshan/internal/auth"
)

// AdminKeyFromRequest 读取 X-Admin-Key 头，缺失时回退到 admin_key 查询参数。
func AdminKeyFromRequest(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("X-Admin-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(c.Query("admin_key"))
}

// AdminKeyMiddleware 保护管理后台接口。
func AdminKeyMiddleware(matcher *auth.AdminKeyMatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		if matcher == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "admin key is not configured"})
			return
		}
		if !matcher.Match(AdminKeyFromRequest(c)) {
			LoggerFromContext(c).Warn("admin request rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "Invalid admin key"})
			return
		}
		c.Next()
	}
}
