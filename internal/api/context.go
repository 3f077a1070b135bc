package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"

	"prashikshan/internal/api/middleware"
)

func userIDFromContext(c *gin.Context) (string, bool) {
	value, exists := c.Get(middleware.UserIDKey)
	if !exists {
		return "", false
	}
	id, ok := value.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func userEmailFromContext(c *gin.Context) string {
	return c.GetString(middleware.UserEmailKey)
}

// textPolicy 去掉用户输入中的全部 HTML。
var textPolicy = bluemonday.StrictPolicy()

func sanitizeText(s string) string {
	return strings.TrimSpace(textPolicy.Sanitize(s))
}

// queryInt 解析整数查询参数，缺失或非法时返回 def。
func queryInt(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
