package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"prashikshan/internal/auth"
)

// 上下文中保存当前用户信息的键。
const (
	UserIDKey    = "userID"
	UserEmailKey = "userEmail"
)

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// BearerToken 从 Authorization 头中取出 Bearer 令牌。
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// AuthMiddleware 校验身份服务签发的访问令牌并将 userID 注入上下文。
func AuthMiddleware(verifier *auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c)
			return
		}

		claims, err := verifier.ValidateToken(rawToken)
		if err != nil {
			LoggerFromContext(c).Debug("reject access token", slog.Any("error", err))
			abortUnauthorized(c)
			return
		}

		c.Set(UserIDKey, claims.UserID())
		c.Set(UserEmailKey, claims.Email)
		c.Next()
	}
}
