package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"prashikshan/internal/internship"
)

// RoleKey 是上下文中保存当前用户角色的键。
const RoleKey = "userRole"

// RoleLookup 根据用户 ID 查询角色；资料不存在时应返回空字符串。
type RoleLookup func(ctx context.Context, userID string) (string, error)

// RequireRole 要求当前用户具有给定角色之一，须放在 AuthMiddleware 之后。
func RequireRole(lookup RoleLookup, roles ...internship.Role) gin.HandlerFunc {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	required := strings.Join(names, ", ")

	return func(c *gin.Context) {
		userID := c.GetString(UserIDKey)
		if userID == "" {
			abortUnauthorized(c)
			return
		}

		raw, err := lookup(c.Request.Context(), userID)
		if err != nil {
			LoggerFromContext(c).Error("lookup user role failed", slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load role"})
			return
		}
		role := internship.ParseRole(raw)
		c.Set(RoleKey, string(role))

		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "Forbidden",
			"message": "Required role: " + required,
		})
	}
}
