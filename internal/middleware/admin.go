package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminTokenAuth 校验管理 API 的静态 token。
//
// 面板侧的 RBAC 在上游认证层完成，这里只防止邮件子系统的
// 管理端点被匿名访问。token 未配置时拒绝所有请求。
func AdminTokenAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "admin API is not configured",
			})
			c.Abort()
			return
		}

		provided := c.GetHeader("Authorization")
		provided = strings.TrimPrefix(provided, "Bearer ")
		if provided == "" {
			provided = c.GetHeader("X-Api-Token")
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or missing API token",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
