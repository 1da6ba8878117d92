package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"feedsync/pkg/response"
)

const TokenKey = "token"

// BearerToken 提取 Authorization: Bearer <token>. The token is validated
// by whoever consumes it.
func BearerToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "Authorization header is required")
			c.Abort()
			return
		}

		// 检查格式 "Bearer <token>"
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || strings.TrimSpace(token) == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "Invalid authorization header format")
			c.Abort()
			return
		}

		c.Set(TokenKey, strings.TrimSpace(token))
		c.Next()
	}
}
