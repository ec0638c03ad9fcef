package middleware

import (
	"net/http"
	"strings"

	"tubeforge/app/auth"

	"github.com/gin-gonic/gin"
)

// 上下文中保存的运维账户信息
const (
	ContextOperatorID = "operator_id"
	ContextUsername   = "username"
)

// JWTAuth JWT认证中间件
func JWTAuth(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "Authorization header is required",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "Authorization header format must be Bearer {token}",
			})
			return
		}

		claims, err := jwtService.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "Invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ContextOperatorID, claims.OperatorID)
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}

// Operator 当前请求的运维账户名
func Operator(c *gin.Context) string {
	return c.GetString(ContextUsername)
}
