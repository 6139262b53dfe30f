package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// gin 上下文键
const (
	UserIDKey         = "user_id"
	OrganizationIDKey = "organization_id"
)

// Middleware JWT 认证中间件。
// 校验 Bearer 访问令牌，把用户与组织 ID 写进请求上下文
func Middleware(jwtService *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
			c.Abort()
			return
		}

		token := ExtractTokenFromBearer(authHeader)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的令牌格式"})
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "令牌验证失败: " + err.Error()})
			c.Abort()
			return
		}
		if claims.TokenType != "access" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "令牌类型错误"})
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(OrganizationIDKey, claims.OrganizationID)
		c.Next()
	}
}

// OrganizationID 取当前请求的组织 ID
func OrganizationID(c *gin.Context) string {
	return c.GetString(OrganizationIDKey)
}

// UserID 取当前请求的用户 ID
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
