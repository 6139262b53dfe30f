package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 上下文键
const (
	// RequestIDKey 请求 ID 上下文键
	RequestIDKey = "request_id"
)

// HeaderRequestID 请求 ID HTTP 头
const HeaderRequestID = "X-Request-ID"

// RequestID 请求 ID 中间件
// 为每个请求生成唯一的请求 ID，上游传入的 X-Request-ID 优先
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(HeaderRequestID, requestID)

		c.Next()
	}
}

// GetRequestID 从 Gin 上下文获取请求 ID
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get(RequestIDKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
