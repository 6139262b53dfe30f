package api

import (
	"backend/internal/auth"
	"backend/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Handlers 全部 API 处理器
type Handlers struct {
	Webhooks    WebhookReceiver
	Approvals   ApprovalHandler
	Skills      SkillHandler
	Executions  ExecutionHandler
	Rules       RuleHandler
	Credentials CredentialHandler
	Connections ConnectionHandler
}

// 路由层只依赖处理器的方法面，便于替换与测试
type WebhookReceiver interface{ Receive(*gin.Context) }

type ApprovalHandler interface {
	List(*gin.Context)
	Approve(*gin.Context)
	Reject(*gin.Context)
	Edit(*gin.Context)
}

type SkillHandler interface {
	List(*gin.Context)
	Run(*gin.Context)
}

type ExecutionHandler interface {
	List(*gin.Context)
	Get(*gin.Context)
	Retry(*gin.Context)
}

type RuleHandler interface {
	List(*gin.Context)
	Get(*gin.Context)
}

type CredentialHandler interface {
	List(*gin.Context)
	Create(*gin.Context)
	Verify(*gin.Context)
	Deactivate(*gin.Context)
}

type ConnectionHandler interface {
	List(*gin.Context)
	Disconnect(*gin.Context)
}

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, jwtService *auth.JWTService, h *Handlers) {
	// Webhook 入口（公开，平台侧无法携带业务令牌），按来源 IP 限流
	webhookLimiter := middleware.NewRateLimiter(nil)
	router.POST("/api/webhooks/:platform", webhookLimiter.Middleware(), h.Webhooks.Receive)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(auth.Middleware(jwtService))
	{
		approvals := apiV1.Group("/approvals")
		{
			approvals.GET("", h.Approvals.List)
			approvals.POST("/:id/approve", h.Approvals.Approve)
			approvals.POST("/:id/reject", h.Approvals.Reject)
			approvals.POST("/:id/edit", h.Approvals.Edit)
		}

		skills := apiV1.Group("/skills")
		{
			skills.GET("", h.Skills.List)
			skills.POST("/:id/run", h.Skills.Run)
		}

		executions := apiV1.Group("/executions")
		{
			executions.GET("", h.Executions.List)
			executions.GET("/:id", h.Executions.Get)
			executions.POST("/:id/retry", h.Executions.Retry)
		}

		ruleGroup := apiV1.Group("/rules")
		{
			ruleGroup.GET("", h.Rules.List)
			ruleGroup.GET("/:id", h.Rules.Get)
		}

		credentialGroup := apiV1.Group("/credentials")
		{
			credentialGroup.GET("", h.Credentials.List)
			credentialGroup.POST("", h.Credentials.Create)
			credentialGroup.POST("/verify", h.Credentials.Verify)
			credentialGroup.DELETE("/:id", h.Credentials.Deactivate)
		}

		connectionGroup := apiV1.Group("/connections")
		{
			connectionGroup.GET("", h.Connections.List)
			connectionGroup.POST("/:id/disconnect", h.Connections.Disconnect)
		}
	}
}
