package api

import (
	approvalHandlers "backend/api/handlers/approvals"
	connectionHandlers "backend/api/handlers/connections"
	credentialHandlers "backend/api/handlers/credentials"
	executionHandlers "backend/api/handlers/executions"
	ruleHandlers "backend/api/handlers/rules"
	skillHandlers "backend/api/handlers/skills"
	webhookHandlers "backend/api/handlers/webhooks"
	"backend/internal/auth"
	"backend/internal/automation"
	"backend/internal/config"
	"backend/internal/infra/queue"
	"backend/internal/middleware"
	"backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies 路由装配所需的全部依赖，由 main 注入
type Dependencies struct {
	Config            *config.Config
	DB                *gorm.DB
	QueueClient       queue.Client
	JWTService        *auth.JWTService
	Engine            *automation.Engine
	ActionRouter      *automation.ActionRouter
	EventHandler      *automation.EventHandler
	SkillRunner       *automation.SkillRunner
	CredentialService *models.CredentialService
	Logger            *zap.Logger
}

// NewRouter 装配 gin 引擎：中间件、探针、指标与业务路由
func NewRouter(deps *Dependencies) *gin.Engine {
	if deps.Config.Server.Mode != "" {
		gin.SetMode(deps.Config.Server.Mode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), RequestLogger(), CORS())

	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(deps.DB))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers := &Handlers{
		Webhooks:    webhookHandlers.NewHandler(deps.DB, deps.EventHandler, deps.QueueClient, deps.Logger),
		Approvals:   approvalHandlers.NewHandler(deps.DB, deps.ActionRouter),
		Skills:      skillHandlers.NewHandler(deps.DB, deps.Engine),
		Executions:  executionHandlers.NewHandler(deps.DB, deps.Engine),
		Rules:       ruleHandlers.NewHandler(deps.DB),
		Credentials: credentialHandlers.NewHandler(deps.DB, deps.CredentialService, deps.SkillRunner),
		Connections: connectionHandlers.NewHandler(deps.DB),
	}
	RegisterRoutes(router, deps.JWTService, handlers)

	return router
}
