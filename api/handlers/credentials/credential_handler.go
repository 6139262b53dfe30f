package credentials

import (
	"net/http"

	"backend/internal/auth"
	"backend/internal/automation"
	"backend/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 补全服务商凭证接口
type Handler struct {
	db      *gorm.DB
	service *models.CredentialService
	runner  *automation.SkillRunner
}

func NewHandler(db *gorm.DB, service *models.CredentialService, runner *automation.SkillRunner) *Handler {
	return &Handler{db: db, service: service, runner: runner}
}

// List GET /api/v1/credentials
// 密文不出库，只返回元信息
func (h *Handler) List(c *gin.Context) {
	var creds []models.ProviderCredential
	err := h.db.WithContext(c.Request.Context()).
		Where("organization_id = ?", auth.OrganizationID(c)).
		Order("created_at ASC").
		Find(&creds).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "凭证查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": creds})
}

type createRequest struct {
	Provider string `json:"provider" binding:"required"`
	Name     string `json:"name"`
	APIKey   string `json:"api_key" binding:"required"`
}

// Create POST /api/v1/credentials
// 先做前缀语法校验再加密入库
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数无效: " + err.Error()})
		return
	}

	if err := h.runner.ValidateCredentialFormat(req.Provider, req.APIKey); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cred, err := h.service.CreateCredential(c.Request.Context(), &models.CreateCredentialRequest{
		OrganizationID: auth.OrganizationID(c),
		Provider:       req.Provider,
		Name:           req.Name,
		APIKey:         req.APIKey,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, cred)
}

type verifyRequest struct {
	Provider string `json:"provider" binding:"required"`
	APIKey   string `json:"api_key" binding:"required"`
}

// Verify POST /api/v1/credentials/verify
// 最小 Token 在线回环，归类 valid / invalid_credential / other_error
func (h *Handler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数无效: " + err.Error()})
		return
	}

	verdict, err := h.runner.VerifyCredential(c.Request.Context(), req.Provider, req.APIKey)
	resp := gin.H{"verdict": verdict}
	if err != nil {
		resp["detail"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// Deactivate DELETE /api/v1/credentials/:id
func (h *Handler) Deactivate(c *gin.Context) {
	err := h.service.DeactivateCredential(c.Request.Context(), auth.OrganizationID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
