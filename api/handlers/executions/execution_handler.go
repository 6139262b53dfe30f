package executions

import (
	"errors"
	"net/http"

	"backend/internal/auth"
	"backend/internal/automation"
	"backend/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 执行记录接口
type Handler struct {
	db     *gorm.DB
	engine *automation.Engine
}

func NewHandler(db *gorm.DB, engine *automation.Engine) *Handler {
	return &Handler{db: db, engine: engine}
}

// List GET /api/v1/executions?status=
func (h *Handler) List(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).
		Where("organization_id = ?", auth.OrganizationID(c))
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var executions []models.Execution
	if err := query.Order("created_at DESC").Limit(100).Find(&executions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "执行记录查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": executions})
}

// Get GET /api/v1/executions/:id
func (h *Handler) Get(c *gin.Context) {
	var exec models.Execution
	err := h.db.WithContext(c.Request.Context()).
		First(&exec, "id = ? AND organization_id = ?", c.Param("id"), auth.OrganizationID(c)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "执行记录不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "执行记录查询失败"})
		return
	}
	c.JSON(http.StatusOK, exec)
}

// Retry POST /api/v1/executions/:id/retry
// 从原始触发事件完整重跑，产生新的执行记录
func (h *Handler) Retry(c *gin.Context) {
	var exec models.Execution
	err := h.db.WithContext(c.Request.Context()).
		First(&exec, "id = ? AND organization_id = ?", c.Param("id"), auth.OrganizationID(c)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "执行记录不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "执行记录查询失败"})
		return
	}

	result := h.engine.RetryExecution(c.Request.Context(), exec.ID)
	c.JSON(http.StatusOK, gin.H{
		"execution_id": result.ExecutionID,
		"status":       result.Status,
		"error":        result.Error,
	})
}
