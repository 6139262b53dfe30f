package rules

import (
	"errors"
	"net/http"

	"backend/internal/auth"
	"backend/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 触发规则只读接口。规则的创建与开关由控制台侧负责
type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// List GET /api/v1/rules
func (h *Handler) List(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).
		Where("organization_id = ?", auth.OrganizationID(c))
	if triggerType := c.Query("trigger_type"); triggerType != "" {
		query = query.Where("trigger_type = ?", triggerType)
	}

	var ruleList []models.TriggerRule
	if err := query.Order("created_at DESC").Find(&ruleList).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "触发规则查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": ruleList})
}

// Get GET /api/v1/rules/:id
func (h *Handler) Get(c *gin.Context) {
	var rule models.TriggerRule
	err := h.db.WithContext(c.Request.Context()).
		First(&rule, "id = ? AND organization_id = ?", c.Param("id"), auth.OrganizationID(c)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "触发规则不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "触发规则查询失败"})
		return
	}
	c.JSON(http.StatusOK, rule)
}
