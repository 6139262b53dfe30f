package skills

import (
	"errors"
	"net/http"

	"backend/internal/auth"
	"backend/internal/automation"
	"backend/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 技能接口
type Handler struct {
	db     *gorm.DB
	engine *automation.Engine
}

func NewHandler(db *gorm.DB, engine *automation.Engine) *Handler {
	return &Handler{db: db, engine: engine}
}

// List GET /api/v1/skills
func (h *Handler) List(c *gin.Context) {
	var skills []models.Skill
	err := h.db.WithContext(c.Request.Context()).
		Where("organization_id = ?", auth.OrganizationID(c)).
		Order("created_at DESC").
		Find(&skills).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "技能查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": skills})
}

type runRequest struct {
	Input string `json:"input"`
}

// Run POST /api/v1/skills/:id/run
// 手动执行，同步返回执行结果，产出仅展示不分发
func (h *Handler) Run(c *gin.Context) {
	skillID := c.Param("id")
	orgID := auth.OrganizationID(c)

	// input 可选，空请求体也接受
	var req runRequest
	_ = c.ShouldBindJSON(&req)

	var skill models.Skill
	err := h.db.WithContext(c.Request.Context()).
		First(&skill, "id = ? AND organization_id = ?", skillID, orgID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "技能不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "技能查询失败"})
		return
	}

	result := h.engine.ProcessManualSkillRun(c.Request.Context(), skill.ID, orgID, req.Input)
	if result.Status == automation.ExecutionFailed {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"execution_id": result.ExecutionID,
			"status":       result.Status,
			"error":        result.Error,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution_id": result.ExecutionID,
		"status":       result.Status,
		"output":       result.Output,
	})
}
