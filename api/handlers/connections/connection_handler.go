package connections

import (
	"net/http"
	"time"

	"backend/internal/auth"
	"backend/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 平台连接接口。
// OAuth 握手在控制台侧完成，这里只做查看与断开
type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// List GET /api/v1/connections
func (h *Handler) List(c *gin.Context) {
	var conns []models.Connection
	err := h.db.WithContext(c.Request.Context()).
		Where("organization_id = ?", auth.OrganizationID(c)).
		Order("created_at ASC").
		Find(&conns).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "连接查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": conns})
}

// Disconnect POST /api/v1/connections/:id/disconnect
// 断开是停用而不是删除，保留历史可追溯
func (h *Handler) Disconnect(c *gin.Context) {
	now := time.Now()
	result := h.db.WithContext(c.Request.Context()).
		Model(&models.Connection{}).
		Where("id = ? AND organization_id = ? AND is_active = ?", c.Param("id"), auth.OrganizationID(c), true).
		Updates(map[string]any{
			"is_active":       false,
			"disconnected_at": now,
		})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "连接断开失败"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "连接不存在或已断开"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
