package approvals

import (
	"errors"
	"net/http"

	"backend/internal/auth"
	"backend/internal/automation"
	"backend/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 审批队列接口。
// 决策响应统一走 {success, error} 契约，审核界面据此提示
type Handler struct {
	db     *gorm.DB
	router *automation.ActionRouter
}

func NewHandler(db *gorm.DB, router *automation.ActionRouter) *Handler {
	return &Handler{db: db, router: router}
}

// List GET /api/v1/approvals?status=pending
func (h *Handler) List(c *gin.Context) {
	status := c.DefaultQuery("status", string(automation.ApprovalPending))

	var items []models.ApprovalQueueItem
	err := h.db.WithContext(c.Request.Context()).
		Where("organization_id = ? AND status = ?", auth.OrganizationID(c), status).
		Order("created_at DESC").
		Limit(100).
		Find(&items).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "审批队列查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Approve POST /api/v1/approvals/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	h.decide(c, automation.ApprovalActionApprove, "")
}

// Reject POST /api/v1/approvals/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	h.decide(c, automation.ApprovalActionReject, "")
}

type editRequest struct {
	Content string `json:"content" binding:"required"`
}

// Edit POST /api/v1/approvals/:id/edit
// 编辑后的内容替换草稿分发，并记入 final_content
func (h *Handler) Edit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "编辑内容不能为空"})
		return
	}
	h.decide(c, automation.ApprovalActionEdit, req.Content)
}

// decide 校验归属后执行决策。
// 跨组织的审批项按不存在处理
func (h *Handler) decide(c *gin.Context, action, editedContent string) {
	approvalID := c.Param("id")

	var item models.ApprovalQueueItem
	err := h.db.WithContext(c.Request.Context()).
		First(&item, "id = ? AND organization_id = ?", approvalID, auth.OrganizationID(c)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "审批项不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "审批项查询失败"})
		return
	}

	result := h.router.ProcessApproval(c.Request.Context(), item.ID, auth.UserID(c), action, editedContent)
	if !result.Success {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": result.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
