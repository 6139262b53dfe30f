package webhooks

import (
	"encoding/json"
	"io"
	"net/http"

	"backend/internal/automation"
	"backend/internal/infra/queue"
	"backend/internal/metrics"
	"backend/internal/models"
	"backend/internal/worker/tasks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Handler Webhook 入口。规范化请求体、匹配规则、命中入队。
// 签名校验不在此层（由前置网关承担）
type Handler struct {
	db          *gorm.DB
	events      *automation.EventHandler
	queueClient queue.Client
	logger      *zap.Logger
}

func NewHandler(db *gorm.DB, events *automation.EventHandler, queueClient queue.Client, logger *zap.Logger) *Handler {
	return &Handler{
		db:          db,
		events:      events,
		queueClient: queueClient,
		logger:      logger,
	}
}

// slackChallenge Slack URL 校验握手
type slackChallenge struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
}

// Receive POST /api/webhooks/:platform
// 对平台始终回 200，处理问题记进审计日志，不让平台重投
func (h *Handler) Receive(c *gin.Context) {
	platform := c.Param("platform")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体读取失败"})
		return
	}

	// Slack URL 校验握手须原样回显 challenge
	if platform == "slack" {
		var challenge slackChallenge
		if json.Unmarshal(body, &challenge) == nil && challenge.Type == "url_verification" {
			c.JSON(http.StatusOK, gin.H{"challenge": challenge.Challenge})
			return
		}
	}

	events := automation.NormalizeWebhook(platform, body)
	if len(events) == 0 {
		h.logEvent(c, platform, body, 0, "ignored", "")
		metrics.WebhookEventsTotal.WithLabelValues(platform, "ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true, "matches": 0})
		return
	}

	total := 0
	for _, event := range events {
		matches, err := h.events.HandleWebhookEvent(c.Request.Context(), event)
		if err != nil {
			h.logger.Error("事件匹配失败",
				zap.String("platform", platform),
				zap.String("event_type", event.EventType),
				zap.Error(err))
			h.logEvent(c, platform, body, 0, "malformed", err.Error())
			metrics.WebhookEventsTotal.WithLabelValues(platform, "failed").Inc()
			c.JSON(http.StatusOK, gin.H{"received": true, "matches": 0})
			return
		}

		for _, match := range matches {
			err := h.queueClient.EnqueueProcessTrigger(tasks.ProcessTriggerPayload{
				RuleID:         match.Rule.ID,
				OrganizationID: match.OrganizationID,
				TriggerEvent:   match.TriggerEvent,
			})
			if err != nil {
				h.logger.Error("触发任务入队失败",
					zap.String("rule_id", match.Rule.ID),
					zap.Error(err))
				continue
			}
			total++
		}
	}

	status := "matched"
	if total == 0 {
		status = "ignored"
	}
	h.logEvent(c, platform, body, total, status, "")
	metrics.WebhookEventsTotal.WithLabelValues(platform, status).Inc()
	c.JSON(http.StatusOK, gin.H{"received": true, "matches": total})
}

// logEvent 写入站事件审计日志。日志失败不影响响应
func (h *Handler) logEvent(c *gin.Context, platform string, body []byte, matchCount int, status, errMsg string) {
	entry := &models.WebhookEventLog{
		ID:          uuid.NewString(),
		Platform:    platform,
		RequestBody: datatypes.JSON(body),
		MatchCount:  matchCount,
		Status:      status,
		Error:       errMsg,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(entry).Error; err != nil {
		h.logger.Warn("Webhook 审计日志写入失败", zap.Error(err))
	}
}
