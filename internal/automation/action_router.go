package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backend/internal/connector"
	"backend/internal/metrics"
	"backend/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 审批决策动作
const (
	ApprovalActionApprove = "approve"
	ApprovalActionReject  = "reject"
	ApprovalActionEdit    = "edit"
)

// DefaultEmailSubject Gmail 目的地未配置主题时的默认值
const DefaultEmailSubject = "ExitReady Automation"

// destinationOptions 目的地选项表：平台到支持动作的全集。
// 分发注册表在构建时对照校验，组合缺失是配置期错误而不是运行期意外
var destinationOptions = map[string][]string{
	"slack":   {"post", "post_message"},
	"gmail":   {"send", "draft"},
	"hubspot": {"note", "task"},
}

// destKey 分发注册表键
type destKey struct {
	platform string
	action   string
}

// dispatchFunc 单个 (平台, 动作) 的分发实现，负责校验必填配置
type dispatchFunc func(ctx context.Context, conn connector.Connector, config map[string]any, content string) error

// RouteResult 路由结果。路由失败以结果形式报告，从不向上抛出
type RouteResult struct {
	Queued      bool   `json:"queued"`
	Action      string `json:"action"`
	Destination string `json:"destination,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ApprovalResult 审批处理结果，`{success, error}` 契约供审核界面提示
type ApprovalResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ActionRouter 动作路由器：按规则的动作策略入队审批或立即分发，
// 并承担审批决策后的延迟分发
type ActionRouter struct {
	db       *gorm.DB
	resolver ConnectorResolver
	dispatch map[destKey]dispatchFunc
	logger   *zap.Logger
}

// NewActionRouter 构建路由器并校验分发注册表覆盖全部目的地选项
func NewActionRouter(db *gorm.DB, resolver ConnectorResolver, logger *zap.Logger) (*ActionRouter, error) {
	r := &ActionRouter{
		db:       db,
		resolver: resolver,
		logger:   logger,
	}
	r.dispatch = map[destKey]dispatchFunc{
		{"slack", "post"}:         dispatchSlackMessage,
		{"slack", "post_message"}: dispatchSlackMessage,
		{"gmail", "send"}:         dispatchGmailSend,
		{"gmail", "draft"}:        dispatchGmailDraft,
		{"hubspot", "note"}:       dispatchHubSpotNote,
		{"hubspot", "task"}:       dispatchHubSpotTask,
	}

	for platform, actions := range destinationOptions {
		for _, action := range actions {
			if _, ok := r.dispatch[destKey{platform, action}]; !ok {
				return nil, fmt.Errorf("目的地 %s.%s 没有对应的分发实现", platform, action)
			}
		}
	}
	for key := range r.dispatch {
		if !containsAction(destinationOptions[key.platform], key.action) {
			return nil, fmt.Errorf("分发实现 %s.%s 不在目的地选项表中", key.platform, key.action)
		}
	}
	return r, nil
}

func containsAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

// RouteAction 按规则的动作策略处置技能产出。
// approval 入队待审批；auto 立即分发；无目的地则只记录完成。
// 任何失败都折叠进 RouteResult，不越过路由边界抛出
func (r *ActionRouter) RouteAction(ctx context.Context, organizationID, executionID string, rule *models.TriggerRule, output string) RouteResult {
	if rule.ActionType == models.ActionTypeApproval {
		item := &models.ApprovalQueueItem{
			ID:                uuid.NewString(),
			OrganizationID:    organizationID,
			ExecutionID:       executionID,
			RuleID:            rule.ID,
			DraftContent:      output,
			Destination:       rule.Destination,
			DestinationConfig: rule.DestinationConfig,
			Status:            string(ApprovalPending),
		}
		if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
			r.logger.Error("审批项入队失败",
				zap.String("execution_id", executionID),
				zap.Error(err))
			return RouteResult{Action: "failed", Error: fmt.Sprintf("审批项入队失败: %v", err)}
		}
		metrics.ApprovalPendingGauge.WithLabelValues(organizationID).Inc()
		return RouteResult{Queued: true, Action: "queued_for_approval", Destination: rule.Destination}
	}

	if rule.Destination == "" || rule.Destination == models.DestinationDisplay {
		return RouteResult{Action: "completed"}
	}

	if err := r.PostToDestination(ctx, organizationID, rule.Destination, rule.DestinationConfig, output); err != nil {
		return RouteResult{Action: "post_failed", Destination: rule.Destination, Error: err.Error()}
	}

	platform, _, _ := ParseDestination(rule.Destination)
	return RouteResult{Action: "posted_to_" + platform, Destination: rule.Destination}
}

// PostToDestination 解析 "<platform>.<action>" 并经注册表分发。
// 未知平台、未知动作、连接缺失、必填配置缺失都返回描述性错误，绝不静默
func (r *ActionRouter) PostToDestination(ctx context.Context, organizationID, destination string, config map[string]any, content string) error {
	platform, action, err := ParseDestination(destination)
	if err != nil {
		return err
	}

	handler, ok := r.dispatch[destKey{platform, action}]
	if !ok {
		if _, known := destinationOptions[platform]; known {
			return fmt.Errorf("平台 %s 不支持动作 %s，支持的动作: %s",
				platform, action, strings.Join(destinationOptions[platform], ", "))
		}
		return fmt.Errorf("不支持的目的地平台: %s", platform)
	}

	conn, err := r.resolver.Resolve(ctx, organizationID, platform)
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues(platform, action, "failed").Inc()
		return fmt.Errorf("平台 %s 连接不可用: %w", platform, err)
	}

	if err := handler(ctx, conn, config, content); err != nil {
		metrics.DispatchesTotal.WithLabelValues(platform, action, "failed").Inc()
		return err
	}
	metrics.DispatchesTotal.WithLabelValues(platform, action, "success").Inc()
	return nil
}

// ProcessApproval 处理审批决策。
// 状态守卫以比较交换实现（UPDATE ... WHERE status='pending'），
// 同一审批项并发决策只有一个生效，其余得到"已被处理"。
// approve/edit 先占用再分发，分发失败回滚到 pending，草稿保持可操作
func (r *ActionRouter) ProcessApproval(ctx context.Context, approvalID, reviewerID, action, editedContent string) ApprovalResult {
	var item models.ApprovalQueueItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", approvalID).Error; err != nil {
		return ApprovalResult{Error: fmt.Sprintf("审批项不存在: %v", err)}
	}

	switch action {
	case ApprovalActionReject:
		return r.rejectApproval(ctx, &item, reviewerID)
	case ApprovalActionApprove, ApprovalActionEdit:
		return r.dispatchApproval(ctx, &item, reviewerID, action, editedContent)
	default:
		return ApprovalResult{Error: fmt.Sprintf("未知审批动作: %s", action)}
	}
}

func (r *ActionRouter) rejectApproval(ctx context.Context, item *models.ApprovalQueueItem, reviewerID string) ApprovalResult {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.ApprovalQueueItem{}).
		Where("id = ? AND status = ?", item.ID, string(ApprovalPending)).
		Updates(map[string]any{
			"status":      string(ApprovalRejected),
			"reviewer_id": reviewerID,
			"reviewed_at": now,
		})
	if res.Error != nil {
		return ApprovalResult{Error: fmt.Sprintf("审批更新失败: %v", res.Error)}
	}
	if res.RowsAffected == 0 {
		return ApprovalResult{Error: "审批项已被处理"}
	}

	r.updateExecutionDecision(ctx, item.ExecutionID, ExecutionRejected, "rejected")
	metrics.ApprovalPendingGauge.WithLabelValues(item.OrganizationID).Dec()
	metrics.ApprovalDecisionsTotal.WithLabelValues(item.OrganizationID, "rejected").Inc()
	return ApprovalResult{Success: true}
}

func (r *ActionRouter) dispatchApproval(ctx context.Context, item *models.ApprovalQueueItem, reviewerID, action, editedContent string) ApprovalResult {
	target := ApprovalApproved
	content := item.DraftContent
	updates := map[string]any{
		"status":      string(ApprovalApproved),
		"reviewer_id": reviewerID,
		"reviewed_at": time.Now(),
	}
	if action == ApprovalActionEdit {
		if editedContent == "" {
			return ApprovalResult{Error: "编辑内容为空"}
		}
		target = ApprovalEdited
		content = editedContent
		updates["status"] = string(ApprovalEdited)
		updates["final_content"] = editedContent
	}

	if !ApprovalStatus(item.Status).CanTransition(target) {
		return ApprovalResult{Error: "审批项已被处理"}
	}

	// 比较交换占用。并发决策中只有一个 UPDATE 能命中 pending 行
	res := r.db.WithContext(ctx).Model(&models.ApprovalQueueItem{}).
		Where("id = ? AND status = ?", item.ID, string(ApprovalPending)).
		Updates(updates)
	if res.Error != nil {
		return ApprovalResult{Error: fmt.Sprintf("审批更新失败: %v", res.Error)}
	}
	if res.RowsAffected == 0 {
		return ApprovalResult{Error: "审批项已被处理"}
	}

	actionTaken := "displayed"
	if item.Destination != "" && item.Destination != models.DestinationDisplay {
		if err := r.PostToDestination(ctx, item.OrganizationID, item.Destination, item.DestinationConfig, content); err != nil {
			// 分发失败回滚占用，草稿留在队列里可再次操作
			r.db.WithContext(ctx).Model(&models.ApprovalQueueItem{}).
				Where("id = ? AND status = ?", item.ID, string(target)).
				Updates(map[string]any{
					"status":        string(ApprovalPending),
					"reviewer_id":   nil,
					"reviewed_at":   nil,
					"final_content": "",
				})
			r.logger.Error("审批后分发失败",
				zap.String("approval_id", item.ID),
				zap.String("destination", item.Destination),
				zap.Error(err))
			return ApprovalResult{Error: fmt.Sprintf("分发失败: %v", err)}
		}
		platform, _, _ := ParseDestination(item.Destination)
		actionTaken = "posted_to_" + platform
	}

	r.updateExecutionDecision(ctx, item.ExecutionID, ExecutionApproved, actionTaken)
	metrics.ApprovalPendingGauge.WithLabelValues(item.OrganizationID).Dec()
	metrics.ApprovalDecisionsTotal.WithLabelValues(item.OrganizationID, string(target)).Inc()
	return ApprovalResult{Success: true}
}

// updateExecutionDecision 审批决策落到关联执行。
// 守卫在 awaiting_approval 上，重复更新不会覆盖已定状态
func (r *ActionRouter) updateExecutionDecision(ctx context.Context, executionID string, status ExecutionStatus, actionTaken string) {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&models.Execution{}).
		Where("id = ? AND status = ?", executionID, string(ExecutionAwaitingApproval)).
		Updates(map[string]any{
			"status":       string(status),
			"action_taken": actionTaken,
			"completed_at": now,
		}).Error
	if err != nil {
		r.logger.Error("执行状态更新失败",
			zap.String("execution_id", executionID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// ParseDestination 解析 "<platform>.<action>" 目的地串
func ParseDestination(destination string) (platform, action string, err error) {
	platform, action, found := strings.Cut(destination, ".")
	if !found || platform == "" || action == "" {
		return "", "", fmt.Errorf("目的地格式无效: %q，预期 \"<platform>.<action>\"", destination)
	}
	return platform, action, nil
}

func dispatchSlackMessage(ctx context.Context, conn connector.Connector, config map[string]any, content string) error {
	chat, ok := conn.(connector.ChatConnector)
	if !ok {
		return fmt.Errorf("平台 %s 不支持消息发送", conn.Platform())
	}
	channelID, err := requireConfigString(config, "channel_id")
	if err != nil {
		return err
	}
	threadTS, _ := config["thread_ts"].(string)
	return chat.PostMessage(ctx, channelID, content, threadTS)
}

func dispatchGmailSend(ctx context.Context, conn connector.Connector, config map[string]any, content string) error {
	mail, ok := conn.(connector.MailConnector)
	if !ok {
		return fmt.Errorf("平台 %s 不支持邮件发送", conn.Platform())
	}
	to, err := requireConfigString(config, "to")
	if err != nil {
		return err
	}
	return mail.SendEmail(ctx, to, emailSubject(config), content)
}

func dispatchGmailDraft(ctx context.Context, conn connector.Connector, config map[string]any, content string) error {
	mail, ok := conn.(connector.MailConnector)
	if !ok {
		return fmt.Errorf("平台 %s 不支持邮件草稿", conn.Platform())
	}
	to, err := requireConfigString(config, "to")
	if err != nil {
		return err
	}
	return mail.CreateDraft(ctx, to, emailSubject(config), content)
}

func dispatchHubSpotNote(ctx context.Context, conn connector.Connector, config map[string]any, content string) error {
	crm, ok := conn.(connector.CRMConnector)
	if !ok {
		return fmt.Errorf("平台 %s 不支持备注写入", conn.Platform())
	}
	contactID, err := requireConfigString(config, "contact_id")
	if err != nil {
		return err
	}
	return crm.CreateNote(ctx, contactID, content)
}

func dispatchHubSpotTask(ctx context.Context, conn connector.Connector, config map[string]any, content string) error {
	crm, ok := conn.(connector.CRMConnector)
	if !ok {
		return fmt.Errorf("平台 %s 不支持任务写入", conn.Platform())
	}
	contactID, err := requireConfigString(config, "contact_id")
	if err != nil {
		return err
	}
	return crm.CreateTask(ctx, contactID, content)
}

func emailSubject(config map[string]any) string {
	if subject, ok := config["subject"].(string); ok && subject != "" {
		return subject
	}
	return DefaultEmailSubject
}

// requireConfigString 校验目的地配置里的必填字符串键
func requireConfigString(config map[string]any, key string) (string, error) {
	v, ok := config[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("目的地配置缺少必填项: %s", key)
	}
	return v, nil
}
