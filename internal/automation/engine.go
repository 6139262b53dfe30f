package automation

import (
	"context"
	"fmt"
	"time"

	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TriggerResult 一次触发处理的结果
type TriggerResult struct {
	ExecutionID string          `json:"execution_id,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Output      string          `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Engine 规则引擎（编排器）。
// 驱动上下文采集、技能执行与动作路由，持有执行状态机。
// 硬性保证：任何一步出错都把执行落到 failed 终态，绝不留在 running
type Engine struct {
	db      *gorm.DB
	builder *ContextBuilder
	runner  *SkillRunner
	router  *ActionRouter
	logger  *zap.Logger
}

func NewEngine(db *gorm.DB, builder *ContextBuilder, runner *SkillRunner, router *ActionRouter, logger *zap.Logger) *Engine {
	return &Engine{
		db:      db,
		builder: builder,
		runner:  runner,
		router:  router,
		logger:  logger,
	}
}

// ProcessTrigger 处理一次规则触发。
// 先插入 running 执行行再做任何事，插入失败直接返回，不触碰下游组件
func (e *Engine) ProcessTrigger(ctx context.Context, rule *models.TriggerRule, triggerEvent map[string]any, organizationID string) *TriggerResult {
	exec := &models.Execution{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		RuleID:         &rule.ID,
		SkillID:        rule.SkillID,
		TriggerEvent:   triggerEvent,
		Status:         string(ExecutionRunning),
	}
	if err := e.db.WithContext(ctx).Create(exec).Error; err != nil {
		e.logger.Error("执行记录创建失败",
			zap.String("rule_id", rule.ID),
			zap.Error(err))
		return &TriggerResult{Status: ExecutionFailed, Error: fmt.Sprintf("执行记录创建失败: %v", err)}
	}
	return e.runPipeline(ctx, exec, rule, "")
}

// ProcessManualSkillRun 手动执行技能。
// 触发事件合成为 {type: manual, input}，无规则，产出不路由，只展示
func (e *Engine) ProcessManualSkillRun(ctx context.Context, skillID, organizationID, manualInput string) *TriggerResult {
	exec := &models.Execution{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		SkillID:        skillID,
		TriggerEvent:   map[string]any{"type": "manual", "input": manualInput},
		Status:         string(ExecutionRunning),
	}
	if err := e.db.WithContext(ctx).Create(exec).Error; err != nil {
		e.logger.Error("执行记录创建失败",
			zap.String("skill_id", skillID),
			zap.Error(err))
		return &TriggerResult{Status: ExecutionFailed, Error: fmt.Sprintf("执行记录创建失败: %v", err)}
	}
	return e.runPipeline(ctx, exec, nil, manualInput)
}

// RetryExecution 重试执行：从存储的原始触发事件完整重跑，
// 新建执行行，不在旧行上续跑检查点
func (e *Engine) RetryExecution(ctx context.Context, executionID string) *TriggerResult {
	var exec models.Execution
	if err := e.db.WithContext(ctx).First(&exec, "id = ?", executionID).Error; err != nil {
		return &TriggerResult{Status: ExecutionFailed, Error: fmt.Sprintf("执行记录不存在: %v", err)}
	}

	if exec.RuleID == nil {
		input, _ := exec.TriggerEvent["input"].(string)
		return e.ProcessManualSkillRun(ctx, exec.SkillID, exec.OrganizationID, input)
	}

	var rule models.TriggerRule
	if err := e.db.WithContext(ctx).First(&rule, "id = ?", *exec.RuleID).Error; err != nil {
		return &TriggerResult{Status: ExecutionFailed, Error: fmt.Sprintf("触发规则不存在: %v", err)}
	}
	return e.ProcessTrigger(ctx, &rule, exec.TriggerEvent, exec.OrganizationID)
}

// runPipeline 顺序驱动 上下文采集 → 技能执行 → 动作路由。
// 顶层兜底：包括 panic 在内的任何未处理错误都落到 failed
func (e *Engine) runPipeline(ctx context.Context, exec *models.Execution, rule *models.TriggerRule, manualInput string) (result *TriggerResult) {
	start := time.Now()
	ctx = logger.WithExecutionID(ctx, exec.ID)
	log := e.logger.With(
		zap.String("execution_id", exec.ID),
		zap.String("organization_id", exec.OrganizationID))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("执行管道异常", zap.Any("panic", rec))
			result = e.failExecution(ctx, exec, fmt.Sprintf("内部错误: %v", rec))
		}
		if result != nil {
			metrics.ExecutionsTotal.WithLabelValues(string(result.Status), exec.OrganizationID).Inc()
			metrics.ExecutionDuration.WithLabelValues(exec.OrganizationID).Observe(time.Since(start).Seconds())
		}
	}()

	var skill models.Skill
	if err := e.db.WithContext(ctx).
		First(&skill, "id = ? AND organization_id = ?", exec.SkillID, exec.OrganizationID).Error; err != nil {
		return e.failExecution(ctx, exec, fmt.Sprintf("技能不存在: %v", err))
	}

	gathered := e.builder.GatherContext(ctx, exec.OrganizationID, skill.Config.ContextSources, exec.TriggerEvent)

	// 检查点写入。进程在此之后崩溃，行上仍能看到已采集的进度
	if err := e.db.WithContext(ctx).Model(&models.Execution{}).
		Where("id = ?", exec.ID).
		Update("context_gathered", gathered).Error; err != nil {
		return e.failExecution(ctx, exec, fmt.Sprintf("上下文检查点写入失败: %v", err))
	}

	skillResult, err := e.runner.ExecuteSkill(ctx, exec.OrganizationID, &skill, &SkillInput{
		TriggerEvent: exec.TriggerEvent,
		ManualInput:  manualInput,
		Context:      gathered,
	})
	if err != nil {
		return e.failExecution(ctx, exec, err.Error())
	}
	metrics.TokensUsedTotal.WithLabelValues(exec.OrganizationID).Add(float64(skillResult.TokensUsed))

	var routed RouteResult
	if rule != nil {
		routed = e.router.RouteAction(ctx, exec.OrganizationID, exec.ID, rule, skillResult.Output)
	} else {
		routed = RouteResult{Action: "displayed"}
	}

	return e.finalizeExecution(ctx, exec, skillResult, routed, log)
}

// finalizeExecution 终态写入。
// queued → awaiting_approval（completed_at 留空等待决策）；
// 路由报错 → failed，但保留已生成的技能产出；其余 → completed
func (e *Engine) finalizeExecution(ctx context.Context, exec *models.Execution, skillResult *SkillResult, routed RouteResult, log *zap.Logger) *TriggerResult {
	status := ExecutionCompleted
	updates := map[string]any{
		"skill_input":  skillResult.Input,
		"skill_output": skillResult.Output,
		"tokens_used":  skillResult.TokensUsed,
		"action_taken": routed.Action,
	}

	switch {
	case routed.Queued:
		status = ExecutionAwaitingApproval
	case routed.Error != "":
		status = ExecutionFailed
		updates["error"] = routed.Error
		updates["completed_at"] = time.Now()
	default:
		updates["completed_at"] = time.Now()
	}
	updates["status"] = string(status)

	if !ExecutionStatus(exec.Status).CanTransition(status) {
		return e.failExecution(ctx, exec, fmt.Sprintf("非法状态转移: %s → %s", exec.Status, status))
	}

	if err := e.db.WithContext(ctx).Model(&models.Execution{}).
		Where("id = ?", exec.ID).
		Updates(updates).Error; err != nil {
		return e.failExecution(ctx, exec, fmt.Sprintf("执行结果写入失败: %v", err))
	}

	log.Info("执行结束",
		zap.String("status", string(status)),
		zap.String("action_taken", routed.Action),
		zap.Int("tokens_used", skillResult.TokensUsed))

	return &TriggerResult{
		ExecutionID: exec.ID,
		Status:      status,
		Output:      skillResult.Output,
		Error:       routed.Error,
	}
}

// failExecution 把执行落到 failed 终态并记录错误与完成时间
func (e *Engine) failExecution(ctx context.Context, exec *models.Execution, message string) *TriggerResult {
	err := e.db.WithContext(ctx).Model(&models.Execution{}).
		Where("id = ?", exec.ID).
		Updates(map[string]any{
			"status":       string(ExecutionFailed),
			"error":        message,
			"completed_at": time.Now(),
		}).Error
	if err != nil {
		e.logger.Error("执行失败状态写入失败",
			zap.String("execution_id", exec.ID),
			zap.Error(err))
	}
	return &TriggerResult{ExecutionID: exec.ID, Status: ExecutionFailed, Error: message}
}
