package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/automation"
	"backend/internal/infra/queue"
	"backend/internal/models"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// scanLockKey 条件扫描互斥锁。扫描轮次不允许重叠
const scanLockKey = "automation:scan_lock"

// AutomationHandler 自动化任务处理器
type AutomationHandler struct {
	db          *gorm.DB
	engine      *automation.Engine
	scanner     *automation.ConditionScanner
	queueClient queue.Client
	redis       *redis.Client
	scanLockTTL time.Duration
	logger      *zap.Logger
}

func NewAutomationHandler(
	db *gorm.DB,
	engine *automation.Engine,
	scanner *automation.ConditionScanner,
	queueClient queue.Client,
	rdb *redis.Client,
	scanLockTTL time.Duration,
	logger *zap.Logger,
) *AutomationHandler {
	return &AutomationHandler{
		db:          db,
		engine:      engine,
		scanner:     scanner,
		queueClient: queueClient,
		redis:       rdb,
		scanLockTTL: scanLockTTL,
		logger:      logger,
	}
}

// HandleProcessTrigger 消费一次触发处理任务。
// 引擎把一切失败落到执行行，这里不向 asynq 返回错误触发重试
func (h *AutomationHandler) HandleProcessTrigger(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ProcessTriggerPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("任务载荷解析失败: %w", err)
	}

	var rule models.TriggerRule
	if err := h.db.WithContext(ctx).First(&rule, "id = ?", payload.RuleID).Error; err != nil {
		h.logger.Error("触发规则不存在，任务丢弃",
			zap.String("rule_id", payload.RuleID),
			zap.Error(err))
		return nil
	}
	if !rule.IsActive {
		h.logger.Info("触发规则已停用，任务丢弃", zap.String("rule_id", rule.ID))
		return nil
	}

	result := h.engine.ProcessTrigger(ctx, &rule, payload.TriggerEvent, payload.OrganizationID)
	h.logger.Info("触发处理完成",
		zap.String("rule_id", rule.ID),
		zap.String("execution_id", result.ExecutionID),
		zap.String("status", string(result.Status)))
	return nil
}

// HandleScanConditions 消费一次条件扫描任务。
// Redis SETNX 锁保证跨实例同一时刻至多一轮扫描，
// 拿不到锁说明别的实例在扫，直接返回
func (h *AutomationHandler) HandleScanConditions(ctx context.Context, t *asynq.Task) error {
	acquired, err := h.redis.SetNX(ctx, scanLockKey, time.Now().Format(time.RFC3339), h.scanLockTTL).Result()
	if err != nil {
		return fmt.Errorf("扫描锁获取失败: %w", err)
	}
	if !acquired {
		h.logger.Info("另一轮条件扫描进行中，本次跳过")
		return nil
	}
	defer h.redis.Del(context.WithoutCancel(ctx), scanLockKey)

	matches, err := h.scanner.ScanConditions(ctx)
	if err != nil {
		return fmt.Errorf("条件扫描失败: %w", err)
	}

	for _, match := range matches {
		err := h.queueClient.EnqueueProcessTrigger(tasks.ProcessTriggerPayload{
			RuleID:         match.Rule.ID,
			OrganizationID: match.OrganizationID,
			TriggerEvent:   match.TriggerEvent,
		})
		if err != nil {
			h.logger.Error("条件命中入队失败",
				zap.String("rule_id", match.Rule.ID),
				zap.Error(err))
		}
	}

	h.logger.Info("条件扫描完成", zap.Int("matches", len(matches)))
	return nil
}
