package automation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"backend/internal/connector"
	"backend/internal/metrics"
	"backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 条件评估默认阈值
const (
	DefaultDaysInactive = 30
	DefaultDaysStuck    = 14

	// scanBatchLimit 单次评估从平台拉取的对象数上限
	scanBatchLimit = 50
)

// conditionPlatformAliases 条件来源前缀到连接平台的映射
var conditionPlatformAliases = map[string]string{
	"crm":   "hubspot",
	"email": "gmail",
	"chat":  "slack",
}

// ConditionMatch 条件规则的一次命中
type ConditionMatch struct {
	Rule           models.TriggerRule `json:"rule"`
	OrganizationID string             `json:"organization_id"`
	TriggerEvent   map[string]any     `json:"trigger_event"`
}

// evaluatorFunc 检查类型的评估实现。返回命中数据，空表示未命中
type evaluatorFunc func(ctx context.Context, crm connector.CRMConnector, cfg map[string]any) ([]map[string]any, error)

// ConditionScanner 条件扫描器。周期性评估条件型规则，
// 产出与事件匹配同形的命中交给引擎
type ConditionScanner struct {
	db         *gorm.DB
	resolver   ConnectorResolver
	evaluators map[string]evaluatorFunc
	now        func() time.Time
	logger     *zap.Logger
}

func NewConditionScanner(db *gorm.DB, resolver ConnectorResolver, logger *zap.Logger) *ConditionScanner {
	s := &ConditionScanner{
		db:       db,
		resolver: resolver,
		now:      time.Now,
		logger:   logger,
	}
	s.evaluators = map[string]evaluatorFunc{
		"inactive_contacts": s.evaluateInactiveContacts,
		"deals_stuck":       s.evaluateDealsStuck,
		"pending_tasks":     s.evaluatePendingTasks,
	}
	return s
}

// ScanConditions 扫描全部活跃条件规则。
// 单条规则评估失败记日志后继续，不中断整轮扫描；
// 平台连接缺失的规则静默跳过
func (s *ConditionScanner) ScanConditions(ctx context.Context) ([]ConditionMatch, error) {
	var rules []models.TriggerRule
	err := s.db.WithContext(ctx).
		Where("trigger_type = ? AND is_active = ?", models.TriggerTypeCondition, true).
		Order("created_at ASC").
		Find(&rules).Error
	if err != nil {
		metrics.ConditionScansTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("条件规则查询失败: %w", err)
	}

	matches := make([]ConditionMatch, 0)
	for _, rule := range rules {
		match, err := s.evaluateRule(ctx, &rule)
		if err != nil {
			s.logger.Warn("条件规则评估失败，扫描继续",
				zap.String("rule_id", rule.ID),
				zap.String("trigger_source", rule.TriggerSource),
				zap.Error(err))
			continue
		}
		if match != nil {
			matches = append(matches, *match)
		}
	}

	metrics.ConditionScansTotal.WithLabelValues("success").Inc()
	return matches, nil
}

// evaluateRule 评估单条规则。返回 (nil, nil) 表示未命中或不适用
func (s *ConditionScanner) evaluateRule(ctx context.Context, rule *models.TriggerRule) (*ConditionMatch, error) {
	if !s.scheduleDue(rule) {
		return nil, nil
	}

	prefix, checkType, found := strings.Cut(rule.TriggerSource, ".")
	if !found {
		return nil, fmt.Errorf("条件来源格式无效: %q", rule.TriggerSource)
	}
	platform := prefix
	if alias, ok := conditionPlatformAliases[prefix]; ok {
		platform = alias
	}

	evaluator, ok := s.evaluators[checkType]
	if !ok {
		return nil, fmt.Errorf("未知检查类型: %s", checkType)
	}

	conn, err := s.resolver.Resolve(ctx, rule.OrganizationID, platform)
	if err != nil {
		if errors.Is(err, connector.ErrNoConnection) {
			return nil, nil
		}
		return nil, err
	}
	crm, ok := conn.(connector.CRMConnector)
	if !ok {
		return nil, fmt.Errorf("平台 %s 不支持条件评估", platform)
	}

	matched, err := evaluator(ctx, crm, rule.TriggerConfig)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}

	return &ConditionMatch{
		Rule:           *rule,
		OrganizationID: rule.OrganizationID,
		TriggerEvent: map[string]any{
			"type":       "condition",
			"check_type": checkType,
			"matched":    matched,
		},
	}, nil
}

// scheduleDue 带 schedule 的规则按 Cron 表达式判断当前时刻是否到期。
// 表达式无效按不到期处理并告警
func (s *ConditionScanner) scheduleDue(rule *models.TriggerRule) bool {
	raw, ok := rule.TriggerConfig["schedule"].(string)
	if !ok || raw == "" {
		return true
	}
	expr, err := ParseCron(raw)
	if err != nil {
		s.logger.Warn("规则调度表达式无效",
			zap.String("rule_id", rule.ID),
			zap.String("schedule", raw),
			zap.Error(err))
		return false
	}
	return expr.Matches(s.now())
}

// evaluateInactiveContacts 静默联系人：最后修改时间早于 N 天前
func (s *ConditionScanner) evaluateInactiveContacts(ctx context.Context, crm connector.CRMConnector, cfg map[string]any) ([]map[string]any, error) {
	days := configInt(cfg, "days_inactive", DefaultDaysInactive)
	cutoff := s.now().AddDate(0, 0, -days)

	contacts, err := crm.GetContacts(ctx, scanBatchLimit)
	if err != nil {
		return nil, err
	}

	matched := make([]map[string]any, 0)
	for _, contact := range contacts {
		when, ok := parseTimestamp(contact["lastmodifieddate"])
		if !ok {
			when, ok = parseTimestamp(contact["notes_last_updated"])
		}
		if ok && when.Before(cutoff) {
			matched = append(matched, contact)
		}
	}
	return matched, nil
}

// evaluateDealsStuck 停滞交易：未关闭且最后修改时间早于 N 天前
func (s *ConditionScanner) evaluateDealsStuck(ctx context.Context, crm connector.CRMConnector, cfg map[string]any) ([]map[string]any, error) {
	days := configInt(cfg, "days_stuck", DefaultDaysStuck)
	cutoff := s.now().AddDate(0, 0, -days)

	deals, err := crm.GetDeals(ctx, scanBatchLimit)
	if err != nil {
		return nil, err
	}

	matched := make([]map[string]any, 0)
	for _, deal := range deals {
		stage, _ := deal["dealstage"].(string)
		if strings.Contains(strings.ToLower(stage), "closed") {
			continue
		}
		when, ok := parseTimestamp(deal["hs_lastmodifieddate"])
		if ok && when.Before(cutoff) {
			matched = append(matched, deal)
		}
	}
	return matched, nil
}

// evaluatePendingTasks 积压任务：未开始或等待中的任务数达到阈值
func (s *ConditionScanner) evaluatePendingTasks(ctx context.Context, crm connector.CRMConnector, cfg map[string]any) ([]map[string]any, error) {
	minPending := configInt(cfg, "min_pending", 1)

	tasks, err := crm.GetTasks(ctx, scanBatchLimit)
	if err != nil {
		return nil, err
	}

	pending := make([]map[string]any, 0)
	for _, task := range tasks {
		status, _ := task["hs_task_status"].(string)
		if status == "NOT_STARTED" || status == "WAITING" {
			pending = append(pending, task)
		}
	}
	if len(pending) < minPending {
		return nil, nil
	}
	return pending, nil
}

// configInt 读取规则配置里的整数阈值。
// JSON 反序列化后的数字是 float64，字符串数字也接受
func configInt(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// parseTimestamp 平台时间字段兼容 RFC3339 字符串与毫秒时间戳
func parseTimestamp(v any) (time.Time, bool) {
	switch val := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t, true
		}
		if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
	case float64:
		return time.UnixMilli(int64(val)), true
	}
	return time.Time{}, false
}
