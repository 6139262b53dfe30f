package automation

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"backend/internal/models"

	"github.com/Knetic/govaluate"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WebhookEvent 规范化后的入站事件
type WebhookEvent struct {
	Platform  string         `json:"platform"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// EventMatch 事件与规则的一次命中，交给引擎处理
type EventMatch struct {
	Rule           models.TriggerRule `json:"rule"`
	OrganizationID string             `json:"organization_id"`
	TriggerEvent   map[string]any     `json:"trigger_event"`
}

// EventHandler 把入站事件匹配到活跃的事件型触发规则
type EventHandler struct {
	db       *gorm.DB
	resolver ConnectorResolver
	logger   *zap.Logger
}

func NewEventHandler(db *gorm.DB, resolver ConnectorResolver, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		db:       db,
		resolver: resolver,
		logger:   logger,
	}
}

// HandleWebhookEvent 匹配事件到规则。
// 规则命中须同时满足：trigger_source 等于 "<platform>.<event_type>"、
// 规则组织持有平台的活跃连接、event_filters 全部匹配（AND 语义）。
// 没有活跃连接的规则即使启用也不触发
func (h *EventHandler) HandleWebhookEvent(ctx context.Context, event *WebhookEvent) ([]EventMatch, error) {
	source := event.Platform + "." + event.EventType

	var rules []models.TriggerRule
	err := h.db.WithContext(ctx).
		Where("trigger_type = ? AND trigger_source = ? AND is_active = ?", models.TriggerTypeEvent, source, true).
		Order("created_at ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("触发规则查询失败: %w", err)
	}

	matches := make([]EventMatch, 0, len(rules))
	for _, rule := range rules {
		connected, err := h.resolver.HasActiveConnection(ctx, rule.OrganizationID, event.Platform)
		if err != nil {
			h.logger.Warn("连接查询失败，规则跳过",
				zap.String("rule_id", rule.ID),
				zap.Error(err))
			continue
		}
		if !connected {
			continue
		}

		if !matchEventFilters(rule.TriggerConfig, event.Payload) {
			continue
		}
		if !matchExpression(rule.TriggerConfig, event.Payload, h.logger, rule.ID) {
			continue
		}

		matches = append(matches, EventMatch{
			Rule:           rule,
			OrganizationID: rule.OrganizationID,
			TriggerEvent: map[string]any{
				"platform":   event.Platform,
				"event_type": event.EventType,
				"payload":    event.Payload,
			},
		})
	}
	return matches, nil
}

// matchEventFilters 声明式字段过滤。
// 过滤器是 点路径→期望值 的平铺映射，全部相等才算命中；
// 空过滤器匹配一切
func matchEventFilters(triggerConfig map[string]any, payload map[string]any) bool {
	raw, ok := triggerConfig["event_filters"]
	if !ok || raw == nil {
		return true
	}
	filters, ok := raw.(map[string]any)
	if !ok {
		return true
	}

	for path, expected := range filters {
		actual, found := lookupPath(payload, path)
		if !found || !valueEquals(actual, expected) {
			return false
		}
	}
	return true
}

// matchExpression 可选的表达式过滤（govaluate）。
// 点路径参数以 [properties.status] 形式引用；
// 表达式解析或求值失败按不命中处理并告警
func matchExpression(triggerConfig map[string]any, payload map[string]any, log *zap.Logger, ruleID string) bool {
	raw, ok := triggerConfig["match_expression"].(string)
	if !ok || raw == "" {
		return true
	}

	expr, err := govaluate.NewEvaluableExpression(raw)
	if err != nil {
		log.Warn("匹配表达式解析失败",
			zap.String("rule_id", ruleID),
			zap.String("expression", raw),
			zap.Error(err))
		return false
	}

	result, err := expr.Evaluate(flattenPayload("", payload))
	if err != nil {
		log.Warn("匹配表达式求值失败",
			zap.String("rule_id", ruleID),
			zap.Error(err))
		return false
	}
	matched, ok := result.(bool)
	return ok && matched
}

// lookupPath 按点路径深入嵌套映射取值
func lookupPath(payload map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = payload
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// valueEquals 过滤值比较。
// JSON 反序列化后数字都是 float64，统一转字符串比较避免类型误差。
// 过滤值可能是 JSON 对象（map/slice），== 对不可比较类型会 panic，
// 先走 DeepEqual 再退化到字符串比较
func valueEquals(actual, expected any) bool {
	if reflect.DeepEqual(actual, expected) {
		return true
	}
	return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected)
}

// flattenPayload 把嵌套负载平铺为点路径参数表
func flattenPayload(prefix string, payload map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range payload {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for k, v := range flattenPayload(name, nested) {
				out[k] = v
			}
			continue
		}
		out[name] = value
	}
	return out
}
