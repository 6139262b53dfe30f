package tasks

// 任务类型
const (
	TypeProcessTrigger = "automation:process_trigger"
	TypeScanConditions = "automation:scan_conditions"
)

// ProcessTriggerPayload 触发处理任务载荷。
// 触发事件随任务携带，规则在消费时按 ID 重新加载
type ProcessTriggerPayload struct {
	RuleID         string         `json:"rule_id"`
	OrganizationID string         `json:"organization_id"`
	TriggerEvent   map[string]any `json:"trigger_event"`
}

// ScanConditionsPayload 条件扫描任务载荷
type ScanConditionsPayload struct {
	Reason string `json:"reason,omitempty"` // scheduled, manual
}
