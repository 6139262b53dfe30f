package models

import (
	"time"

	"gorm.io/datatypes"
)

// Organization 租户边界，所有实体按 organization_id 隔离
type Organization struct {
	ID   string `json:"id" gorm:"primaryKey;type:uuid"`
	Name string `json:"name" gorm:"size:255;not null"`
	Slug string `json:"slug" gorm:"size:100;uniqueIndex"`
	Plan string `json:"plan" gorm:"size:50;default:free"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// Connection 组织与外部平台的授权连接
// 断开时置 IsActive=false，不删除行
type Connection struct {
	ID             string `json:"id" gorm:"primaryKey;type:uuid"`
	OrganizationID string `json:"organizationId" gorm:"type:uuid;not null;index:idx_conn_org_platform"`
	Platform       string `json:"platform" gorm:"size:50;not null;index:idx_conn_org_platform"` // slack, hubspot, gmail

	// OAuth 凭证密文（security.EncryptSecret 序列化后的 token JSON）
	Ciphertext []byte         `json:"-" gorm:"not null"`
	Metadata   map[string]any `json:"metadata" gorm:"type:jsonb;serializer:json"`

	IsActive       bool       `json:"isActive" gorm:"default:true"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// ProviderCredential 组织的补全服务商凭证（密文存储）
type ProviderCredential struct {
	ID             string `json:"id" gorm:"primaryKey;type:uuid"`
	OrganizationID string `json:"organizationId" gorm:"type:uuid;not null;index"`
	Provider       string `json:"provider" gorm:"size:50;not null"` // anthropic, openai
	Name           string `json:"name" gorm:"size:255"`
	Ciphertext     []byte `json:"-" gorm:"not null"`
	Status         string `json:"status" gorm:"size:50;not null;default:active"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// SkillConfig 技能配置
type SkillConfig struct {
	Model          string   `json:"model,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	ContextSources []string `json:"context_sources,omitempty"` // crm_contact, email_thread, ...
}

// Skill 可复用的 LLM 任务定义
type Skill struct {
	ID             string `json:"id" gorm:"primaryKey;type:uuid"`
	OrganizationID string `json:"organizationId" gorm:"type:uuid;not null;index"`

	Slug         string      `json:"slug" gorm:"size:100;not null"`
	Name         string      `json:"name" gorm:"size:255;not null"`
	SystemPrompt string      `json:"systemPrompt" gorm:"type:text;not null"`
	Config       SkillConfig `json:"config" gorm:"type:jsonb;serializer:json"`

	IsActive  bool      `json:"isActive" gorm:"default:true"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// 触发规则的触发与动作类型
const (
	TriggerTypeEvent     = "event"
	TriggerTypeCondition = "condition"

	ActionTypeAuto     = "auto"
	ActionTypeApproval = "approval"

	// DestinationDisplay 哨兵目的地：不分发，仅展示
	DestinationDisplay = "display"
)

// TriggerRule 触发规则：何时触发（trigger_*）、执行什么（skill_id）、
// 如何处置产出（action_type + destination）
type TriggerRule struct {
	ID             string `json:"id" gorm:"primaryKey;type:uuid"`
	OrganizationID string `json:"organizationId" gorm:"type:uuid;not null;index"`

	Name          string         `json:"name" gorm:"size:255;not null"`
	TriggerType   string         `json:"triggerType" gorm:"size:50;not null;index"`    // event, condition
	TriggerSource string         `json:"triggerSource" gorm:"size:100;not null;index"` // "<platform>.<event_type>" / "<platform>.<check_type>" / "cron.<name>"
	TriggerConfig map[string]any `json:"triggerConfig" gorm:"type:jsonb;serializer:json"`

	SkillID string `json:"skillId" gorm:"type:uuid;not null"`

	ActionType        string         `json:"actionType" gorm:"size:50;not null"` // auto, approval
	Destination       string         `json:"destination" gorm:"size:100"`        // "<platform>.<action>" 或 "display"
	DestinationConfig map[string]any `json:"destinationConfig" gorm:"type:jsonb;serializer:json"`

	IsActive  bool      `json:"isActive" gorm:"default:true;index"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// Execution 一次触发尝试的完整审计记录，也是重试的基本单位
type Execution struct {
	ID             string  `json:"id" gorm:"primaryKey;type:uuid"`
	OrganizationID string  `json:"organizationId" gorm:"type:uuid;not null;index"`
	RuleID         *string `json:"ruleId,omitempty" gorm:"type:uuid;index"` // 手动执行时为空
	SkillID        string  `json:"skillId" gorm:"type:uuid;not null"`

	TriggerEvent    map[string]any `json:"triggerEvent" gorm:"type:jsonb;serializer:json"`
	ContextGathered map[string]any `json:"contextGathered" gorm:"type:jsonb;serializer:json"`
	SkillInput      string         `json:"skillInput" gorm:"type:text"`
	SkillOutput     string         `json:"skillOutput" gorm:"type:text"`

	Status      string `json:"status" gorm:"size:50;not null;index"` // running, completed, failed, awaiting_approval, approved, rejected
	ActionTaken string `json:"actionTaken" gorm:"size:100"`
	Error       string `json:"error" gorm:"type:text"`
	TokensUsed  int    `json:"tokensUsed" gorm:"default:0"`

	CreatedAt   time.Time  `json:"createdAt" gorm:"not null;autoCreateTime;index"`
	CompletedAt *time.Time `json:"completedAt"`
}

// ApprovalQueueItem 审批队列项，与产生它的 Execution 一一对应。
// 目的地配置在入队时从规则快照，后续规则变更不影响待审批项
type ApprovalQueueItem struct {
	ID             string `json:"id" gorm:"primaryKey;type:uuid"`
	OrganizationID string `json:"organizationId" gorm:"type:uuid;not null;index"`
	ExecutionID    string `json:"executionId" gorm:"type:uuid;not null;uniqueIndex"`
	RuleID         string `json:"ruleId" gorm:"type:uuid;index"`

	DraftContent      string         `json:"draftContent" gorm:"type:text;not null"`
	Destination       string         `json:"destination" gorm:"size:100"`
	DestinationConfig map[string]any `json:"destinationConfig" gorm:"type:jsonb;serializer:json"`

	Status       string     `json:"status" gorm:"size:50;not null;default:pending;index"` // pending, approved, rejected, edited
	ReviewerID   *string    `json:"reviewerId" gorm:"type:uuid"` // 审批前为 NULL，uuid 列不接受空串
	ReviewedAt   *time.Time `json:"reviewedAt"`
	FinalContent string     `json:"finalContent" gorm:"type:text"` // 仅编辑后分发时填写

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// WebhookEventLog 入站 Webhook 审计日志
type WebhookEventLog struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	Platform string `json:"platform" gorm:"size:50;not null;index"`

	RequestBody datatypes.JSON `json:"requestBody" gorm:"type:jsonb"`
	MatchCount  int            `json:"matchCount" gorm:"default:0"`
	Status      string         `json:"status" gorm:"size:50;not null"` // matched, ignored, malformed
	Error       string         `json:"error" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
}

// AllModels 自动迁移用的模型清单
func AllModels() []any {
	return []any{
		&Organization{},
		&Connection{},
		&ProviderCredential{},
		&Skill{},
		&TriggerRule{},
		&Execution{},
		&ApprovalQueueItem{},
		&WebhookEventLog{},
	}
}
