package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"backend/internal/ai"
	"backend/internal/models"

	"go.uber.org/zap"
)

// 技能未声明时的执行参数默认值
const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
)

// CredentialResolver 解析组织的补全服务商凭证（解密后明文）
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, organizationID string) (provider string, apiKey string, err error)
}

// SkillInput 技能执行的组装输入
type SkillInput struct {
	TriggerEvent map[string]any
	ManualInput  string
	Context      map[string]any
}

// SkillResult 技能执行结果。Input 是发给服务商的完整用户消息，用于审计
type SkillResult struct {
	Input      string
	Output     string
	TokensUsed int
}

// SkillRunner 技能执行器：组装输入消息并调用补全服务商恰好一次
type SkillRunner struct {
	credentials CredentialResolver
	factory     ai.Factory
	logger      *zap.Logger
}

func NewSkillRunner(credentials CredentialResolver, factory ai.Factory, logger *zap.Logger) *SkillRunner {
	return &SkillRunner{
		credentials: credentials,
		factory:     factory,
		logger:      logger,
	}
}

// ExecuteSkill 执行技能。
// 凭证缺失或无法解密返回 ConfigurationError（终态，不可重试）；
// 服务商调用失败统一包装为 ExecutionError，携带服务商的原始信息
func (r *SkillRunner) ExecuteSkill(ctx context.Context, organizationID string, skill *models.Skill, input *SkillInput) (*SkillResult, error) {
	provider, apiKey, err := r.credentials.ResolveCredential(ctx, organizationID)
	if err != nil {
		return nil, &ConfigurationError{
			Message: fmt.Sprintf("补全服务商凭证未配置: %v", err),
		}
	}

	client, err := r.factory.NewClient(provider, &ai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, &ConfigurationError{
			Message: fmt.Sprintf("补全服务商客户端构建失败: %v", err),
		}
	}

	message := FormatSkillInput(input)

	temperature := DefaultTemperature
	if skill.Config.Temperature != nil {
		temperature = *skill.Config.Temperature
	}
	maxTokens := skill.Config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	resp, err := client.Complete(ctx, &ai.CompletionRequest{
		Model:        skill.Config.Model,
		SystemPrompt: skill.SystemPrompt,
		UserMessage:  message,
		MaxTokens:    maxTokens,
		Temperature:  temperature,
	})
	if err != nil {
		return nil, &ExecutionError{Message: "技能执行失败", Err: err}
	}

	r.logger.Info("技能执行完成",
		zap.String("skill_id", skill.ID),
		zap.String("organization_id", organizationID),
		zap.String("provider", provider),
		zap.Int("tokens_used", resp.Usage.TotalTokens()))

	return &SkillResult{
		Input:      message,
		Output:     resp.Text(),
		TokensUsed: resp.Usage.TotalTokens(),
	}, nil
}

// ValidateCredentialFormat 按服务商的 Key 前缀约定做语法校验，不发请求
func (r *SkillRunner) ValidateCredentialFormat(provider, apiKey string) error {
	return r.factory.ValidateKeyFormat(provider, apiKey)
}

// VerifyCredential 以最小 Token 回环请求在线验证凭证，
// 归类为 valid / invalid_credential / other_error
func (r *SkillRunner) VerifyCredential(ctx context.Context, provider, apiKey string) (ai.KeyVerdict, error) {
	client, err := r.factory.NewClient(provider, &ai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return ai.KeyUnknown, err
	}
	return ai.VerifyKey(ctx, client)
}

// FormatSkillInput 把触发事件、手动输入与采集上下文序列化为
// 确定性的分节消息。相同输入产出完全相同的文本
func FormatSkillInput(input *SkillInput) string {
	var b strings.Builder

	if len(input.TriggerEvent) > 0 {
		b.WriteString("## Trigger Event\n")
		b.WriteString(marshalSection(input.TriggerEvent))
		b.WriteString("\n")
	}

	if input.ManualInput != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## Input\n")
		b.WriteString(input.ManualInput)
		b.WriteString("\n")
	}

	if len(input.Context) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## Context\n")

		kinds := make([]string, 0, len(input.Context))
		for kind := range input.Context {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)

		for _, kind := range kinds {
			b.WriteString("\n### ")
			b.WriteString(kind)
			b.WriteString("\n")
			b.WriteString(marshalSection(input.Context[kind]))
			b.WriteString("\n")
		}
	}

	return b.String()
}

// marshalSection JSON 序列化一个小节。
// encoding/json 对 map 键做排序，保证输出确定
func marshalSection(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
