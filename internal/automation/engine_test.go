package automation

import (
	"context"
	"testing"

	"backend/internal/ai"
	"backend/internal/connector"
	"backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type engineFixture struct {
	db     *gorm.DB
	engine *Engine
	chat   *fakeChat
	mail   *fakeMail
	crm    *fakeCRM
	client *fakeClient
	creds  *fakeCredentials
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := newTestDB(t)

	f := &engineFixture{
		db:   db,
		chat: &fakeChat{thread: []map[string]any{{"user": "U1", "text": "有进展吗"}}},
		mail: &fakeMail{},
		crm: &fakeCRM{
			contact:  map[string]any{"id": "42", "email": "a@b.co"},
			contacts: []map[string]any{{"id": "c1", "email": "a@b.co"}},
		},
		client: &fakeClient{resp: &ai.CompletionResponse{
			Texts: []string{"生成的草稿"},
			Usage: ai.Usage{InputTokens: 100, OutputTokens: 50},
		}},
		creds: &fakeCredentials{provider: "anthropic", apiKey: "sk-ant-test"},
	}

	resolver := &fakeResolver{conns: map[string]connector.Connector{
		"slack":   f.chat,
		"gmail":   f.mail,
		"hubspot": f.crm,
	}}
	builder := NewContextBuilder(resolver, 5, zap.NewNop())
	runner := NewSkillRunner(f.creds, &fakeFactory{client: f.client}, zap.NewNop())
	router, err := NewActionRouter(db, resolver, zap.NewNop())
	if err != nil {
		t.Fatalf("new action router: %v", err)
	}
	f.engine = NewEngine(db, builder, runner, router, zap.NewNop())
	return f
}

func (f *engineFixture) seedSkill(t *testing.T, contextSources ...string) *models.Skill {
	t.Helper()
	skill := &models.Skill{
		ID:             uuid.NewString(),
		OrganizationID: "org-1",
		Slug:           "follow-up",
		Name:           "跟进草拟",
		SystemPrompt:   "你是客户沟通助手",
		Config:         models.SkillConfig{ContextSources: contextSources},
		IsActive:       true,
	}
	if err := f.db.Create(skill).Error; err != nil {
		t.Fatalf("seed skill: %v", err)
	}
	return skill
}

func (f *engineFixture) seedRule(t *testing.T, skillID, actionType, destination string, destConfig map[string]any) *models.TriggerRule {
	t.Helper()
	rule := &models.TriggerRule{
		ID:             uuid.NewString(),
		OrganizationID: "org-1",
		Name:           "新联系人跟进",
		TriggerType:    models.TriggerTypeEvent,
		TriggerSource:  "hubspot.new_contact",
		SkillID:        skillID,
		ActionType:     actionType,
		Destination:    destination,
		DestinationConfig: func() map[string]any {
			if destConfig == nil {
				return map[string]any{}
			}
			return destConfig
		}(),
		IsActive: true,
	}
	if err := f.db.Create(rule).Error; err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return rule
}

func (f *engineFixture) loadExecution(t *testing.T, id string) *models.Execution {
	t.Helper()
	var exec models.Execution
	if err := f.db.First(&exec, "id = ?", id).Error; err != nil {
		t.Fatalf("load execution: %v", err)
	}
	return &exec
}

func TestProcessTriggerAutoSlackPost(t *testing.T) {
	f := newEngineFixture(t)
	skill := f.seedSkill(t, "crm_contact", "slack_thread")
	rule := f.seedRule(t, skill.ID, models.ActionTypeAuto, "slack.post",
		map[string]any{"channel_id": "C1"})

	event := map[string]any{
		"platform":   "hubspot",
		"event_type": "new_contact",
		"payload":    map[string]any{"objectId": float64(42), "channel": "C1"},
	}
	result := f.engine.ProcessTrigger(context.Background(), rule, event, "org-1")

	require.Equal(t, ExecutionCompleted, result.Status)
	require.Equal(t, "生成的草稿", result.Output)
	require.Len(t, f.chat.posted, 1)

	exec := f.loadExecution(t, result.ExecutionID)
	require.Equal(t, string(ExecutionCompleted), exec.Status)
	require.Equal(t, "posted_to_slack", exec.ActionTaken)
	require.Equal(t, "生成的草稿", exec.SkillOutput)
	require.Equal(t, 150, exec.TokensUsed)
	require.NotEmpty(t, exec.SkillInput)
	require.NotNil(t, exec.CompletedAt)
	require.NotEmpty(t, exec.ContextGathered)
}

func TestProcessTriggerApprovalQueues(t *testing.T) {
	f := newEngineFixture(t)
	skill := f.seedSkill(t)
	rule := f.seedRule(t, skill.ID, models.ActionTypeApproval, "gmail.send",
		map[string]any{"to": "ceo@agency.com"})

	result := f.engine.ProcessTrigger(context.Background(), rule,
		map[string]any{"platform": "hubspot", "event_type": "new_contact"}, "org-1")

	require.Equal(t, ExecutionAwaitingApproval, result.Status)
	require.Empty(t, f.mail.sent)

	exec := f.loadExecution(t, result.ExecutionID)
	require.Equal(t, string(ExecutionAwaitingApproval), exec.Status)
	require.Equal(t, "queued_for_approval", exec.ActionTaken)
	require.Nil(t, exec.CompletedAt)

	var item models.ApprovalQueueItem
	require.NoError(t, f.db.First(&item, "execution_id = ?", exec.ID).Error)
	require.Equal(t, string(ApprovalPending), item.Status)
	require.Equal(t, "生成的草稿", item.DraftContent)
	require.Equal(t, "gmail.send", item.Destination)
}

func TestProcessTriggerMissingCredentialFails(t *testing.T) {
	f := newEngineFixture(t)
	f.creds.err = models.ErrCredentialNotFound
	skill := f.seedSkill(t)
	rule := f.seedRule(t, skill.ID, models.ActionTypeAuto, "slack.post",
		map[string]any{"channel_id": "C1"})

	result := f.engine.ProcessTrigger(context.Background(), rule, map[string]any{}, "org-1")

	require.Equal(t, ExecutionFailed, result.Status)
	require.Contains(t, result.Error, "凭证未配置")

	exec := f.loadExecution(t, result.ExecutionID)
	require.Equal(t, string(ExecutionFailed), exec.Status)
	require.Contains(t, exec.Error, "凭证未配置")
	require.NotNil(t, exec.CompletedAt)
	require.Empty(t, f.chat.posted)
}

func TestProcessTriggerDispatchFailureKeepsOutput(t *testing.T) {
	f := newEngineFixture(t)
	f.chat.postErr = &connector.ConnectorError{Platform: "slack", Op: "chat.postMessage", Message: "channel_not_found"}
	skill := f.seedSkill(t)
	rule := f.seedRule(t, skill.ID, models.ActionTypeAuto, "slack.post",
		map[string]any{"channel_id": "C404"})

	result := f.engine.ProcessTrigger(context.Background(), rule, map[string]any{}, "org-1")

	require.Equal(t, ExecutionFailed, result.Status)
	require.Contains(t, result.Error, "channel_not_found")

	// 已生成的产出保留在执行行上
	exec := f.loadExecution(t, result.ExecutionID)
	require.Equal(t, string(ExecutionFailed), exec.Status)
	require.Equal(t, "post_failed", exec.ActionTaken)
	require.Equal(t, "生成的草稿", exec.SkillOutput)
	require.Equal(t, 150, exec.TokensUsed)
}

func TestProcessTriggerSkillNotFound(t *testing.T) {
	f := newEngineFixture(t)
	rule := f.seedRule(t, uuid.NewString(), models.ActionTypeAuto, "", nil)

	result := f.engine.ProcessTrigger(context.Background(), rule, map[string]any{}, "org-1")

	require.Equal(t, ExecutionFailed, result.Status)
	require.Contains(t, result.Error, "技能不存在")

	exec := f.loadExecution(t, result.ExecutionID)
	require.Equal(t, string(ExecutionFailed), exec.Status)
}

func TestProcessTriggerSkillScopedByOrganization(t *testing.T) {
	f := newEngineFixture(t)
	skill := f.seedSkill(t)
	rule := f.seedRule(t, skill.ID, models.ActionTypeAuto, "", nil)

	// 技能属于 org-1，org-2 的触发不能用它
	result := f.engine.ProcessTrigger(context.Background(), rule, map[string]any{}, "org-2")

	require.Equal(t, ExecutionFailed, result.Status)
	require.Contains(t, result.Error, "技能不存在")
}

func TestProcessTriggerNeverLeavesRunning(t *testing.T) {
	f := newEngineFixture(t)
	f.client.err = &ai.ClientError{Type: ai.ErrorTypeServerError, Message: "provider 500"}
	skill := f.seedSkill(t)
	rule := f.seedRule(t, skill.ID, models.ActionTypeAuto, "slack.post",
		map[string]any{"channel_id": "C1"})

	f.engine.ProcessTrigger(context.Background(), rule, map[string]any{}, "org-1")

	var count int64
	require.NoError(t, f.db.Model(&models.Execution{}).
		Where("status = ?", string(ExecutionRunning)).
		Count(&count).Error)
	require.Zero(t, count)
}

func TestProcessManualSkillRun(t *testing.T) {
	f := newEngineFixture(t)
	skill := f.seedSkill(t, "crm_contact")

	result := f.engine.ProcessManualSkillRun(context.Background(), skill.ID, "org-1", "给李雷写跟进")

	require.Equal(t, ExecutionCompleted, result.Status)
	require.Equal(t, "生成的草稿", result.Output)

	exec := f.loadExecution(t, result.ExecutionID)
	require.Equal(t, "displayed", exec.ActionTaken)
	require.Nil(t, exec.RuleID)
	require.Equal(t, "manual", exec.TriggerEvent["type"])
	require.Contains(t, exec.SkillInput, "给李雷写跟进")

	// 手动执行不路由，不产生审批项也不分发
	var items int64
	require.NoError(t, f.db.Model(&models.ApprovalQueueItem{}).Count(&items).Error)
	require.Zero(t, items)
	require.Empty(t, f.chat.posted)
	require.Empty(t, f.mail.sent)
}

func TestRetryExecutionCreatesNewRow(t *testing.T) {
	f := newEngineFixture(t)
	f.creds.err = models.ErrCredentialNotFound
	skill := f.seedSkill(t)
	rule := f.seedRule(t, skill.ID, models.ActionTypeAuto, "", nil)

	event := map[string]any{"platform": "hubspot", "event_type": "new_contact"}
	failed := f.engine.ProcessTrigger(context.Background(), rule, event, "org-1")
	require.Equal(t, ExecutionFailed, failed.Status)

	// 凭证修复后重试走完整管道
	f.creds.err = nil
	retried := f.engine.RetryExecution(context.Background(), failed.ExecutionID)

	require.Equal(t, ExecutionCompleted, retried.Status)
	require.NotEqual(t, failed.ExecutionID, retried.ExecutionID)

	// 原执行行保持 failed，不被重试改写
	original := f.loadExecution(t, failed.ExecutionID)
	require.Equal(t, string(ExecutionFailed), original.Status)

	fresh := f.loadExecution(t, retried.ExecutionID)
	require.Equal(t, "hubspot", fresh.TriggerEvent["platform"])
}

func TestRetryExecutionManualRun(t *testing.T) {
	f := newEngineFixture(t)
	skill := f.seedSkill(t)

	first := f.engine.ProcessManualSkillRun(context.Background(), skill.ID, "org-1", "输入内容")
	require.Equal(t, ExecutionCompleted, first.Status)

	retried := f.engine.RetryExecution(context.Background(), first.ExecutionID)
	require.Equal(t, ExecutionCompleted, retried.Status)

	exec := f.loadExecution(t, retried.ExecutionID)
	require.Nil(t, exec.RuleID)
	require.Contains(t, exec.SkillInput, "输入内容")
}

func TestRetryExecutionUnknownID(t *testing.T) {
	f := newEngineFixture(t)

	result := f.engine.RetryExecution(context.Background(), uuid.NewString())
	require.Equal(t, ExecutionFailed, result.Status)
	require.Contains(t, result.Error, "执行记录不存在")
}
