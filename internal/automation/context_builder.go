package automation

import (
	"context"
	"errors"
	"fmt"

	"backend/internal/connector"

	"go.uber.org/zap"
)

// ConnectorResolver 按 (组织, 平台) 解析连接器。
// 窄接口便于测试注入假实现，生产实现是 connector.Registry
type ConnectorResolver interface {
	Resolve(ctx context.Context, organizationID, platform string) (connector.Connector, error)
	HasActiveConnection(ctx context.Context, organizationID, platform string) (bool, error)
}

// contextResult 单个类目的采集结果，Ok 与 Err 二选一
type contextResult struct {
	kind string
	data any
	err  error
}

// gatherFunc 单个类目的采集实现
type gatherFunc func(ctx context.Context, conn connector.Connector, event map[string]any, recentLimit int) (any, error)

// contextGatherer 类目到平台与采集实现的绑定
type contextGatherer struct {
	platform string
	fetch    gatherFunc
}

// eventWrapperKeys 触发事件里常见的嵌套外层键，按优先级
var eventWrapperKeys = []string{"payload", "event", "data", "properties"}

// ContextBuilder 上下文采集器。只读，不改写任何外部状态
type ContextBuilder struct {
	resolver    ConnectorResolver
	gatherers   map[string]contextGatherer
	recentLimit int
	logger      *zap.Logger
}

// NewContextBuilder 构建上下文采集器。
// recentLimit 是事件里找不到实体 ID 时的兜底取数条数
func NewContextBuilder(resolver ConnectorResolver, recentLimit int, logger *zap.Logger) *ContextBuilder {
	b := &ContextBuilder{
		resolver:    resolver,
		recentLimit: recentLimit,
		logger:      logger,
	}
	b.gatherers = map[string]contextGatherer{
		"crm_contact":    {platform: "hubspot", fetch: gatherCRMContact},
		"crm_deal":       {platform: "hubspot", fetch: gatherCRMDeal},
		"crm_activities": {platform: "hubspot", fetch: gatherCRMActivities},
		"email_thread":   {platform: "gmail", fetch: gatherEmailThread},
		"slack_thread":   {platform: "slack", fetch: gatherSlackThread},
		"pm_tasks":       {platform: "hubspot", fetch: gatherPMTasks},
		"calendar_event": {platform: "google_calendar", fetch: gatherCalendarEvents},
	}
	return b
}

// GatherContext 按技能声明的类目采集补充上下文。
// 尽力而为：单个类目失败记录到 <kind>_error 键，不中断其余类目；
// 平台连接不存在时静默省略该类目；未知类目记日志后跳过
func (b *ContextBuilder) GatherContext(ctx context.Context, organizationID string, kinds []string, triggerEvent map[string]any) map[string]any {
	gathered := make(map[string]any)

	for _, kind := range kinds {
		g, ok := b.gatherers[kind]
		if !ok {
			b.logger.Warn("未知上下文类目，跳过",
				zap.String("kind", kind),
				zap.String("organization_id", organizationID))
			continue
		}

		result := b.gatherOne(ctx, organizationID, kind, g, triggerEvent)
		if result == nil {
			continue
		}
		if result.err != nil {
			gathered[kind+"_error"] = result.err.Error()
			b.logger.Warn("上下文采集失败",
				zap.String("kind", kind),
				zap.String("organization_id", organizationID),
				zap.Error(result.err))
			continue
		}
		gathered[kind] = result.data
	}

	return gathered
}

// gatherOne 采集单个类目。连接不存在返回 nil 表示省略
func (b *ContextBuilder) gatherOne(ctx context.Context, organizationID, kind string, g contextGatherer, event map[string]any) *contextResult {
	conn, err := b.resolver.Resolve(ctx, organizationID, g.platform)
	if err != nil {
		if errors.Is(err, connector.ErrNoConnection) {
			return nil
		}
		return &contextResult{kind: kind, err: err}
	}

	data, err := g.fetch(ctx, conn, event, b.recentLimit)
	if err != nil {
		return &contextResult{kind: kind, err: err}
	}
	return &contextResult{kind: kind, data: data}
}

// extractEventValue 从触发事件里按候选键名取值。
// 先查顶层，再查常见外层键下的嵌套，全部找不到返回空串
func extractEventValue(event map[string]any, keys ...string) string {
	if event == nil {
		return ""
	}
	for _, key := range keys {
		if v := stringValue(event[key]); v != "" {
			return v
		}
	}
	for _, wrapper := range eventWrapperKeys {
		nested, ok := event[wrapper].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			if v := stringValue(nested[key]); v != "" {
				return v
			}
		}
	}
	return ""
}

// stringValue 事件字段既可能是字符串也可能是数字 ID
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%.0f", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case nil:
		return ""
	default:
		return ""
	}
}

func gatherCRMContact(ctx context.Context, conn connector.Connector, event map[string]any, recentLimit int) (any, error) {
	crm, ok := conn.(connector.CRMConnector)
	if !ok {
		return nil, fmt.Errorf("平台 %s 不支持 CRM 读取", conn.Platform())
	}
	if id := extractEventValue(event, "contact_id", "contactId", "object_id", "objectId", "vid"); id != "" {
		return crm.GetContact(ctx, id)
	}
	return crm.GetContacts(ctx, recentLimit)
}

func gatherCRMDeal(ctx context.Context, conn connector.Connector, event map[string]any, recentLimit int) (any, error) {
	crm, ok := conn.(connector.CRMConnector)
	if !ok {
		return nil, fmt.Errorf("平台 %s 不支持 CRM 读取", conn.Platform())
	}
	if id := extractEventValue(event, "deal_id", "dealId", "object_id", "objectId"); id != "" {
		return crm.GetDeal(ctx, id)
	}
	return crm.GetDeals(ctx, recentLimit)
}

// gatherCRMActivities 有联系人 ID 时取其关联交易动态，否则退化为最近交易
func gatherCRMActivities(ctx context.Context, conn connector.Connector, event map[string]any, recentLimit int) (any, error) {
	crm, ok := conn.(connector.CRMConnector)
	if !ok {
		return nil, fmt.Errorf("平台 %s 不支持 CRM 读取", conn.Platform())
	}
	if id := extractEventValue(event, "contact_id", "contactId", "object_id", "objectId", "vid"); id != "" {
		return crm.GetContactDeals(ctx, id)
	}
	return crm.GetDeals(ctx, recentLimit)
}

func gatherPMTasks(ctx context.Context, conn connector.Connector, event map[string]any, recentLimit int) (any, error) {
	crm, ok := conn.(connector.CRMConnector)
	if !ok {
		return nil, fmt.Errorf("平台 %s 不支持任务读取", conn.Platform())
	}
	return crm.GetTasks(ctx, recentLimit)
}

func gatherCalendarEvents(ctx context.Context, conn connector.Connector, event map[string]any, recentLimit int) (any, error) {
	cal, ok := conn.(connector.CalendarConnector)
	if !ok {
		return nil, fmt.Errorf("平台 %s 不支持日历读取", conn.Platform())
	}
	return cal.GetUpcomingEvents(ctx, recentLimit)
}

func gatherEmailThread(ctx context.Context, conn connector.Connector, event map[string]any, recentLimit int) (any, error) {
	mail, ok := conn.(connector.MailConnector)
	if !ok {
		return nil, fmt.Errorf("平台 %s 不支持邮件读取", conn.Platform())
	}
	if id := extractEventValue(event, "thread_id", "threadId"); id != "" {
		return mail.GetThread(ctx, id)
	}
	return mail.GetRecentEmails(ctx, recentLimit)
}

func gatherSlackThread(ctx context.Context, conn connector.Connector, event map[string]any, recentLimit int) (any, error) {
	chat, ok := conn.(connector.ChatConnector)
	if !ok {
		return nil, fmt.Errorf("平台 %s 不支持会话读取", conn.Platform())
	}
	channelID := extractEventValue(event, "channel_id", "channelId", "channel")
	if channelID == "" {
		return nil, errors.New("事件中缺少频道 ID，无法读取会话")
	}
	return chat.GatherThread(ctx, connector.ThreadQuery{
		ChannelID:    channelID,
		ThreadTS:     extractEventValue(event, "thread_ts", "threadTs", "ts"),
		MessageCount: connector.DefaultThreadMessageCount,
	})
}
