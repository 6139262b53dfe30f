package connector

import (
	"context"
	"fmt"
)

// Connector 平台连接器基础接口
type Connector interface {
	Platform() string
}

// ThreadQuery 会话线程查询参数
type ThreadQuery struct {
	ChannelID    string
	ThreadTS     string
	MessageCount int
}

// CRMConnector CRM 类平台（联系人/交易读取与备注/任务写入）
type CRMConnector interface {
	Connector
	GetContact(ctx context.Context, id string) (map[string]any, error)
	GetContacts(ctx context.Context, limit int) ([]map[string]any, error)
	GetDeal(ctx context.Context, id string) (map[string]any, error)
	GetDeals(ctx context.Context, limit int) ([]map[string]any, error)
	GetContactDeals(ctx context.Context, contactID string) ([]map[string]any, error)
	GetTasks(ctx context.Context, limit int) ([]map[string]any, error)
	CreateNote(ctx context.Context, contactID, text string) error
	CreateTask(ctx context.Context, contactID, text string) error
}

// ChatConnector 即时消息类平台（线程读取与消息发送）
type ChatConnector interface {
	Connector
	GatherThread(ctx context.Context, q ThreadQuery) ([]map[string]any, error)
	PostMessage(ctx context.Context, channelID, text, threadTS string) error
}

// MailConnector 邮件类平台（邮件读取、发送与草稿）
type MailConnector interface {
	Connector
	GetRecentEmails(ctx context.Context, limit int) ([]map[string]any, error)
	GetThread(ctx context.Context, threadID string) ([]map[string]any, error)
	SendEmail(ctx context.Context, to, subject, body string) error
	CreateDraft(ctx context.Context, to, subject, body string) error
}

// CalendarConnector 日历类平台（近期日程读取）。
// 目前没有平台客户端实现它，注册表解析不到连接时该类目会被省略
type CalendarConnector interface {
	Connector
	GetUpcomingEvents(ctx context.Context, limit int) ([]map[string]any, error)
}

// ConnectorError 连接器调用错误
type ConnectorError struct {
	Platform string
	Op       string
	Message  string
	Err      error
}

func (e *ConnectorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s 失败: %s: %v", e.Platform, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s 失败: %s", e.Platform, e.Op, e.Message)
}

func (e *ConnectorError) Unwrap() error {
	return e.Err
}
