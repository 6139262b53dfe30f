package automation

import (
	"context"
	"fmt"
	"testing"

	"backend/internal/ai"
	"backend/internal/connector"
	"backend/internal/models"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// newTestDB 创建内存数据库并迁移全部模型
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeResolver 按平台名返回预置连接器
type fakeResolver struct {
	conns      map[string]connector.Connector
	resolveErr error
}

func (f *fakeResolver) Resolve(_ context.Context, _, platform string) (connector.Connector, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	if c, ok := f.conns[platform]; ok {
		return c, nil
	}
	return nil, connector.ErrNoConnection
}

func (f *fakeResolver) HasActiveConnection(_ context.Context, _, platform string) (bool, error) {
	if f.resolveErr != nil {
		return false, f.resolveErr
	}
	_, ok := f.conns[platform]
	return ok, nil
}

type postedMessage struct {
	channel  string
	text     string
	threadTS string
}

// fakeChat ChatConnector 假实现
type fakeChat struct {
	thread  []map[string]any
	err     error
	postErr error
	posted  []postedMessage
}

func (f *fakeChat) Platform() string { return "slack" }

func (f *fakeChat) GatherThread(_ context.Context, q connector.ThreadQuery) ([]map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.thread, nil
}

func (f *fakeChat) PostMessage(_ context.Context, channelID, text, threadTS string) error {
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, postedMessage{channel: channelID, text: text, threadTS: threadTS})
	return nil
}

// fakeCRM CRMConnector 假实现
type fakeCRM struct {
	contact      map[string]any
	contacts     []map[string]any
	deal         map[string]any
	deals        []map[string]any
	contactDeals []map[string]any
	tasks        []map[string]any
	err          error
	notes        []string
	createdTasks []string
}

func (f *fakeCRM) Platform() string { return "hubspot" }

func (f *fakeCRM) GetContact(_ context.Context, id string) (map[string]any, error) {
	return f.contact, f.err
}

func (f *fakeCRM) GetContacts(_ context.Context, limit int) ([]map[string]any, error) {
	return f.contacts, f.err
}

func (f *fakeCRM) GetDeal(_ context.Context, id string) (map[string]any, error) {
	return f.deal, f.err
}

func (f *fakeCRM) GetDeals(_ context.Context, limit int) ([]map[string]any, error) {
	return f.deals, f.err
}

func (f *fakeCRM) GetContactDeals(_ context.Context, contactID string) ([]map[string]any, error) {
	return f.contactDeals, f.err
}

func (f *fakeCRM) GetTasks(_ context.Context, limit int) ([]map[string]any, error) {
	return f.tasks, f.err
}

func (f *fakeCRM) CreateNote(_ context.Context, contactID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.notes = append(f.notes, text)
	return nil
}

func (f *fakeCRM) CreateTask(_ context.Context, contactID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.createdTasks = append(f.createdTasks, text)
	return nil
}

type sentEmail struct {
	to      string
	subject string
	body    string
}

// fakeMail MailConnector 假实现
type fakeMail struct {
	emails  []map[string]any
	thread  []map[string]any
	err     error
	sendErr error
	sent    []sentEmail
	drafts  []sentEmail
}

func (f *fakeMail) Platform() string { return "gmail" }

func (f *fakeMail) GetRecentEmails(_ context.Context, limit int) ([]map[string]any, error) {
	return f.emails, f.err
}

func (f *fakeMail) GetThread(_ context.Context, threadID string) ([]map[string]any, error) {
	return f.thread, f.err
}

func (f *fakeMail) SendEmail(_ context.Context, to, subject, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentEmail{to: to, subject: subject, body: body})
	return nil
}

func (f *fakeMail) CreateDraft(_ context.Context, to, subject, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.drafts = append(f.drafts, sentEmail{to: to, subject: subject, body: body})
	return nil
}

// fakeCredentials CredentialResolver 假实现
type fakeCredentials struct {
	provider string
	apiKey   string
	err      error
}

func (f *fakeCredentials) ResolveCredential(_ context.Context, _ string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return f.provider, f.apiKey, nil
}

// fakeClient ai.CompletionClient 假实现
type fakeClient struct {
	resp    *ai.CompletionResponse
	err     error
	lastReq *ai.CompletionRequest
}

func (f *fakeClient) Complete(_ context.Context, req *ai.CompletionRequest) (*ai.CompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeClient) Ping(_ context.Context) error { return f.err }

func (f *fakeClient) Name() string { return "fake" }

// fakeFactory ai.Factory 假实现
type fakeFactory struct {
	client    ai.CompletionClient
	newErr    error
	formatErr error
}

func (f *fakeFactory) NewClient(provider string, _ *ai.ClientConfig) (ai.CompletionClient, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	return f.client, nil
}

func (f *fakeFactory) ValidateKeyFormat(provider, apiKey string) error {
	return f.formatErr
}
