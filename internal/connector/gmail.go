package connector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"backend/internal/models"

	"golang.org/x/oauth2"
)

// GmailAPIBase Gmail API 地址（固定当前授权用户）
const GmailAPIBase = "https://gmail.googleapis.com/gmail/v1/users/me"

// GmailConnector Gmail 连接器，实现 MailConnector
type GmailConnector struct {
	httpClient *http.Client
	baseURL    string
}

// NewGmailConnector 由连接记录与解密后的 Token 构建 Gmail 客户端
func NewGmailConnector(conn *models.Connection, token *oauth2.Token, timeout time.Duration) (Connector, error) {
	if token.AccessToken == "" {
		return nil, &ConnectorError{Platform: "gmail", Op: "init", Message: "访问令牌为空"}
	}
	return &GmailConnector{
		httpClient: oauthHTTPClient(token, timeout),
		baseURL:    GmailAPIBase,
	}, nil
}

func (c *GmailConnector) Platform() string {
	return "gmail"
}

// gmailMessageRef 消息列表项（仅 ID）
type gmailMessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// gmailListResponse 消息列表响应
type gmailListResponse struct {
	Messages []gmailMessageRef `json:"messages"`
}

// gmailMessage 消息详情（metadata 格式）
type gmailMessage struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
	Snippet  string `json:"snippet"`
	Payload  struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
	InternalDate string `json:"internalDate"`
}

// gmailThread 线程详情响应
type gmailThread struct {
	ID       string         `json:"id"`
	Messages []gmailMessage `json:"messages"`
}

func (m gmailMessage) flatten() map[string]any {
	out := map[string]any{
		"id":        m.ID,
		"thread_id": m.ThreadID,
		"snippet":   m.Snippet,
	}
	for _, h := range m.Payload.Headers {
		switch h.Name {
		case "From":
			out["from"] = h.Value
		case "To":
			out["to"] = h.Value
		case "Subject":
			out["subject"] = h.Value
		case "Date":
			out["date"] = h.Value
		}
	}
	return out
}

// GetRecentEmails 读取收件箱最近邮件。
// 列表接口只返回 ID，逐条补取头信息，单条失败跳过
func (c *GmailConnector) GetRecentEmails(ctx context.Context, limit int) ([]map[string]any, error) {
	path := fmt.Sprintf("/messages?maxResults=%d&labelIds=INBOX", limit)
	var list gmailListResponse
	if err := c.get(ctx, "get_recent_emails", path, &list); err != nil {
		return nil, err
	}

	emails := make([]map[string]any, 0, len(list.Messages))
	for _, ref := range list.Messages {
		msg, err := c.getMessage(ctx, ref.ID)
		if err != nil {
			continue
		}
		emails = append(emails, msg.flatten())
	}
	return emails, nil
}

// GetThread 读取完整邮件线程
func (c *GmailConnector) GetThread(ctx context.Context, threadID string) ([]map[string]any, error) {
	if threadID == "" {
		return nil, &ConnectorError{Platform: "gmail", Op: "get_thread", Message: "线程 ID 为空"}
	}
	path := fmt.Sprintf("/threads/%s?format=metadata&metadataHeaders=From&metadataHeaders=To&metadataHeaders=Subject&metadataHeaders=Date", threadID)
	var thread gmailThread
	if err := c.get(ctx, "get_thread", path, &thread); err != nil {
		return nil, err
	}

	messages := make([]map[string]any, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		messages = append(messages, m.flatten())
	}
	return messages, nil
}

// SendEmail 直接发送邮件
func (c *GmailConnector) SendEmail(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return &ConnectorError{Platform: "gmail", Op: "send_email", Message: "收件人为空"}
	}
	payload := map[string]any{"raw": encodeRFC822(to, subject, body)}
	return c.post(ctx, "send_email", "/messages/send", payload, nil)
}

// CreateDraft 创建草稿，不发送
func (c *GmailConnector) CreateDraft(ctx context.Context, to, subject, body string) error {
	payload := map[string]any{
		"message": map[string]any{"raw": encodeRFC822(to, subject, body)},
	}
	return c.post(ctx, "create_draft", "/drafts", payload, nil)
}

// encodeRFC822 构造 RFC 822 邮件并按 Gmail 要求做 base64url 编码
func encodeRFC822(to, subject, body string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return base64.URLEncoding.EncodeToString(buf.Bytes())
}

func (c *GmailConnector) getMessage(ctx context.Context, id string) (*gmailMessage, error) {
	path := fmt.Sprintf("/messages/%s?format=metadata&metadataHeaders=From&metadataHeaders=To&metadataHeaders=Subject&metadataHeaders=Date", id)
	var msg gmailMessage
	if err := c.get(ctx, "get_message", path, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *GmailConnector) get(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &ConnectorError{Platform: "gmail", Op: op, Message: "构建请求失败", Err: err}
	}
	return c.do(req, op, out)
}

func (c *GmailConnector) post(ctx context.Context, op, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &ConnectorError{Platform: "gmail", Op: op, Message: "序列化请求失败", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &ConnectorError{Platform: "gmail", Op: op, Message: "构建请求失败", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}

func (c *GmailConnector) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectorError{Platform: "gmail", Op: op, Message: "请求发送失败", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectorError{Platform: "gmail", Op: op, Message: "读取响应失败", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ConnectorError{Platform: "gmail", Op: op, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(data))}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &ConnectorError{Platform: "gmail", Op: op, Message: "解析响应失败", Err: err}
		}
	}
	return nil
}
