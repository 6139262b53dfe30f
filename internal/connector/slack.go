package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"backend/internal/models"

	"golang.org/x/oauth2"
)

const (
	// SlackAPIBase Slack Web API 地址
	SlackAPIBase = "https://slack.com/api"

	// DefaultThreadMessageCount 线程采集默认消息条数
	DefaultThreadMessageCount = 20
)

// SlackConnector Slack 连接器，实现 ChatConnector
type SlackConnector struct {
	httpClient *http.Client
	baseURL    string
}

// NewSlackConnector 由连接记录与解密后的 Token 构建 Slack 客户端
func NewSlackConnector(conn *models.Connection, token *oauth2.Token, timeout time.Duration) (Connector, error) {
	if token.AccessToken == "" {
		return nil, &ConnectorError{Platform: "slack", Op: "init", Message: "访问令牌为空"}
	}
	return &SlackConnector{
		httpClient: oauthHTTPClient(token, timeout),
		baseURL:    SlackAPIBase,
	}, nil
}

func (c *SlackConnector) Platform() string {
	return "slack"
}

// slackEnvelope Slack API 统一响应外层。
// ok=false 时 error 字段携带机读错误码
type slackEnvelope struct {
	OK       bool             `json:"ok"`
	Error    string           `json:"error"`
	Messages []map[string]any `json:"messages"`
}

// GatherThread 读取线程消息。
// q.ThreadTS 为空时退化为读取频道最近消息
func (c *SlackConnector) GatherThread(ctx context.Context, q ThreadQuery) ([]map[string]any, error) {
	if q.ChannelID == "" {
		return nil, &ConnectorError{Platform: "slack", Op: "gather_thread", Message: "频道 ID 为空"}
	}
	count := q.MessageCount
	if count <= 0 {
		count = DefaultThreadMessageCount
	}

	params := url.Values{}
	params.Set("channel", q.ChannelID)
	params.Set("limit", fmt.Sprintf("%d", count))

	method := "conversations.history"
	if q.ThreadTS != "" {
		method = "conversations.replies"
		params.Set("ts", q.ThreadTS)
	}

	var env slackEnvelope
	if err := c.get(ctx, method, params, &env); err != nil {
		return nil, err
	}
	if !env.OK {
		return nil, &ConnectorError{Platform: "slack", Op: "gather_thread", Message: env.Error}
	}
	return env.Messages, nil
}

// PostMessage 发送消息。threadTS 非空时作为线程回复发送
func (c *SlackConnector) PostMessage(ctx context.Context, channelID, text, threadTS string) error {
	if channelID == "" {
		return &ConnectorError{Platform: "slack", Op: "post_message", Message: "频道 ID 为空"}
	}

	payload := map[string]any{
		"channel": channelID,
		"text":    text,
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}

	var env slackEnvelope
	if err := c.post(ctx, "chat.postMessage", payload, &env); err != nil {
		return err
	}
	if !env.OK {
		return &ConnectorError{Platform: "slack", Op: "post_message", Message: env.Error}
	}
	return nil
}

func (c *SlackConnector) get(ctx context.Context, method string, params url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, method, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &ConnectorError{Platform: "slack", Op: method, Message: "构建请求失败", Err: err}
	}
	return c.do(req, method, out)
}

func (c *SlackConnector) post(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &ConnectorError{Platform: "slack", Op: method, Message: "序列化请求失败", Err: err}
	}
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &ConnectorError{Platform: "slack", Op: method, Message: "构建请求失败", Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return c.do(req, method, out)
}

func (c *SlackConnector) do(req *http.Request, method string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectorError{Platform: "slack", Op: method, Message: "请求发送失败", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectorError{Platform: "slack", Op: method, Message: "读取响应失败", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &ConnectorError{Platform: "slack", Op: method, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ConnectorError{Platform: "slack", Op: method, Message: "解析响应失败", Err: err}
	}
	return nil
}
