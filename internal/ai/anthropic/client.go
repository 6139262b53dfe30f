package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"backend/internal/ai"
)

// KeyPrefix Anthropic API Key 的约定前缀，用于入库前的语法校验
const KeyPrefix = "sk-ant-"

// DefaultModel 技能未指定模型时的默认值
const DefaultModel = "claude-3-5-sonnet-20241022"

// Client Anthropic Claude 客户端适配器
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

// NewClient 创建 Anthropic 客户端
func NewClient(config *ai.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &ai.ClientError{
			Type:    ai.ErrorTypeAuth,
			Message: "Anthropic API Key 不能为空",
		}
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	timeout := config.TimeoutSeconds
	if timeout == 0 {
		timeout = 60
	}

	return &Client{
		apiKey:  config.APIKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
		maxRetries: maxRetries,
	}, nil
}

// ValidateKeyFormat 校验 Key 是否符合 Anthropic 的前缀约定
func ValidateKeyFormat(apiKey string) error {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return &ai.ClientError{Type: ai.ErrorTypeAuth, Message: "API Key 不能为空"}
	}
	if !strings.HasPrefix(key, KeyPrefix) {
		return &ai.ClientError{
			Type:    ai.ErrorTypeAuth,
			Message: fmt.Sprintf("API Key 格式无效，应以 %s 开头", KeyPrefix),
		}
	}
	return nil
}

// anthropicRequest Anthropic API 请求
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

// anthropicMessage Anthropic 消息
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse Anthropic API 响应
type anthropicResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
}

// anthropicContent Anthropic 内容片段
type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// anthropicUsage Anthropic Token 使用
type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Complete 执行一次补全（带可重试错误的指数退避）
func (c *Client) Complete(ctx context.Context, req *ai.CompletionRequest) (*ai.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	anthropicReq := anthropicRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      req.SystemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.UserMessage},
		},
	}

	var resp *anthropicResponse
	var err error
	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.doRequest(ctx, anthropicReq)
		if err == nil {
			break
		}

		if clientErr, ok := err.(*ai.ClientError); ok && !clientErr.IsRetryable() {
			break
		}

		// 指数退避
		if i < c.maxRetries {
			backoff := time.Duration(1<<uint(i)) * time.Second
			select {
			case <-ctx.Done():
				return nil, &ai.ClientError{Type: ai.ErrorTypeNetwork, Message: "请求被取消", Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
	}

	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(resp.Content))
	for _, segment := range resp.Content {
		if segment.Type == "text" {
			texts = append(texts, segment.Text)
		}
	}

	return &ai.CompletionResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Texts: texts,
		Usage: ai.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

// Ping 用最小 Token 的回环请求验证凭证
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, anthropicRequest{
		Model:     DefaultModel,
		MaxTokens: 1,
		Messages: []anthropicMessage{
			{Role: "user", Content: "ping"},
		},
	})
	return err
}

// Name 返回客户端名称
func (c *Client) Name() string {
	return "anthropic"
}

// doRequest 执行 HTTP 请求
func (c *Client) doRequest(ctx context.Context, req anthropicRequest) (*anthropicResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ai.ClientError{
			Type:    ai.ErrorTypeInvalidParams,
			Message: "序列化请求失败",
			Err:     err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &ai.ClientError{
			Type:    ai.ErrorTypeNetwork,
			Message: "创建请求失败",
			Err:     err,
		}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ai.ClientError{
			Type:    ai.ErrorTypeNetwork,
			Message: "请求失败",
			Err:     err,
		}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ai.ClientError{
			Type:    ai.ErrorTypeNetwork,
			Message: "读取响应失败",
			Err:     err,
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.parseError(httpResp.StatusCode, respBody)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &ai.ClientError{
			Type:    ai.ErrorTypeServerError,
			Message: "解析响应失败",
			Err:     err,
		}
	}

	return &resp, nil
}

// parseError 解析错误
func (c *Client) parseError(statusCode int, body []byte) *ai.ClientError {
	var errType ai.ErrorType
	message := string(body)

	switch statusCode {
	case 401, 403:
		errType = ai.ErrorTypeAuth
	case 429:
		errType = ai.ErrorTypeRateLimit
	case 400:
		errType = ai.ErrorTypeInvalidParams
	case 500, 502, 503, 504:
		errType = ai.ErrorTypeServerError
	default:
		errType = ai.ErrorTypeUnknown
	}

	return &ai.ClientError{
		Type:    errType,
		Message: fmt.Sprintf("Anthropic API 错误 (HTTP %d): %s", statusCode, message),
	}
}
