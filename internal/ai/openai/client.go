package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"backend/internal/ai"

	openai "github.com/sashabaranov/go-openai"
)

// KeyPrefix OpenAI API Key 的约定前缀
const KeyPrefix = "sk-"

// DefaultModel 技能未指定模型时的默认值
const DefaultModel = "gpt-4o-mini"

// Client OpenAI 客户端适配器
type Client struct {
	client *openai.Client
}

// NewClient 创建 OpenAI 客户端
func NewClient(config *ai.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &ai.ClientError{
			Type:    ai.ErrorTypeAuth,
			Message: "OpenAI API Key 不能为空",
		}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}
	if config.TimeoutSeconds > 0 {
		clientConfig.HTTPClient = &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		}
	}

	return &Client{client: openai.NewClientWithConfig(clientConfig)}, nil
}

// ValidateKeyFormat 校验 Key 是否符合 OpenAI 的前缀约定
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

// Complete 执行一次补全
func (c *Client) Complete(ctx context.Context, req *ai.CompletionRequest) (*ai.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	messages := []openai.ChatCompletionMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserMessage,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, convertError(err)
	}

	texts := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		texts = append(texts, choice.Message.Content)
	}

	return &ai.CompletionResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Texts: texts,
		Usage: ai.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Ping 用最小 Token 的回环请求验证凭证
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     DefaultModel,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	if err != nil {
		return convertError(err)
	}
	return nil
}

// Name 返回客户端名称
func (c *Client) Name() string {
	return "openai"
}

// convertError 将 go-openai 错误归一为 ClientError
func convertError(err error) *ai.ClientError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		var errType ai.ErrorType
		switch apiErr.HTTPStatusCode {
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
			Message: fmt.Sprintf("OpenAI API 错误 (HTTP %d): %s", apiErr.HTTPStatusCode, apiErr.Message),
			Err:     err,
		}
	}
	return &ai.ClientError{
		Type:    ai.ErrorTypeNetwork,
		Message: "OpenAI 请求失败",
		Err:     err,
	}
}
