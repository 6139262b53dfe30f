package ai

import (
	"context"
	"fmt"
)

// CompletionRequest 单次补全请求
type CompletionRequest struct {
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt"`
	UserMessage  string  `json:"user_message"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
}

// CompletionResponse 补全响应
type CompletionResponse struct {
	ID    string   `json:"id"`
	Model string   `json:"model"`
	Texts []string `json:"texts"` // 服务商返回的文本片段，调用方自行拼接
	Usage Usage    `json:"usage"`
}

// Usage Token 使用情况
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Text 拼接全部文本片段
func (r *CompletionResponse) Text() string {
	var out string
	for _, t := range r.Texts {
		out += t
	}
	return out
}

// TotalTokens 输入输出 Token 之和
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// CompletionClient 补全服务商统一接口
type CompletionClient interface {
	// Complete 执行一次补全
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Ping 以最小代价验证凭证有效性
	Ping(ctx context.Context) error

	// Name 服务商名称
	Name() string
}

// ErrorType 客户端错误类型
type ErrorType string

const (
	ErrorTypeAuth          ErrorType = "auth"           // 认证失败
	ErrorTypeRateLimit     ErrorType = "rate_limit"     // 限流
	ErrorTypeInvalidParams ErrorType = "invalid_params" // 参数错误
	ErrorTypeServerError   ErrorType = "server_error"   // 服务端错误
	ErrorTypeNetwork       ErrorType = "network"        // 网络错误
	ErrorTypeUnknown       ErrorType = "unknown"        // 未知错误
)

// ClientError 补全客户端错误
type ClientError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *ClientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// IsRetryable 是否可重试（限流、服务端、网络错误可重试；认证与参数错误不可）
func (e *ClientError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// ClientConfig 客户端构造配置
type ClientConfig struct {
	APIKey         string
	BaseURL        string
	OrgID          string
	MaxRetries     int
	TimeoutSeconds int
}
