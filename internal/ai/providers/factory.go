package providers

import (
	"backend/internal/ai"
	"backend/internal/ai/anthropic"
	"backend/internal/ai/openai"
	"backend/internal/config"
)

// factory 默认补全客户端工厂，按服务商名称分发
type factory struct {
	cfg config.AIConfig
	// 补全调用超时兜底（秒），来自 automation.provider_timeout_seconds
	defaultTimeoutSeconds int
}

// NewFactory 创建默认工厂。
// defaultTimeoutSeconds 在服务商配置未给出超时时生效
func NewFactory(cfg config.AIConfig, defaultTimeoutSeconds int) ai.Factory {
	return &factory{cfg: cfg, defaultTimeoutSeconds: defaultTimeoutSeconds}
}

// fillDefaults 把服务商级配置与全局超时兜底补进客户端配置
func (f *factory) fillDefaults(provider string, clientCfg *ai.ClientConfig) {
	switch provider {
	case "anthropic":
		if clientCfg.BaseURL == "" {
			clientCfg.BaseURL = f.cfg.Anthropic.BaseURL
		}
		if clientCfg.MaxRetries == 0 {
			clientCfg.MaxRetries = f.cfg.Anthropic.MaxRetries
		}
		if clientCfg.TimeoutSeconds == 0 {
			clientCfg.TimeoutSeconds = f.cfg.Anthropic.TimeoutSeconds
		}
	case "openai":
		if clientCfg.BaseURL == "" {
			clientCfg.BaseURL = f.cfg.OpenAI.BaseURL
		}
		if clientCfg.OrgID == "" {
			clientCfg.OrgID = f.cfg.OpenAI.OrgID
		}
		if clientCfg.MaxRetries == 0 {
			clientCfg.MaxRetries = f.cfg.OpenAI.MaxRetries
		}
	}
	if clientCfg.TimeoutSeconds == 0 {
		clientCfg.TimeoutSeconds = f.defaultTimeoutSeconds
	}
}

// NewClient 根据服务商名称构建客户端
func (f *factory) NewClient(provider string, clientCfg *ai.ClientConfig) (ai.CompletionClient, error) {
	f.fillDefaults(provider, clientCfg)
	switch provider {
	case "anthropic":
		return anthropic.NewClient(clientCfg)
	case "openai":
		return openai.NewClient(clientCfg)
	default:
		return nil, ai.ErrUnsupportedProvider(provider)
	}
}

// ValidateKeyFormat 按服务商前缀约定做语法校验
func (f *factory) ValidateKeyFormat(provider, apiKey string) error {
	switch provider {
	case "anthropic":
		return anthropic.ValidateKeyFormat(apiKey)
	case "openai":
		return openai.ValidateKeyFormat(apiKey)
	default:
		return ai.ErrUnsupportedProvider(provider)
	}
}
