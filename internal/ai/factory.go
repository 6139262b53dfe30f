package ai

import (
	"context"
	"fmt"
)

// Factory 根据服务商名称与凭证构建补全客户端。
// 组件以注入方式持有 Factory，便于测试替换
type Factory interface {
	NewClient(provider string, config *ClientConfig) (CompletionClient, error)
	// ValidateKeyFormat 按服务商的 Key 前缀约定做语法校验
	ValidateKeyFormat(provider, apiKey string) error
}

// KeyVerdict 凭证在线验证结论
type KeyVerdict string

const (
	KeyValid   KeyVerdict = "valid"
	KeyInvalid KeyVerdict = "invalid_credential"
	KeyUnknown KeyVerdict = "other_error"
)

// VerifyKey 以最小代价回环请求验证凭证，归类结果
func VerifyKey(ctx context.Context, client CompletionClient) (KeyVerdict, error) {
	err := client.Ping(ctx)
	if err == nil {
		return KeyValid, nil
	}
	if clientErr, ok := err.(*ClientError); ok && clientErr.Type == ErrorTypeAuth {
		return KeyInvalid, err
	}
	return KeyUnknown, err
}

// ErrUnsupportedProvider 未注册的服务商
func ErrUnsupportedProvider(provider string) error {
	return fmt.Errorf("不支持的补全服务商: %s", provider)
}
