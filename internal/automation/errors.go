package automation

import "fmt"

// ConfigurationError 配置缺失类错误（凭证未配置、连接不存在）。
// 终态错误，用户修复配置之前重试没有意义
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// ExecutionError 技能执行阶段错误，携带服务商返回的原始信息
type ExecutionError struct {
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
