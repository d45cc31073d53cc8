package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorType 大模型调用错误分类
type ErrorType string

const (
	ErrorTypeRateLimit      ErrorType = "rate_limit"      // 限流（429）
	ErrorTypeTimeout        ErrorType = "timeout"         // 请求超时
	ErrorTypeInvalidRequest ErrorType = "invalid_request" // 请求不合法（400）
	ErrorTypeAuth           ErrorType = "auth"            // 鉴权失败（401/403）
	ErrorTypeServer         ErrorType = "server"          // 服务端错误（5xx）
	ErrorTypeNetwork        ErrorType = "network"         // 网络层故障
	ErrorTypeUnknown        ErrorType = "unknown"
)

// ProviderError 大模型调用错误
type ProviderError struct {
	Provider string
	Type     ErrorType
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Provider, e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Provider, e.Type, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable 是否值得重试
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// isTimeoutErr 网络层超时判断
func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// 降级文案：对可恢复故障返回给学生的固定提示，作为成功字符串下发
const (
	// MsgHighDemand 限流重试仍失败
	MsgHighDemand = "I'm currently experiencing high demand. Please wait a moment and try again."
	// MsgRephrase 请求不合法，换个问法
	MsgRephrase = "I couldn't process that request. Please try rephrasing your question."
	// MsgTimeout 上游响应过慢
	MsgTimeout = "The AI service is taking too long to respond. Please try again."
	// MsgEmptyResponse 上游返回空内容
	MsgEmptyResponse = "Unable to generate response"
	// MsgExhausted 多轮重试后仍无结果
	MsgExhausted = "Unable to generate response after multiple attempts."
)

// MsgNotConfigured 未配置凭据时的提示，不发起网络请求
func MsgNotConfigured(keyName string) string {
	return fmt.Sprintf("I'm sorry, the AI service is not configured properly. Please contact the administrator to set up the %s.", keyName)
}
