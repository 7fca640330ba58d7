package llm

import (
	"context"
	"time"
)

// Provider 生成能力：输入 prompt，返回原始文本与用量
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *CompleteRequest) (*CompleteResponse, error)
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompleteRequest 标准化请求
type CompleteRequest struct {
	Model       string    // 模型名，为空时使用 provider 默认模型
	Messages    []Message // 消息列表
	MaxTokens   int       // 最大生成 token 数，0 表示不限制
	Temperature *float64  // 温度，nil 表示使用服务端默认值
}

// CompleteResponse 标准化响应
type CompleteResponse struct {
	Content string        // 模型返回文本
	Model   string        // 实际使用的模型
	Usage   *Usage        // token 用量（可选）
	Latency time.Duration // 本次调用耗时，含传输层重试
}

// Message 消息格式（OpenAI 风格）
type Message struct {
	Role    string `json:"role"`    // system/user/assistant
	Content string `json:"content"`
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Conversation 构造 system + user 两条消息
func Conversation(system, user string) []Message {
	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}
}
