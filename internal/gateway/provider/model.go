package provider

import "context"

// ModelProvider 抽象一个可调用的聊天补全模型。
type ModelProvider interface {
	ID() string
	Enabled() bool

	Call(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
