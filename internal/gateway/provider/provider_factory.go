package provider

import (
	"time"

	"sigflow/internal/config"
)

// BuildProviders 根据配置构造模型提供者列表，顺序即优先级。
func BuildProviders(cfg config.AIConfig) ([]ModelProvider, error) {
	models, err := cfg.ResolveModelConfigs()
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	out := make([]ModelProvider, 0, len(models))
	for _, m := range models {
		client := &OpenAIChatClient{
			BaseURL:      m.APIURL,
			APIKey:       m.APIKey,
			Model:        m.Model,
			Timeout:      timeout,
			ExtraHeaders: m.Headers,
		}
		out = append(out, NewOpenAIModelProvider(m.ID, m.Enabled, client))
	}
	return out, nil
}

// FirstEnabled 返回第一个启用的提供者，没有则返回 nil。
func FirstEnabled(providers []ModelProvider) ModelProvider {
	for _, p := range providers {
		if p != nil && p.Enabled() {
			return p
		}
	}
	return nil
}
