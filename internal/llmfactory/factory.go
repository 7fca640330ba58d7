package llmfactory

import (
	"fmt"

	"recipegen/internal/llm"
	"recipegen/internal/llm/mock"
	"recipegen/internal/llm/ollama"
	"recipegen/internal/llm/openai"
)

// DefaultProvider 未配置 provider 时使用离线 mock
const DefaultProvider = "mock"

// ProviderConfig 各 provider 的配置（从 YAML 解析）
type ProviderConfig struct {
	Provider   string         `yaml:"provider"`
	Model      string         `yaml:"model,omitempty"` // 覆盖所选 provider 的默认模型
	Mock       *mock.Config   `yaml:"mock,omitempty"`
	Ollama     *ollama.Config `yaml:"ollama,omitempty"`
	OpenAI     *openai.Config `yaml:"openai,omitempty"`
	OpenRouter *openai.Config `yaml:"openrouter,omitempty"` // OpenAI 兼容 API
}

// Name 返回生效的 provider 名称
func (c *ProviderConfig) Name() string {
	if c == nil || c.Provider == "" {
		return DefaultProvider
	}
	return c.Provider
}

// EffectiveModel 返回生效的模型：顶层 model，其次所选 provider 段落中的 model，最后是目录默认值
func (c *ProviderConfig) EffectiveModel() string {
	name := c.Name()
	if c == nil {
		return llm.DefaultModel(name)
	}
	if c.Model != "" {
		return c.Model
	}
	var section string
	switch name {
	case "mock":
		if c.Mock != nil {
			section = c.Mock.Model
		}
	case "ollama":
		if c.Ollama != nil {
			section = c.Ollama.Model
		}
	case "openai":
		if c.OpenAI != nil {
			section = c.OpenAI.Model
		}
	case openai.NameOpenRouter:
		if c.OpenRouter != nil {
			section = c.OpenRouter.Model
		}
	}
	if section != "" {
		return section
	}
	return llm.DefaultModel(name)
}

// NewProviderFromConfig 根据配置创建 Provider；未知名称返回 llm.ErrUnknownProvider
func NewProviderFromConfig(cfg *ProviderConfig) (llm.Provider, error) {
	if cfg == nil {
		cfg = &ProviderConfig{}
	}
	name := cfg.Name()

	switch name {
	case "mock":
		var c mock.Config
		if cfg.Mock != nil {
			c = *cfg.Mock
		}
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		if !mock.ValidFault(c.Fault) {
			return nil, fmt.Errorf("mock: unknown fault %q", c.Fault)
		}
		return mock.New(&c), nil
	case "ollama":
		var c ollama.Config
		if cfg.Ollama != nil {
			c = *cfg.Ollama
		}
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		return ollama.New(&c), nil
	case "openai":
		var c openai.Config
		if cfg.OpenAI != nil {
			c = *cfg.OpenAI
		}
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		c.Name = "openai"
		return openai.New(&c), nil
	case openai.NameOpenRouter:
		var c openai.Config
		if cfg.OpenRouter != nil {
			c = *cfg.OpenRouter
		}
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		c.Name = openai.NameOpenRouter
		return openai.New(&c), nil
	default:
		return nil, fmt.Errorf("%w: %s", llm.ErrUnknownProvider, name)
	}
}
