package llmfactory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipegen/internal/llm"
	"recipegen/internal/llm/mock"
	"recipegen/internal/llm/ollama"
	"recipegen/internal/llm/openai"
)

func TestNewProviderFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *ProviderConfig
		wantName string
	}{
		{"nil config defaults to mock", nil, "mock"},
		{"empty provider defaults to mock", &ProviderConfig{}, "mock"},
		{"mock with fault", &ProviderConfig{Provider: "mock", Mock: &mock.Config{Fault: mock.FaultFence}}, "mock"},
		{"ollama", &ProviderConfig{Provider: "ollama"}, "ollama"},
		{"openai", &ProviderConfig{Provider: "openai", OpenAI: &openai.Config{APIKey: "k"}}, "openai"},
		{"openrouter", &ProviderConfig{Provider: "openrouter"}, "openrouter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProviderFromConfig(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestNewProviderFromConfig_Unknown(t *testing.T) {
	_, err := NewProviderFromConfig(&ProviderConfig{Provider: "kimi"})
	assert.ErrorIs(t, err, llm.ErrUnknownProvider)
	assert.Contains(t, err.Error(), "kimi")
}

func TestNewProviderFromConfig_BadFault(t *testing.T) {
	_, err := NewProviderFromConfig(&ProviderConfig{Mock: &mock.Config{Fault: "explode"}})
	assert.Error(t, err)
}

func TestCatalogCoversFactory(t *testing.T) {
	for _, name := range []string{"mock", "ollama", "openai", "openrouter"} {
		assert.True(t, llm.IsKnown(name), name)
		assert.NotEmpty(t, llm.DefaultModel(name), name)
	}
	assert.Equal(t, []string{"mock", "ollama", "openai", "openrouter"}, llm.Providers())
}

func TestProviderConfig_EffectiveModel(t *testing.T) {
	tests := []struct {
		name string
		cfg  *ProviderConfig
		want string
	}{
		{"nil config", nil, mock.DefaultModel},
		{"catalog default", &ProviderConfig{Provider: "openai"}, openai.DefaultModel},
		{"openai section", &ProviderConfig{Provider: "openai", OpenAI: &openai.Config{Model: "gpt-4o"}}, "gpt-4o"},
		{"openrouter section", &ProviderConfig{Provider: "openrouter", OpenRouter: &openai.Config{Model: "anthropic/claude-3-haiku"}}, "anthropic/claude-3-haiku"},
		{"ollama section", &ProviderConfig{Provider: "ollama", Ollama: &ollama.Config{Model: "qwen2.5:7b"}}, "qwen2.5:7b"},
		{"other section ignored", &ProviderConfig{Provider: "ollama", OpenAI: &openai.Config{Model: "gpt-4o"}}, ollama.DefaultModel},
		{"top-level wins", &ProviderConfig{Provider: "openai", Model: "gpt-4o-mini", OpenAI: &openai.Config{Model: "gpt-4o"}}, "gpt-4o-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.EffectiveModel())
		})
	}
}
