package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"recipegen/internal/llm"
)

const name = "ollama"
const defaultHTTPTimeout = 60 * time.Second

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3"
)

func init() {
	llm.Register(name, DefaultModel, "qwen2.5:7b")
}

// Config Ollama 配置
type Config struct {
	BaseURL string `yaml:"base_url"` // 如 http://localhost:11434
	Model   string `yaml:"model"`    // 如 qwen2.5:7b
}

// Provider Ollama 实现
type Provider struct {
	client *http.Client
	config Config
}

// New 创建 Ollama Provider
func New(cfg *Config) *Provider {
	p := &Provider{
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
	if cfg != nil {
		p.config = *cfg
	}
	if p.config.BaseURL == "" {
		p.config.BaseURL = DefaultBaseURL
	}
	if p.config.Model == "" {
		p.config.Model = DefaultModel
	}
	return p
}

// Name 返回 provider 名称
func (p *Provider) Name() string {
	return name
}

// ollamaRequest Ollama API 请求体
type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  options       `json:"options"`
}

type options struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// ollamaResponse Ollama API 响应体
type ollamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

// Complete 调用 Ollama /api/chat（非流式，要求 JSON 输出）
func (p *Provider) Complete(ctx context.Context, req *llm.CompleteRequest) (*llm.CompleteResponse, error) {
	start := time.Now()
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	body := ollamaRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   false,
		Format:   "json",
		Options:  options{NumPredict: req.MaxTokens, Temperature: req.Temperature},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	endpoint := strings.TrimRight(p.config.BaseURL, "/") + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ollama: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &llm.StatusError{Provider: name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if out.Model == "" {
		out.Model = model
	}

	return &llm.CompleteResponse{
		Content: out.Message.Content,
		Model:   out.Model,
		Usage: &llm.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
		Latency: time.Since(start),
	}, nil
}
