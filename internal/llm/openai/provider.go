package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"recipegen/internal/llm"
)

const (
	name               = "openai"
	NameOpenRouter     = "openrouter"
	defaultHTTPTimeout = 60 * time.Second
	defaultMaxRetries  = 3
	defaultMaxTokens   = 2048
)

const (
	DefaultBaseURL           = "https://api.openai.com/v1"
	DefaultModel             = "gpt-4o-mini"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel   = "openai/gpt-4o-mini"
)

func init() {
	llm.Register(name, DefaultModel, "gpt-4o")
	llm.Register(NameOpenRouter, DefaultOpenRouterModel, "anthropic/claude-3-haiku")
}

// Config OpenAI 配置
type Config struct {
	APIKey     string `yaml:"api_key"`     // 支持环境变量 OPENAI_API_KEY
	BaseURL    string `yaml:"base_url"`    // 默认为 https://api.openai.com/v1
	Model      string `yaml:"model"`       // 如 gpt-4o-mini
	MaxRetries *int   `yaml:"max_retries"` // 429/5xx/网络错误的重试次数，默认 3

	// Name provider 名称，OpenRouter 等兼容 API 复用本实现时设置
	Name string `yaml:"-"`
}

// sleepFn 可在测试中替换
var sleepFn = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Provider OpenAI 实现（兼容 OpenRouter、Azure 等 OpenAI 兼容 API）
type Provider struct {
	client     *http.Client
	config     Config
	maxRetries int
}

// New 创建 OpenAI Provider
func New(cfg *Config) *Provider {
	p := &Provider{
		client:     &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries: defaultMaxRetries,
	}
	if cfg != nil {
		p.config = *cfg
	}
	if p.config.Name == "" {
		p.config.Name = name
	}
	if p.config.APIKey == "" {
		p.config.APIKey = os.Getenv(envKey(p.config.Name))
	}
	if p.config.BaseURL == "" {
		p.config.BaseURL = DefaultBaseURL
		if p.config.Name == NameOpenRouter {
			p.config.BaseURL = DefaultOpenRouterBaseURL
		}
	}
	if p.config.Model == "" {
		p.config.Model = llm.DefaultModel(p.config.Name)
	}
	if p.config.MaxRetries != nil && *p.config.MaxRetries >= 0 {
		p.maxRetries = *p.config.MaxRetries
	}
	return p
}

func envKey(provider string) string {
	if provider == NameOpenRouter {
		return "OPENROUTER_API_KEY"
	}
	return "OPENAI_API_KEY"
}

// Name 返回 provider 名称
func (p *Provider) Name() string {
	return p.config.Name
}

// openaiRequest OpenAI chat completions 请求
type openaiRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// openaiResponse OpenAI 响应
type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *llm.Usage `json:"usage"`
}

// Complete 调用 chat completions，429/5xx 与网络错误按指数退避重试
func (p *Provider) Complete(ctx context.Context, req *llm.CompleteRequest) (*llm.CompleteResponse, error) {
	if p.config.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", p.config.Name, llm.ErrMissingAPIKey)
	}
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	body := openaiRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.config.Name, err)
	}
	endpoint := strings.TrimRight(p.config.BaseURL, "/") + "/chat/completions"

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepFn(ctx, p.wait(attempt-1, lastErr)); err != nil {
				return nil, fmt.Errorf("%s: %w", p.config.Name, err)
			}
		}

		out, err := p.do(ctx, endpoint, data)
		if err == nil {
			if len(out.Choices) == 0 {
				return nil, fmt.Errorf("%s: %w: no choices", p.config.Name, llm.ErrEmptyResponse)
			}
			if out.Model == "" {
				out.Model = model
			}
			return &llm.CompleteResponse{
				Content: out.Choices[0].Message.Content,
				Model:   out.Model,
				Usage:   out.Usage,
				Latency: time.Since(start),
			}, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", p.config.Name, ctx.Err())
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *Provider) do(ctx context.Context, endpoint string, data []byte) (*openaiResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: new request: %w", p.config.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &netError{err: fmt.Errorf("%s: do request: %w", p.config.Name, err)}
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, &netError{err: fmt.Errorf("%s: read response: %w", p.config.Name, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retryAfterError{
			StatusError: &llm.StatusError{
				Provider:   p.config.Name,
				StatusCode: resp.StatusCode,
				Body:       strings.TrimSpace(string(raw)),
			},
			after: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out openaiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.config.Name, err)
	}
	return &out, nil
}

// wait 计算第 attempt 次重试前的等待时间，429 优先使用 Retry-After
func (p *Provider) wait(attempt int, err error) time.Duration {
	var ra *retryAfterError
	if errors.As(err, &ra) && ra.StatusCode == http.StatusTooManyRequests && ra.after > 0 {
		return ra.after
	}
	return backoff(attempt)
}

func backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Second << attempt
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func retryable(err error) bool {
	var ne *netError
	if errors.As(err, &ne) {
		return true
	}
	var se *llm.StatusError
	return errors.As(err, &se) && se.Retryable()
}

// netError 网络层错误，可重试
type netError struct{ err error }

func (e *netError) Error() string { return e.err.Error() }
func (e *netError) Unwrap() error { return e.err }

// retryAfterError 携带 Retry-After 的状态错误
type retryAfterError struct {
	*llm.StatusError
	after time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.StatusError }
