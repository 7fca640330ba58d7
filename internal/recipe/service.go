package recipe

import (
	"context"
	"time"

	"github.com/google/uuid"

	"recipegen/internal/llm"
	"recipegen/internal/llmfactory"
	"recipegen/internal/logger"
	"recipegen/internal/repair"
	"recipegen/internal/schema"
)

// Options 服务可选项
type Options struct {
	Descriptor   *schema.Descriptor // 为空时使用 schema.RecipeV1
	DefaultModel string             // 请求未指定模型时使用
	RemoteRepair bool               // 本地修复失败后请模型自行修正一次
	Timeout      time.Duration      // 单次请求的总超时，0 表示只受调用方 ctx 约束
	Sink         EventSink
}

// Service 生成并恢复结构化 recipe；只持有不可变配置，可并发调用
type Service struct {
	llm          llm.Provider
	descriptor   schema.Descriptor
	defaultModel string
	remoteRepair bool
	timeout      time.Duration
	sink         EventSink
}

// NewService 创建服务
func NewService(provider llm.Provider, opts Options) *Service {
	s := &Service{
		llm:          provider,
		descriptor:   schema.RecipeV1(),
		defaultModel: opts.DefaultModel,
		remoteRepair: opts.RemoteRepair,
		timeout:      opts.Timeout,
		sink:         opts.Sink,
	}
	if opts.Descriptor != nil {
		s.descriptor = *opts.Descriptor
	}
	if s.defaultModel == "" && provider != nil {
		s.defaultModel = llm.DefaultModel(provider.Name())
	}
	if s.sink == nil {
		s.sink = NopSink{}
	}
	return s
}

// NewServiceFromConfig 按名称选择 provider；未知名称在任何调用发生前以 CONFIG_ERROR 失败
func NewServiceFromConfig(cfg *llmfactory.ProviderConfig, opts Options) (*Service, error) {
	provider, err := llmfactory.NewProviderFromConfig(cfg)
	if err != nil {
		return nil, &RecoveryError{Kind: KindConfig, Err: err}
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = cfg.EffectiveModel()
	}
	return NewService(provider, opts), nil
}

// ProviderName 当前 provider 名称
func (s *Service) ProviderName() string {
	return s.llm.Name()
}

// DefaultModel 默认模型
func (s *Service) DefaultModel() string {
	return s.defaultModel
}

// Descriptor 校验与提示共用的描述
func (s *Service) Descriptor() schema.Descriptor {
	return s.descriptor
}

// Generate 调用一次生成器，依次解析、校验、本地修复；RemoteRepair 开启时最多再调用一次
func (s *Service) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, &RecoveryError{Kind: KindInvalidRequest, Err: err}
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	r := &run{svc: s, req: req, id: uuid.NewString(), start: time.Now()}
	r.model = req.ModelID
	if r.model == "" {
		r.model = s.defaultModel
	}
	messages := llm.Conversation(buildSystemPrompt(req.SystemPrompt, s.descriptor), req.UserPrompt)

	raw, err := r.call(ctx, messages)
	if err != nil {
		return nil, r.fail(&RecoveryError{Kind: KindTransport, Err: err})
	}
	res := r.settle(raw)
	if res.ok {
		return r.succeed(res), nil
	}

	if s.remoteRepair {
		r.emit(StageEscalate, OutcomeOK, "")
		fix := buildFixMessages(messages, raw, res.violations, res.parseErr)
		raw, err = r.call(ctx, fix)
		if err != nil {
			return nil, r.fail(&RecoveryError{Kind: KindTransport, Err: err})
		}
		next := r.settle(raw)
		if next.ok {
			return r.succeed(next), nil
		}
		// 修正后的文本无法解析时保留首轮的文本与违规
		if next.violations != nil || res.violations == nil {
			res = next
		}
	}

	kind := KindParse
	var cause error = res.parseErr
	if r.parsedOnce {
		kind = KindSchema
		cause = nil
	}
	return nil, r.fail(&RecoveryError{
		Kind:       kind,
		Raw:        res.raw,
		Repaired:   res.repaired,
		Violations: res.violations,
		Err:        cause,
	})
}

// run 单个请求的可变状态，不跨请求共享
type run struct {
	svc   *Service
	req   *Request
	id    string
	start time.Time
	model string

	attempts   int
	latency    time.Duration
	tokensIn   int
	tokensOut  int
	usedModel  string
	parsedOnce bool
}

// attempt 一次生成结果的恢复过程
type attempt struct {
	raw        string
	repaired   string
	text       string // 通过校验的文本
	value      any
	violations schema.ViolationList
	parseErr   error
	fixed      bool
	ok         bool
}

func (r *run) emit(stage Stage, outcome, detail string) {
	emitSafe(r.svc.sink, Event{
		RequestID: r.id,
		Attempt:   r.attempts,
		Stage:     stage,
		Elapsed:   time.Since(r.start),
		Outcome:   outcome,
		Detail:    detail,
	})
}

// call 调用生成器并累加计数
func (r *run) call(ctx context.Context, messages []llm.Message) (string, error) {
	r.attempts++
	req := &llm.CompleteRequest{
		Model:       r.model,
		Messages:    messages,
		Temperature: r.req.Temperature,
	}
	if r.req.MaxTokens != nil {
		req.MaxTokens = *r.req.MaxTokens
	}

	begin := time.Now()
	resp, err := r.svc.llm.Complete(ctx, req)
	if err == nil && resp == nil {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		r.latency += time.Since(begin)
		r.emit(StageCalled, OutcomeFail, err.Error())
		return "", err
	}

	if resp.Latency > 0 {
		r.latency += resp.Latency
	} else {
		r.latency += time.Since(begin)
	}
	if resp.Usage != nil {
		r.tokensIn += resp.Usage.PromptTokens
		r.tokensOut += resp.Usage.CompletionTokens
	}
	r.usedModel = resp.Model
	r.emit(StageCalled, OutcomeOK, "")
	return resp.Content, nil
}

// settle 解析 → 校验 → 修复 → 再解析 → 再校验，不产生额外的生成调用
func (r *run) settle(raw string) attempt {
	a := attempt{raw: raw}
	d := r.svc.descriptor

	value, err := schema.Decode(raw)
	if err != nil {
		a.parseErr = err
		r.emit(StageParse, OutcomeFail, err.Error())
	} else {
		r.parsedOnce = true
		r.emit(StageParse, OutcomeOK, "")
		a.violations = schema.Validate(value, d)
		if len(a.violations) == 0 {
			r.emit(StageValidate, OutcomeOK, "")
			a.text, a.value, a.ok = raw, value, true
			return a
		}
		r.emit(StageValidate, OutcomeFail, a.violations.String())
	}

	a.repaired = repair.Repair(raw)
	if a.repaired == raw {
		r.emit(StageRepair, OutcomeUnchanged, "")
		return a
	}
	r.emit(StageRepair, OutcomeOK, "")

	value, err = schema.Decode(a.repaired)
	if err != nil {
		r.emit(StageReparse, OutcomeFail, err.Error())
		a.parseErr = err
		return a
	}
	r.parsedOnce = true
	a.parseErr = nil
	r.emit(StageReparse, OutcomeOK, "")

	a.violations = schema.Validate(value, d)
	if len(a.violations) > 0 {
		r.emit(StageRevalid, OutcomeFail, a.violations.String())
		return a
	}
	r.emit(StageRevalid, OutcomeOK, "")
	a.text, a.value, a.fixed, a.ok = a.repaired, value, true, true
	return a
}

func (r *run) succeed(a attempt) *Response {
	resp := &Response{
		RequestID: r.id,
		RawText:   a.text,
		Parsed:    a.value,
		ModelID:   r.usedModel,
		LatencyMs: r.latency.Milliseconds(),
		TokensIn:  r.tokensIn,
		TokensOut: r.tokensOut,
		Repaired:  a.fixed,
		Attempts:  r.attempts,
	}
	if resp.ModelID == "" {
		resp.ModelID = r.model
	}
	rec, err := DecodeRecipe(a.value)
	if err != nil {
		logger.Warn("decode typed recipe failed", "request_id", r.id, "error", err)
	}
	resp.Recipe = rec
	r.emit(StageCompleted, OutcomeOK, "")
	return resp
}

func (r *run) fail(err *RecoveryError) *RecoveryError {
	r.emit(StageCompleted, string(err.Kind), err.Error())
	return err
}
