package recipe

import (
	"context"
	"log/slog"
	"time"

	"recipegen/internal/logger"
)

// Stage 状态机阶段
type Stage string

const (
	StageCalled    Stage = "called"
	StageParse     Stage = "parse"
	StageValidate  Stage = "validate"
	StageRepair    Stage = "repair"
	StageReparse   Stage = "reparse"
	StageRevalid   Stage = "revalidate"
	StageEscalate  Stage = "escalate"
	StageCompleted Stage = "completed"
)

// Outcome 阶段结果
const (
	OutcomeOK        = "ok"
	OutcomeFail      = "fail"
	OutcomeUnchanged = "unchanged"
)

// Event 一次状态转移
type Event struct {
	RequestID string
	Attempt   int // 第几次生成调用，从 1 开始
	Stage     Stage
	Elapsed   time.Duration // 自请求开始
	Outcome   string
	Detail    string
}

// EventSink 观测事件接收方；不得阻塞
type EventSink interface {
	Emit(Event)
}

// NopSink 丢弃所有事件
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MultiSink 扇出到多个 sink
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink 忽略 nil
func NewMultiSink(sinks ...EventSink) *MultiSink {
	nonNil := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			nonNil = append(nonNil, s)
		}
	}
	return &MultiSink{sinks: nonNil}
}

func (m *MultiSink) Emit(e Event) {
	for _, s := range m.sinks {
		emitSafe(s, e)
	}
}

// LogSink 把事件写为结构化日志
type LogSink struct {
	Logger *slog.Logger // 为空时使用全局 logger
	Level  slog.Level
}

func (s LogSink) Emit(e Event) {
	l := s.Logger
	if l == nil {
		l = logger.GetLogger()
	}
	l.Log(context.Background(), s.Level, "pipeline event",
		"request_id", e.RequestID,
		"attempt", e.Attempt,
		"stage", string(e.Stage),
		"elapsed_ms", e.Elapsed.Milliseconds(),
		"outcome", e.Outcome,
		"detail", e.Detail,
	)
}

// emitSafe sink 的 panic 不影响流水线
func emitSafe(s EventSink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("event sink panicked", "stage", string(e.Stage), "panic", r)
		}
	}()
	s.Emit(e)
}
