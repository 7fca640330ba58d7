package recipe

import (
	"errors"
	"fmt"

	"recipegen/internal/schema"
)

var (
	ErrTransport      = errors.New("TRANSPORT_ERROR")
	ErrParse          = errors.New("PARSE_ERROR")
	ErrSchema         = errors.New("SCHEMA_ERROR")
	ErrConfig         = errors.New("CONFIG_ERROR")
	ErrInvalidRequest = errors.New("INVALID_REQUEST")
	ErrNotFound       = errors.New("NOT_FOUND")
)

// Kind 失败分类
type Kind string

const (
	KindTransport      Kind = "TRANSPORT_ERROR"
	KindParse          Kind = "PARSE_ERROR"
	KindSchema         Kind = "SCHEMA_ERROR"
	KindConfig         Kind = "CONFIG_ERROR"
	KindInvalidRequest Kind = "INVALID_REQUEST"
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindParse:
		return ErrParse
	case KindSchema:
		return ErrSchema
	case KindConfig:
		return ErrConfig
	case KindInvalidRequest:
		return ErrInvalidRequest
	}
	return nil
}

// RecoveryError 流水线的分类失败；errors.Is 可匹配对应的哨兵错误及底层原因
type RecoveryError struct {
	Kind       Kind
	Raw        string               // 报告的那次尝试的原始文本
	Repaired   string               // 同一次尝试本地修复后的文本
	Violations schema.ViolationList // 同一次尝试的校验结果；修正调用无法解析时报告首轮
	Err        error
}

func (e *RecoveryError) Error() string {
	switch {
	case e.Kind == KindSchema && len(e.Violations) > 0:
		return fmt.Sprintf("%s: %s", e.Kind, e.Violations)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *RecoveryError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf 返回 err 的失败分类；非 RecoveryError 返回空
func KindOf(err error) Kind {
	var re *RecoveryError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
