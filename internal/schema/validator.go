package schema

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
)

// Reason 违规原因
type Reason string

const (
	ReasonMissing      Reason = "missing"
	ReasonTypeMismatch Reason = "type-mismatch"
)

// RootPath 根节点类型错误时使用的路径
const RootPath = "$"

// Violation 带路径的单条违规
type Violation struct {
	Path   string `json:"path"`
	Reason Reason `json:"reason"`
}

func (v Violation) String() string {
	return v.Path + ": " + string(v.Reason)
}

// ViolationList 有序违规列表，为空表示符合 schema
type ViolationList []Violation

func (l ViolationList) String() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

// Paths 返回所有违规路径
func (l ViolationList) Paths() []string {
	out := make([]string, len(l))
	for i, v := range l {
		out[i] = v.Path
	}
	return out
}

// Validate 按描述校验已解析的值，穷举所有违规，不会 panic
func Validate(value any, d Descriptor) ViolationList {
	return ValidateNode(value, d.Root)
}

// ValidateNode 以 n 为根校验 value
func ValidateNode(value any, n *Node) ViolationList {
	if n == nil {
		return nil
	}
	if !matches(value, n.Type) {
		return ViolationList{{Path: RootPath, Reason: ReasonTypeMismatch}}
	}
	var out ViolationList
	walk(value, n, "", &out)
	return out
}

// walk 假定 value 已与 n.Type 匹配
func walk(value any, n *Node, path string, out *ViolationList) {
	switch n.Type {
	case Object:
		obj := value.(map[string]any)
		for _, f := range n.Fields {
			p := joinPath(path, f.Name)
			v, ok := obj[f.Name]
			if !ok {
				if f.Required {
					*out = append(*out, Violation{Path: p, Reason: ReasonMissing})
				}
				continue
			}
			if f.Node == nil {
				continue
			}
			if !matches(v, f.Node.Type) {
				*out = append(*out, Violation{Path: p, Reason: ReasonTypeMismatch})
				continue
			}
			walk(v, f.Node, p, out)
		}
	case Array:
		if n.Elem == nil {
			return
		}
		for i, e := range value.([]any) {
			p := path + "[" + strconv.Itoa(i) + "]"
			if !matches(e, n.Elem.Type) {
				*out = append(*out, Violation{Path: p, Reason: ReasonTypeMismatch})
				continue
			}
			walk(e, n.Elem, p, out)
		}
	}
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func matches(v any, t Type) bool {
	if v == nil {
		return t.Nullable()
	}
	switch t {
	case String, NullableString:
		_, ok := v.(string)
		return ok
	case Integer, NullableInteger:
		return isInteger(v)
	case FloatOrNull:
		return isNumber(v)
	case Boolean:
		_, ok := v.(bool)
		return ok
	case Object:
		_, ok := v.(map[string]any)
		return ok
	case Array:
		_, ok := v.([]any)
		return ok
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case json.Number, float64, float32, int, int32, int64:
		return true
	}
	return false
}

// isInteger 对 json.Number 按字面量判断，2.0 不算整数
func isInteger(v any) bool {
	switch n := v.(type) {
	case json.Number:
		return !strings.ContainsAny(string(n), ".eE")
	case int, int32, int64:
		return true
	case float64:
		return !math.IsInf(n, 0) && n == math.Trunc(n)
	case float32:
		f := float64(n)
		return !math.IsInf(f, 0) && f == math.Trunc(f)
	}
	return false
}

var ErrTrailingData = errors.New("unexpected data after top-level value")

// Decode 把文本解析为结构化值，数字保留为 json.Number，拒绝多余内容
func Decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingData
	}
	return v, nil
}
