// Package repair 对模型输出的近似 JSON 做纯文本层面的结构修复。
//
// 修复顺序固定：去掉代码围栏 → 截取 JSON 区域 → 删除尾逗号 → 括号配平 → 再删一次尾逗号。
// 所有阶段都是纯函数，线性时间，对已合法的 JSON 不做任何改动。
package repair

import "strings"

const fence = "```"

// Repair 依次执行全部修复阶段
func Repair(text string) string {
	s := StripFences(text)
	s = ExtractRegion(s)
	s = RemoveTrailingCommas(s)
	s = BalanceBrackets(s)
	s = RemoveTrailingCommas(s)
	return strings.TrimSpace(s)
}

// StripFences 去掉 ```json 之类的 markdown 代码围栏
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, fence) {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return ""
	}
	s = s[nl+1:]
	if end := strings.LastIndex(s, fence); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// ExtractRegion 保留第一个开括号到最后一个闭括号之间的内容
func ExtractRegion(s string) string {
	start := firstIndex(strings.IndexByte(s, '{'), strings.IndexByte(s, '['))
	if start < 0 {
		return s
	}
	end := max(strings.LastIndexByte(s, '}'), strings.LastIndexByte(s, ']'))
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

func firstIndex(a, b int) int {
	switch {
	case a < 0:
		return b
	case b < 0:
		return a
	default:
		return min(a, b)
	}
}

// scanner 跟踪引号状态；'"' 与 '\'' 都开启字符串，由同一种引号关闭
type scanner struct {
	quote   byte
	escaped bool
}

// inString 消费一个字节，返回该字节是否属于字符串内容（含引号本身）
func (sc *scanner) inString(c byte) bool {
	if sc.quote != 0 {
		switch {
		case sc.escaped:
			sc.escaped = false
		case c == '\\':
			sc.escaped = true
		case c == sc.quote:
			sc.quote = 0
		}
		return true
	}
	if c == '"' || c == '\'' {
		sc.quote = c
		return true
	}
	return false
}

// RemoveTrailingCommas 删除紧跟（忽略空白）闭括号的逗号，字符串内的逗号不动
func RemoveTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var sc scanner
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !sc.inString(c) && c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// BalanceBrackets 丢弃不匹配的闭括号，并在末尾按后进先出补齐缺失的闭括号。
// 末尾未闭合的字符串会先补上引号。
func BalanceBrackets(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	stack := make([]byte, 0, 16)
	var sc scanner
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.inString(c) {
			b.WriteByte(c)
			continue
		}
		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			n := len(stack)
			if n == 0 || stack[n-1] != c {
				continue
			}
			stack = stack[:n-1]
		}
		b.WriteByte(c)
	}
	if sc.quote != 0 {
		if sc.escaped {
			b.WriteByte('\\')
		}
		b.WriteByte(sc.quote)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
