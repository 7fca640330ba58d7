package recipe

import (
	"fmt"
	"strings"

	"recipegen/internal/llm"
	"recipegen/internal/schema"
)

// DefaultSystemPrompt 请求未提供 system prompt 时使用
const DefaultSystemPrompt = "Return ONLY valid JSON matching the provided schema. No prose. Use the exact keys from schema."

// buildSystemPrompt 把描述序列化后附在 system prompt 末尾，校验与提示共用同一个描述
func buildSystemPrompt(system string, d schema.Descriptor) string {
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	return fmt.Sprintf("%s\n\nSchema (%s v%d):\n%s", system, d.Name, d.Version, d.PromptJSON())
}

// buildFixMessages 远程修复：把上一轮输出与问题放进对话，请模型只返回修正后的 JSON
func buildFixMessages(base []llm.Message, raw string, violations schema.ViolationList, parseErr error) []llm.Message {
	problem := "The output does not match the schema: " + violations.String()
	if len(violations) == 0 && parseErr != nil {
		problem = "The output is not valid JSON: " + parseErr.Error()
	}
	msgs := make([]llm.Message, 0, len(base)+2)
	msgs = append(msgs, base...)
	return append(msgs,
		llm.Message{Role: llm.RoleAssistant, Content: raw},
		llm.Message{Role: llm.RoleUser, Content: problem + "\nReturn the corrected JSON only."},
	)
}
