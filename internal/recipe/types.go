package recipe

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Request 一次生成请求，构造后不再修改
type Request struct {
	ModelID      string   `json:"model,omitempty" validate:"max=128"`
	SystemPrompt string   `json:"system,omitempty"`
	UserPrompt   string   `json:"prompt" validate:"notblank"`
	Temperature  *float64 `json:"temperature,omitempty" validate:"omitnil,gte=0,lte=2"`
	MaxTokens    *int     `json:"max_tokens,omitempty" validate:"omitnil,gt=0"`
}

// Response 成功结果；计数只累加实际发生的生成调用
type Response struct {
	RequestID string  `json:"request_id"`
	RawText   string  `json:"raw_text"` // 通过校验的文本，本地修复成功时为修复后的文本
	Parsed    any     `json:"parsed"`
	Recipe    *Recipe `json:"-"`
	ModelID   string  `json:"model"`
	LatencyMs int64   `json:"latency_ms"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	Repaired  bool    `json:"repaired"`
	Attempts  int     `json:"attempts"` // 生成调用次数
}

// Recipe 与 schema.RecipeV1 对应的强类型结构
type Recipe struct {
	Title       string       `json:"title"`
	Servings    int          `json:"servings"`
	Difficulty  string       `json:"difficulty"`
	Time        Time         `json:"time"`
	Ingredients []Ingredient `json:"ingredients"`
	Steps       []Step       `json:"steps"`
}

// Time 时间（分钟）
type Time struct {
	PrepMin  int `json:"prep_min"`
	CookMin  int `json:"cook_min"`
	TotalMin int `json:"total_min"`
}

// Ingredient 食材
type Ingredient struct {
	Name     string   `json:"name"`
	Quantity *float64 `json:"quantity,omitempty"`
	Unit     *string  `json:"unit,omitempty"`
	Notes    *string  `json:"notes,omitempty"`
}

// Step 步骤
type Step struct {
	Number      int         `json:"number"`
	Instruction string      `json:"instruction"`
	DurationMin *int        `json:"duration_min,omitempty"`
	Equipment   []Equipment `json:"equipment,omitempty"`
	Notes       *string     `json:"notes,omitempty"`
}

// Equipment 器具
type Equipment struct {
	Name  string  `json:"name"`
	Usage *string `json:"usage,omitempty"`
}

// DecodeRecipe 把已通过校验的值转换为 Recipe
func DecodeRecipe(parsed any) (*Recipe, error) {
	data, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("marshal parsed value: %w", err)
	}
	var r Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode recipe: %w", err)
	}
	return &r, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

var requestValidator = newValidator()

// Validate 校验请求字段
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if err := requestValidator.Struct(r); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error())
	}
	return nil
}
