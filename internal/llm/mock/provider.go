package mock

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"time"

	"recipegen/internal/llm"
)

const name = "mock"

// DefaultModel 离线模型名
const DefaultModel = "mock-1"

// promptTokens 固定的输入 token 数
const promptTokens = 200

// 故障注入，用于离线演示修复流程
const (
	FaultNone          = ""
	FaultFence         = "fence"
	FaultTrailingComma = "trailing_comma"
	FaultTruncate      = "truncate"
	FaultProse         = "prose"
	FaultRefusal       = "refusal"
)

func init() {
	llm.Register(name, DefaultModel)
}

// Config Mock 配置
type Config struct {
	Model string `yaml:"model"`
	Fault string `yaml:"fault"` // 只作用于首轮请求
}

// Provider 确定性的离线生成器：相同 prompt 总是返回相同 recipe
type Provider struct {
	config Config
}

// New 创建 Mock Provider
func New(cfg *Config) *Provider {
	p := &Provider{}
	if cfg != nil {
		p.config = *cfg
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

// ValidFault 是否为支持的故障类型
func ValidFault(f string) bool {
	switch f {
	case FaultNone, FaultFence, FaultTrailingComma, FaultTruncate, FaultProse, FaultRefusal:
		return true
	}
	return false
}

type equipment struct {
	Name  string `json:"name"`
	Usage string `json:"usage"`
}

type ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Notes    *string `json:"notes"`
}

type step struct {
	Number      int         `json:"number"`
	Instruction string      `json:"instruction"`
	DurationMin int         `json:"duration_min"`
	Equipment   []equipment `json:"equipment"`
	Notes       *string     `json:"notes"`
}

type recipeTime struct {
	PrepMin  int `json:"prep_min"`
	CookMin  int `json:"cook_min"`
	TotalMin int `json:"total_min"`
}

type recipe struct {
	Title       string       `json:"title"`
	Servings    int          `json:"servings"`
	Difficulty  string       `json:"difficulty"`
	Time        recipeTime   `json:"time"`
	Ingredients []ingredient `json:"ingredients"`
	Steps       []step       `json:"steps"`
}

// Complete 根据 system|user 的哈希生成 recipe JSON
func (p *Provider) Complete(ctx context.Context, req *llm.CompleteRequest) (*llm.CompleteResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mock: %w", err)
	}
	start := time.Now()

	system, user, turns := split(req.Messages)
	text, err := render(seed(system, user))
	if err != nil {
		return nil, fmt.Errorf("mock: marshal recipe: %w", err)
	}
	if turns == 1 {
		text = injectFault(text, p.config.Fault)
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	return &llm.CompleteResponse{
		Content: text,
		Model:   model,
		Usage: &llm.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: len(text),
			TotalTokens:      promptTokens + len(text),
		},
		Latency: time.Since(start),
	}, nil
}

// split 取第一条 system 消息与最后一条 user 消息，并统计 user 轮数
func split(msgs []llm.Message) (system, user string, turns int) {
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			if system == "" {
				system = m.Content
			}
		case llm.RoleUser:
			user = m.Content
			turns++
		}
	}
	return system, user, turns
}

func seed(system, user string) int64 {
	sum := sha256.Sum256([]byte(system + "|" + user))
	n := new(big.Int).SetBytes(sum[:])
	return n.Mod(n, big.NewInt(100_000_000)).Int64()
}

func render(s int64) (string, error) {
	rnd := rand.New(rand.NewSource(s))
	prep := 5 + rnd.Intn(16)
	cook := 10 + rnd.Intn(26)
	r := recipe{
		Title:      fmt.Sprintf("Mock Recipe %d", s%1000),
		Servings:   2 + rnd.Intn(5),
		Difficulty: []string{"easy", "medium", "hard"}[rnd.Intn(3)],
		Time:       recipeTime{PrepMin: prep, CookMin: cook, TotalMin: prep + cook},
	}
	for i := 1; i <= 5; i++ {
		unit := "tbsp"
		if i%2 == 0 {
			unit = "cup"
		}
		r.Ingredients = append(r.Ingredients, ingredient{
			Name:     fmt.Sprintf("Item %d", i),
			Quantity: float64(1 + rnd.Intn(3)),
			Unit:     unit,
		})
	}
	for i := 1; i <= 4; i++ {
		equip := []equipment{}
		switch i {
		case 1:
			equip = append(equip, equipment{Name: "Bowl", Usage: "mix"})
		case 3:
			equip = append(equip, equipment{Name: "Pan", Usage: "saute"})
		}
		r.Steps = append(r.Steps, step{
			Number:      i,
			Instruction: fmt.Sprintf("Do step %d", i),
			DurationMin: 1 + rnd.Intn(10),
			Equipment:   equip,
		})
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func injectFault(text, fault string) string {
	switch fault {
	case FaultFence:
		return "```json\n" + text + "\n```"
	case FaultTrailingComma:
		return strings.TrimSuffix(text, "}") + ",}"
	case FaultTruncate:
		// 截在 steps 数组之前，保证截断点落在结构边界上
		if i := strings.Index(text, `,"steps":`); i > 0 {
			return text[:i]
		}
		return text[:len(text)/2]
	case FaultProse:
		return "Here is a recipe for you:\n" + text + "\nEnjoy your meal!"
	case FaultRefusal:
		return "Sorry, I can only talk about cooking in general terms."
	}
	return text
}
