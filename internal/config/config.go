package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"recipegen/internal/llm"
	"recipegen/internal/llm/mock"
	"recipegen/internal/llmfactory"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	APIKey    string                    `yaml:"api_key"`
	APIKeys   []string                  `yaml:"api_keys"`
	Database  DatabaseConfig            `yaml:"database"`
	Store     string                    `yaml:"store" validate:"oneof=memory sqlite"` // memory | sqlite，默认 memory
	LLM       llmfactory.ProviderConfig `yaml:"llm"`
	Pipeline  PipelineConfig            `yaml:"pipeline"`
	RateLimit RateLimitConfig           `yaml:"rate_limit"`
	Log       LogConfig                 `yaml:"log"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite"`
	DSN    string `yaml:"dsn"`
}

// PipelineConfig 生成流水线配置
type PipelineConfig struct {
	RemoteRepair bool          `yaml:"remote_repair"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
}

// RateLimitConfig 每个客户端的令牌桶
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"gt=0"`
	Burst int     `yaml:"burst" validate:"gte=1"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

var validate = validator.New()

// Load 加载配置文件；文件不存在时使用默认值
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// 展开环境变量
	cfg.APIKey = os.ExpandEnv(cfg.APIKey)
	for i, k := range cfg.APIKeys {
		cfg.APIKeys[i] = os.ExpandEnv(k)
	}
	if cfg.LLM.OpenAI != nil {
		cfg.LLM.OpenAI.APIKey = os.ExpandEnv(cfg.LLM.OpenAI.APIKey)
	}
	if cfg.LLM.OpenRouter != nil {
		cfg.LLM.OpenRouter.APIKey = os.ExpandEnv(cfg.LLM.OpenRouter.APIKey)
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()
	return cfg, nil
}

// LoadFromEnv 从环境变量指定的路径或默认路径加载
func LoadFromEnv() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if !filepath.IsAbs(path) {
		if cwd, err := os.Getwd(); err == nil {
			path = filepath.Join(cwd, path)
		}
	}
	return Load(path)
}

// SetDefaults 填充未配置项
func (c *Config) SetDefaults() {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "./data/recipes.db"
	}
	if c.Store == "" {
		c.Store = "memory"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = llmfactory.DefaultProvider
	}
	if c.Pipeline.Timeout == 0 {
		c.Pipeline.Timeout = 60 * time.Second
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 1
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Keys 返回所有允许的 API Key（去重，忽略空值）
func (c *Config) Keys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, k := range append([]string{c.APIKey}, c.APIKeys...) {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// Validate 校验服务端配置，要求至少一个 API Key
func (c *Config) Validate() error {
	if len(c.Keys()) == 0 {
		return errors.New("api_key 未配置，请设置 config.api_key / config.api_keys 或环境变量 API_KEY")
	}
	return c.ValidateClient()
}

// ValidateClient 校验本地使用（CLI）所需的配置
func (c *Config) ValidateClient() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	name := c.LLM.Name()
	if !llm.IsKnown(name) {
		return fmt.Errorf("invalid config: %w: %s", llm.ErrUnknownProvider, name)
	}
	if c.LLM.Mock != nil && !mock.ValidFault(c.LLM.Mock.Fault) {
		return fmt.Errorf("invalid config: unknown mock fault %q", c.LLM.Mock.Fault)
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	setString(&c.APIKey, "API_KEY")
	setString(&c.LLM.Provider, "RECIPEGEN_LLM_PROVIDER")
	setString(&c.LLM.Model, "RECIPEGEN_LLM_MODEL")
	setString(&c.Database.DSN, "RECIPE_DB_PATH")
	setString(&c.Store, "RECIPEGEN_STORE")
	setString(&c.Log.Level, "RECIPEGEN_LOG_LEVEL")
	setInt(&c.Server.Port, "RECIPEGEN_SERVER_PORT")
	setBool(&c.Pipeline.RemoteRepair, "RECIPEGEN_REMOTE_REPAIR")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
