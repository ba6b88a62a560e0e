package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// AgentNames 列出系统内置的全部智能体，顺序与身份派生序号一致。
var AgentNames = []string{"journal", "exercise", "gratitude", "therapy", "guide", "assistant", "workflow"}

// Config 描述了 Story.AI 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	LLM       LLMConfig       `json:"llm"`
	Analysis  AnalysisConfig  `json:"analysis"`
	Storage   StorageConfig   `json:"storage"`
	Sessions  SessionConfig   `json:"sessions"`
	Messaging MessagingConfig `json:"messaging"`
	Registry  RegistryConfig  `json:"registry"`
	Identity  IdentityConfig  `json:"identity"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与对外地址。
type ServerConfig struct {
	Address   string `json:"address"`
	PublicURL string `json:"public_url"`

	// MetricsAddress 非空时额外启动独立的指标端口。
	MetricsAddress string `json:"metrics_address"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditFile   string   `json:"audit_file"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string            `json:"provider"`
	Model          string            `json:"model"`
	BaseURL        string            `json:"base_url"`
	APIKey         string            `json:"api_key"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	MaxTokens      int               `json:"max_tokens"`
	AgentKeys      map[string]string `json:"agent_keys"`
}

// Timeout 返回单次调用的超时时间。
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// KeyFor 返回指定智能体使用的 API Key，未单独配置时回退到共享 Key。
func (c LLMConfig) KeyFor(agent string) string {
	if key := strings.TrimSpace(c.AgentKeys[agent]); key != "" {
		return key
	}
	return c.APIKey
}

// AnalysisConfig 描述情感与情绪分析的实现方式。
type AnalysisConfig struct {
	Provider string             `json:"provider"`
	Python   PythonBridgeConfig `json:"python_bridge"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// StorageConfig 描述文档存储的连接信息。
type StorageConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
	PersistJournals bool   `json:"persist_journals"`
}

// SessionConfig 描述会话阶段与治疗会话的保存位置。
type SessionConfig struct {
	Driver     string      `json:"driver"`
	TTLSeconds int         `json:"ttl_seconds"`
	Redis      RedisConfig `json:"redis"`
}

// RedisConfig 为会话与队列共享的 Redis 连接参数。
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// MessagingConfig 描述智能体之间的消息通道。
type MessagingConfig struct {
	Transport      string      `json:"transport"`
	Workers        int         `json:"workers"`
	QueueName      string      `json:"queue_name"`
	Redis          RedisConfig `json:"redis"`
	RabbitMQURL    string      `json:"rabbitmq_url"`
	EnvelopeTTL    int         `json:"envelope_ttl_seconds"`
	WebhookTimeout int         `json:"webhook_timeout_seconds"`
}

// RegistryConfig 描述 Agentverse 目录服务。
type RegistryConfig struct {
	Enabled      bool   `json:"enabled"`
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key"`
	SecondaryKey string `json:"secondary_api_key"`
	CatalogPath  string `json:"catalog_path"`
}

// IdentityConfig 描述智能体身份的派生种子。
type IdentityConfig struct {
	SeedPhrase string `json:"seed_phrase"`
}

// KnowledgeConfig 指向外部智能体目录的 JSON 文件，为空时使用内置条目。
type KnowledgeConfig struct {
	Path       string `json:"path"`
	MaxResults int    `json:"max_results"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// envOverrides 汇总可通过环境变量覆盖的字段。
type envOverrides struct {
	Host          string `env:"HOST"`
	Port          string `env:"PORT"`
	SeedPhrase    string `env:"FETCH_AI_SEED_PHRASE"`
	AgentverseKey string `env:"AGENTVERSE_API_KEY"`
	SecondaryKey  string `env:"AGENTVERSE_API_KEY_SECONDARY"`
	GeminiKey     string `env:"GEMINI_API_KEY"`
	StorageDriver string `env:"STORY_STORAGE_DRIVER"`
	StorageDSN    string `env:"STORY_STORAGE_DSN"`
	RedisAddr     string `env:"STORY_REDIS_ADDR"`
	RabbitMQURL   string `env:"STORY_RABBITMQ_URL"`
	LogLevel      string `env:"STORY_LOG_LEVEL"`
}

// Load 负责解析指定路径的 JSON 配置文件，文件不存在时使用默认配置。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	var cfg Config
	file, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	default:
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// Default 返回完全由默认值构成的配置，主要用于测试。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	return &cfg
}

// applyEnv 使用环境变量覆盖文件中的配置。
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var overrides envOverrides
	if err := env.ParseWithOptions(&overrides, env.Options{Environment: environment(lookup)}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if overrides.Host != "" || overrides.Port != "" {
		host := overrides.Host
		port := overrides.Port
		if port == "" {
			port = "8000"
		}
		c.Server.Address = host + ":" + port
		publicHost := host
		if publicHost == "" || publicHost == "0.0.0.0" {
			publicHost = "localhost"
		}
		c.Server.PublicURL = "http://" + publicHost + ":" + port
	}
	if overrides.SeedPhrase != "" {
		c.Identity.SeedPhrase = overrides.SeedPhrase
	}
	if overrides.AgentverseKey != "" {
		c.Registry.APIKey = overrides.AgentverseKey
	}
	if overrides.SecondaryKey != "" {
		c.Registry.SecondaryKey = overrides.SecondaryKey
	}
	if overrides.GeminiKey != "" {
		c.LLM.APIKey = overrides.GeminiKey
	}
	if overrides.StorageDriver != "" {
		c.Storage.Driver = overrides.StorageDriver
	}
	if overrides.StorageDSN != "" {
		c.Storage.DSN = overrides.StorageDSN
	}
	if overrides.RedisAddr != "" {
		c.Sessions.Redis.Addr = overrides.RedisAddr
		c.Messaging.Redis.Addr = overrides.RedisAddr
	}
	if overrides.RabbitMQURL != "" {
		c.Messaging.RabbitMQURL = overrides.RabbitMQURL
	}
	if overrides.LogLevel != "" {
		c.Logging.Level = overrides.LogLevel
	}

	for _, name := range AgentNames {
		key, ok := lookup(AgentKeyEnv(name))
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		if c.LLM.AgentKeys == nil {
			c.LLM.AgentKeys = make(map[string]string)
		}
		c.LLM.AgentKeys[name] = key
	}
	return nil
}

// AgentKeyEnv 返回某个智能体专属 API Key 的环境变量名。
func AgentKeyEnv(agent string) string {
	return strings.ToUpper(agent) + "_AGENT_GEMINI_API_KEY"
}

func environment(lookup func(string) (string, bool)) map[string]string {
	keys := []string{
		"HOST", "PORT", "FETCH_AI_SEED_PHRASE", "AGENTVERSE_API_KEY", "AGENTVERSE_API_KEY_SECONDARY",
		"GEMINI_API_KEY", "STORY_STORAGE_DRIVER", "STORY_STORAGE_DSN", "STORY_REDIS_ADDR",
		"STORY_RABBITMQ_URL", "STORY_LOG_LEVEL",
	}
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		if value, ok := lookup(key); ok {
			out[key] = value
		}
	}
	return out
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = "http://localhost:8000"
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "gemini"
	}
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.Model = "gpt-4o-mini"
		case "anthropic":
			c.LLM.Model = "claude-3-5-haiku-latest"
		default:
			c.LLM.Model = "gemini-1.5-pro"
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 2048
	}

	if c.Analysis.Provider == "" {
		c.Analysis.Provider = "llm"
	}
	if c.Analysis.Python.PythonExecutable == "" {
		c.Analysis.Python.PythonExecutable = "python3"
	}
	c.Analysis.Python.WorkingDir = resolve(baseDir, c.Analysis.Python.WorkingDir, baseDir)

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MaxOpenConns <= 0 {
		c.Storage.MaxOpenConns = 20
	}
	if c.Storage.MaxIdleConns <= 0 {
		c.Storage.MaxIdleConns = 10
	}
	if c.Storage.ConnMaxLifetime <= 0 {
		c.Storage.ConnMaxLifetime = int((30 * time.Minute).Seconds())
	}

	if c.Sessions.Driver == "" {
		c.Sessions.Driver = "memory"
	}
	if c.Sessions.Redis.Addr == "" {
		c.Sessions.Redis.Addr = "127.0.0.1:6379"
	}

	if c.Messaging.Transport == "" {
		c.Messaging.Transport = "memory"
	}
	if c.Messaging.Workers <= 0 {
		c.Messaging.Workers = 4
	}
	if c.Messaging.QueueName == "" {
		c.Messaging.QueueName = "story:envelopes"
	}
	if c.Messaging.Redis.Addr == "" {
		c.Messaging.Redis.Addr = c.Sessions.Redis.Addr
	}
	if c.Messaging.EnvelopeTTL <= 0 {
		c.Messaging.EnvelopeTTL = 3600
	}
	if c.Messaging.WebhookTimeout <= 0 {
		c.Messaging.WebhookTimeout = 30
	}

	if c.Registry.BaseURL == "" {
		c.Registry.BaseURL = "https://agentverse.ai"
	}
	if c.Registry.CatalogPath != "" {
		c.Registry.CatalogPath = resolve(baseDir, c.Registry.CatalogPath, "")
	}

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 2
	}
	if c.Knowledge.Path != "" {
		c.Knowledge.Path = resolve(baseDir, c.Knowledge.Path, "")
	}

	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, filepath.Join(baseDir, "data"))
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
