package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"StoryAI/internal/llm"
)

const (
	// GeminiBaseURL 是 Gemini 提供的 OpenAI 兼容端点。
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

	defaultGeminiModel = "gemini-1.5-pro"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultTimeout     = 60 * time.Second
	defaultMaxTokens   = 2048
)

// Config 描述了调用 Chat Completions API 所需的信息。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxTokens  int
	MaxRetries int
	// Options 用于测试时注入自定义 HTTP 客户端等。
	Options []option.RequestOption
}

// Gemini 返回指向 Gemini 兼容端点的预置配置。
func Gemini(apiKey string) Config {
	return Config{APIKey: apiKey, BaseURL: GeminiBaseURL, Model: defaultGeminiModel}
}

// OpenAI 返回官方端点的预置配置。
func OpenAI(apiKey string) Config {
	return Config{APIKey: apiKey, Model: defaultOpenAIModel}
}

// Client 通过 openai-go 调用 Chat Completions 接口。
type Client struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供大模型 API Key")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, cfg.Options...)

	return &Client{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
	}, nil
}

// Model 返回当前使用的模型名称。
func (c *Client) Model() string {
	return c.model
}

// Generate 调用 Chat Completions 生成文本。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               c.model,
		Temperature:         openai.Float(req.Temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, llm.WrapProviderError("openai", err)
	}
	if len(completion.Choices) == 0 {
		return nil, llm.WrapProviderError("openai", errors.New("响应中缺少 choices 字段"))
	}

	return &llm.Response{Text: completion.Choices[0].Message.Content}, nil
}

func buildMessages(req llm.Request) []openai.ChatCompletionMessageParamUnion {
	conversation := req.Conversation()
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(conversation)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	for _, msg := range conversation {
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return messages
}
