package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"StoryAI/internal/llm"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 2048
)

// Config 描述了调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxTokens  int
	MaxRetries int
	Options    []option.RequestOption
}

// Client 通过 anthropic-sdk-go 生成文本。
type Client struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClient 根据配置创建 Anthropic 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
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
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
	}, nil
}

// Generate 调用 Messages API 并拼接所有文本块。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    buildMessages(req),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}
	if system := systemPrompt(req); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, llm.WrapProviderError("anthropic", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	if text.Len() == 0 {
		return nil, llm.WrapProviderError("anthropic", errors.New("响应中没有文本内容"))
	}
	return &llm.Response{Text: text.String()}, nil
}

// systemPrompt 合并 System 字段与对话中的 system 消息，Messages API 只接受单独的 system 参数。
func systemPrompt(req llm.Request) string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(req.System); s != "" {
		parts = append(parts, s)
	}
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem && strings.TrimSpace(msg.Content) != "" {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func buildMessages(req llm.Request) []anthropic.MessageParam {
	conversation := req.Conversation()
	messages := make([]anthropic.MessageParam, 0, len(conversation))
	for _, msg := range conversation {
		switch msg.Role {
		case llm.RoleSystem:
			continue
		case llm.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return messages
}
