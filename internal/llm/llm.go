package llm

import (
	"context"
	"time"
)

// Role 标识对话消息的发送方。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是多轮对话中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request 描述发送给大模型的一次调用。
//
// Prompt 非空时会作为最后一条用户消息追加到 Messages 之后。
type Request struct {
	System      string
	Messages    []Message
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Conversation 返回合并 Prompt 之后的完整消息列表。
func (r Request) Conversation() []Message {
	out := make([]Message, 0, len(r.Messages)+1)
	out = append(out, r.Messages...)
	if r.Prompt != "" {
		out = append(out, Message{Role: RoleUser, Content: r.Prompt})
	}
	return out
}

// Response 是大模型返回的文本。
type Response struct {
	Text string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Observer 接收每次调用的结果，通常由指标采集器实现。
type Observer interface {
	ObserveLLMCall(agent, outcome string, duration time.Duration)
}

// Instrument 为客户端包裹一层调用观测。
func Instrument(client Client, agent string, observer Observer) Client {
	if client == nil || observer == nil {
		return client
	}
	return &instrumented{client: client, agent: agent, observer: observer}
}

type instrumented struct {
	client   Client
	agent    string
	observer Observer
}

func (i *instrumented) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := i.client.Generate(ctx, req)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	i.observer.ObserveLLMCall(i.agent, outcome, time.Since(start))
	return resp, err
}
