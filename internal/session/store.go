package session

import (
	"context"
	"time"

	"StoryAI/internal/llm"
	"StoryAI/internal/models"
)

// StageTherapy 表示用户正处于治疗会话中。
const StageTherapy = "therapy"

// Conversation 是一个进行中的治疗会话。
type Conversation struct {
	UserID    string                  `json:"user_id"`
	Messages  []models.TherapyMessage `json:"messages"`
	History   []llm.Message           `json:"history"`
	StartedAt time.Time               `json:"started_at"`
}

// Append 同时记录展示用消息与发送给模型的对话历史。
func (c *Conversation) Append(content string, isUser bool) {
	role := llm.RoleAssistant
	if isUser {
		role = llm.RoleUser
	}
	c.Messages = append(c.Messages, models.TherapyMessage{
		Content:   content,
		Timestamp: time.Now().UTC(),
		IsUser:    isUser,
	})
	c.History = append(c.History, llm.Message{Role: role, Content: content})
}

// Store 保存每个用户的会话阶段与治疗会话。
type Store interface {
	Stage(ctx context.Context, userID string) (string, bool, error)
	SetStage(ctx context.Context, userID, stage string) error
	ClearStage(ctx context.Context, userID string) error

	Conversation(ctx context.Context, userID string) (*Conversation, bool, error)
	SaveConversation(ctx context.Context, conv *Conversation) error
	DeleteConversation(ctx context.Context, userID string) error

	Close() error
}
