package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"StoryAI/internal/identity"
	"StoryAI/internal/llm"
	"StoryAI/internal/messaging"
	"StoryAI/internal/models"
	"StoryAI/internal/session"
)

// 治疗会话中的固定文案。
const (
	TherapyOpening        = "I'd like to start a therapy session."
	TherapyGreeting       = "I'm here to listen and support you. How are you feeling today?"
	TherapyNoSession      = "No active session to end."
	TherapyClosing        = "Thank you for sharing today. I hope our conversation was helpful. Take care of yourself, and remember to practice some of the techniques we discussed."
	therapyStartFallback  = "I'm having trouble connecting right now. Please try again in a moment."
	therapyReplyFallback  = "I'm having trouble processing that right now. Could you try expressing that differently?"
	therapyClosingFailure = "Thank you for our conversation today. I hope it was helpful."
	therapySummaryFailure = "Unable to generate session summary."
)

// 治疗会话支持的动作。
const (
	ActionStartSession    = "start_session"
	ActionContinueSession = "continue_session"
	ActionEndSession      = "end_session"
)

const therapistSystemPrompt = `You are an empathetic AI therapist specializing in Cognitive Behavioral Therapy (CBT),
mindfulness, and self-reflection techniques. Your goal is to help the user explore their
thoughts and feelings in a supportive, non-judgmental way.

Guidelines for your responses:
1. Use therapeutic techniques from CBT, mindfulness, and positive psychology
2. Ask thoughtful questions to help users gain insight
3. Validate emotions while gently challenging unhelpful thought patterns
4. Suggest practical exercises or techniques when appropriate
5. Maintain a warm, empathetic tone
6. Keep responses concise (3-5 sentences)
7. Never diagnose or replace professional mental health care

You'll be having a conversation with someone seeking emotional support. Focus on being present,
understanding their situation, and offering guidance when helpful.`

// SessionClosing 是结束会话时返回的结语与总结。
type SessionClosing struct {
	ClosingMessage string `json:"closing_message"`
	SessionSummary string `json:"session_summary"`
}

// Therapy 维护多轮治疗对话。
type Therapy struct {
	Base
}

// NewTherapy 创建治疗对话智能体，未配置会话存储时使用内存实现。
func NewTherapy(id *identity.Identity, client llm.Client, opts ...Option) *Therapy {
	t := &Therapy{Base: newBase(NameTherapy, id, client, opts...)}
	if t.sessions == nil {
		t.sessions = session.NewMemoryStore()
	}
	return t
}

// StartSession 开启新会话，已有会话会被覆盖。
func (t *Therapy) StartSession(ctx context.Context, userID string) string {
	conv := &session.Conversation{UserID: userID, StartedAt: time.Now().UTC()}
	conv.Append(TherapyOpening, true)
	conv.Append(TherapyGreeting, false)
	if err := t.sessions.SaveConversation(ctx, conv); err != nil {
		t.fallback("start_session", err)
		return therapyStartFallback
	}
	t.logger.Info("治疗会话已开始", slog.String("user_id", userID))
	return TherapyGreeting
}

// ContinueSession 把完整历史发送给模型并记录回复，没有会话时自动开启。
// 只有成功的问答才写入会话。
func (t *Therapy) ContinueSession(ctx context.Context, userID, message string) string {
	conv, ok, err := t.sessions.Conversation(ctx, userID)
	if err != nil {
		t.fallback("continue_session", err)
		return therapyReplyFallback
	}
	if !ok {
		return t.StartSession(ctx, userID)
	}

	reply, err := t.converse(ctx, llm.Request{
		System:      therapistSystemPrompt,
		Messages:    conv.History,
		Prompt:      message,
		Temperature: 0.7,
	})
	if err != nil {
		// 失败的轮次不写入历史，避免下次请求出现连续的用户消息。
		t.fallback("continue_session", err)
		return therapyReplyFallback
	}
	conv.Append(message, true)
	conv.Append(reply, false)
	if err := t.sessions.SaveConversation(ctx, conv); err != nil {
		t.logger.Error("保存会话失败", slog.String("user_id", userID), slog.Any("error", err))
	}
	return reply
}

// EndSession 生成会话总结、保存记录并删除会话。
func (t *Therapy) EndSession(ctx context.Context, userID string) SessionClosing {
	conv, ok, err := t.sessions.Conversation(ctx, userID)
	if err != nil {
		t.fallback("end_session", err)
		return SessionClosing{ClosingMessage: therapyClosingFailure, SessionSummary: therapySummaryFailure}
	}
	if !ok {
		return SessionClosing{ClosingMessage: TherapyNoSession}
	}

	summary, err := t.generateText(ctx, summaryPrompt(conv.Messages), 0.3)
	if err != nil {
		t.fallback("session_summary", err)
		return SessionClosing{ClosingMessage: therapyClosingFailure, SessionSummary: therapySummaryFailure}
	}

	record := models.TherapySession{
		Messages:       conv.Messages,
		SessionSummary: summary,
		UserID:         userID,
		Timestamp:      time.Now().UTC(),
	}
	if t.store != nil {
		id, err := t.store.SaveTherapySession(ctx, record)
		if err != nil {
			t.logger.Error("保存治疗会话失败", slog.String("user_id", userID), slog.Any("error", err))
		} else {
			t.logger.Info("治疗会话已保存", slog.String("document_id", id))
		}
	}
	if err := t.sessions.DeleteConversation(ctx, userID); err != nil {
		t.logger.Warn("删除会话失败", slog.String("user_id", userID), slog.Any("error", err))
	}
	return SessionClosing{ClosingMessage: TherapyClosing, SessionSummary: summary}
}

// HandleMessage 按 action 分派会话操作。
func (t *Therapy) HandleMessage(ctx context.Context, env *messaging.Envelope) (messaging.Payload, error) {
	if t.acknowledge(env) {
		return nil, nil
	}
	payload, err := t.decode(env, "user_id", "action")
	if err != nil {
		return nil, err
	}
	userID := payload.String("user_id")
	action := payload.String("action")
	switch {
	case action == ActionStartSession:
		return messaging.Payload{"success": true, "message": t.StartSession(ctx, userID)}, nil
	case action == ActionContinueSession && payload.String("message") != "":
		return messaging.Payload{"success": true, "message": t.ContinueSession(ctx, userID, payload.String("message"))}, nil
	case action == ActionEndSession:
		closing := t.EndSession(ctx, userID)
		return messaging.Payload{
			"success":         true,
			"closing_message": closing.ClosingMessage,
			"session_summary": closing.SessionSummary,
		}, nil
	default:
		t.logger.Error("无效的会话动作", slog.String("action", action))
		return messaging.Payload{"success": false, "message": "Invalid action: " + action}, nil
	}
}

func summaryPrompt(messages []models.TherapyMessage) string {
	var transcript strings.Builder
	for _, msg := range messages {
		role := "Therapist"
		if msg.IsUser {
			role = "User"
		}
		fmt.Fprintf(&transcript, "%s: %s\n\n", role, msg.Content)
	}
	return fmt.Sprintf(`As a professional therapist, please review the following therapy conversation and
provide a concise summary from a therapist's perspective.

Focus on:
1. Main themes discussed
2. Emotional state of the client
3. Insights or breakthroughs
4. Recommended next steps or areas to explore

Conversation:
%s

Please write a professional therapy session summary in 3-5 paragraphs.
`, transcript.String())
}
