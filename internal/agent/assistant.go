package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/identity"
	"StoryAI/internal/llm"
	"StoryAI/internal/messaging"
	"StoryAI/internal/session"
)

// RoutingThreshold 是采纳模型推荐所需的最低置信度。
const RoutingThreshold = 70

const assistantFailure = "I'm having trouble understanding your request right now. Could you try phrasing it differently?"

var (
	routableAgents = map[string]bool{
		NameJournal:   true,
		NameExercise:  true,
		NameGratitude: true,
		NameTherapy:   true,
		NameGuide:     true,
	}
	exitWords = map[string]bool{
		"exit":    true,
		"end":     true,
		"quit":    true,
		"goodbye": true,
		"bye":     true,
	}
	defaultQueryThemes = []string{"self-improvement", "well-being", "personal growth"}

	understandStructure = map[string]any{
		"recommended_agent": "agent_type",
		"confidence":        0,
		"explanation":       "Explanation text",
		"secondary_agents":  []string{"agent_type"},
	}
)

// QueryAnalysis 是模型对用户问题的路由判断。
type QueryAnalysis struct {
	RecommendedAgent string   `json:"recommended_agent"`
	Confidence       float64  `json:"confidence"`
	Explanation      string   `json:"explanation"`
	SecondaryAgents  []string `json:"secondary_agents"`
}

// Assistant 理解用户问题并路由给对应的智能体。
type Assistant struct {
	Base
}

// NewAssistant 创建个性化助手，未配置会话存储时使用内存实现。
func NewAssistant(id *identity.Identity, client llm.Client, opts ...Option) *Assistant {
	a := &Assistant{Base: newBase(NameAssistant, id, client, opts...)}
	if a.sessions == nil {
		a.sessions = session.NewMemoryStore()
	}
	return a
}

// Understand 让模型判断应由哪个智能体处理问题。
func (a *Assistant) Understand(ctx context.Context, query string, queryContext any) QueryAnalysis {
	var result QueryAnalysis
	if err := a.generateInto(ctx, understandPrompt(query, queryContext), understandStructure, 0.2, &result); err != nil {
		a.fallback("understand_query", err)
		return QueryAnalysis{
			RecommendedAgent: NameGuide,
			Confidence:       30,
			Explanation:      "Query analysis failed. Defaulting to guide agent.",
			SecondaryAgents:  []string{},
		}
	}
	result.RecommendedAgent = strings.ToLower(strings.TrimSpace(result.RecommendedAgent))
	return result
}

// Route 只有在置信度达标且推荐的智能体已知时才采纳，否则交给向导。
func Route(analysis QueryAnalysis) string {
	if analysis.Confidence >= RoutingThreshold && routableAgents[analysis.RecommendedAgent] {
		return analysis.RecommendedAgent
	}
	return NameGuide
}

// ProcessQuery 处理一次用户问题，正在治疗会话中的用户直接继续会话。
func (a *Assistant) ProcessQuery(ctx context.Context, userID, query string, queryContext any) map[string]any {
	stage, inStage, err := a.sessions.Stage(ctx, userID)
	if err != nil {
		a.logger.Error("读取会话阶段失败", slog.String("user_id", userID), slog.Any("error", err))
		return failureReply()
	}
	if inStage && stage == session.StageTherapy {
		action := ActionContinueSession
		if exitWords[strings.ToLower(strings.TrimSpace(query))] {
			action = ActionEndSession
		}
		return a.toTherapy(ctx, userID, query, action)
	}

	analysis := a.Understand(ctx, query, queryContext)
	target := Route(analysis)
	a.logger.Info("问题分析完成",
		slog.String("recommended_agent", analysis.RecommendedAgent),
		slog.Float64("confidence", analysis.Confidence),
		slog.String("route", target),
	)

	switch target {
	case NameJournal:
		return a.dispatch(ctx, NameJournal, messaging.Payload{"user_id": userID, "journal_text": query})
	case NameExercise:
		if _, err := a.resolve(NameExercise); err != nil {
			return notConfigured(NameExercise)
		}
		return a.dispatch(ctx, NameExercise, messaging.Payload{"user_id": userID, "key_themes": a.ExtractThemes(ctx, query)})
	case NameGratitude:
		return a.dispatch(ctx, NameGratitude, messaging.Payload{"user_id": userID, "journal_text": query})
	case NameTherapy:
		return a.toTherapy(ctx, userID, query, ActionStartSession)
	default:
		return a.dispatch(ctx, NameGuide, messaging.Payload{"user_id": userID, "query": query, "user_history": queryContext})
	}
}

// ExtractThemes 从问题中提取练习主题。
func (a *Assistant) ExtractThemes(ctx context.Context, query string) []string {
	prompt := fmt.Sprintf(`Extract 3-5 key themes from this text that would be useful for creating
personalized mental well-being exercises:

"%s"

Return only a JSON array of theme strings.
`, query)
	text, err := a.generateText(ctx, prompt, 0.3)
	if err != nil {
		a.fallback("extract_themes", err)
		return defaultQueryThemes
	}
	var themes []string
	if err := json.Unmarshal([]byte(llm.StripCodeFence(text)), &themes); err != nil || len(themes) == 0 {
		a.fallback("extract_themes", llm.ErrUnstructured)
		return defaultQueryThemes
	}
	return themes
}

func (a *Assistant) toTherapy(ctx context.Context, userID, query, action string) map[string]any {
	if _, err := a.resolve(NameTherapy); err != nil {
		return notConfigured(NameTherapy)
	}
	var stageErr error
	switch action {
	case ActionStartSession:
		stageErr = a.sessions.SetStage(ctx, userID, session.StageTherapy)
	case ActionEndSession:
		stageErr = a.sessions.ClearStage(ctx, userID)
	}
	if stageErr != nil {
		a.logger.Warn("更新会话阶段失败", slog.String("user_id", userID), slog.Any("error", stageErr))
	}
	return a.dispatch(ctx, NameTherapy, messaging.Payload{"user_id": userID, "message": query, "action": action})
}

// dispatch 同步调用目标智能体，把回复原样返回。
func (a *Assistant) dispatch(ctx context.Context, target string, payload messaging.Payload) map[string]any {
	a.logger.Info("路由到智能体", slog.String("target", target))
	reply, err := a.call(ctx, target, payload)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeAgentNotConfigured {
			return notConfigured(target)
		}
		a.logger.Error("调用智能体失败", slog.String("target", target), slog.Any("error", err))
		return failureReply()
	}
	if reply == nil {
		return map[string]any{"success": true}
	}
	return map[string]any(reply)
}

// HandleMessage 处理来自其他智能体的问题。
func (a *Assistant) HandleMessage(ctx context.Context, env *messaging.Envelope) (messaging.Payload, error) {
	if a.acknowledge(env) {
		return nil, nil
	}
	payload, err := a.decode(env, "user_id", "query")
	if err != nil {
		return nil, err
	}
	response := a.ProcessQuery(ctx, payload.String("user_id"), payload.String("query"), payload["context"])
	return messaging.Payload{"success": true, "response": response}, nil
}

func notConfigured(name string) map[string]any {
	title := name
	if name != "" {
		title = strings.ToUpper(name[:1]) + name[1:]
	}
	return map[string]any{"error": title + " agent address not configured"}
}

func failureReply() map[string]any {
	return map[string]any{"success": false, "message": assistantFailure}
}

func understandPrompt(query string, queryContext any) string {
	var contextText string
	if rendered := renderContext(queryContext); rendered != "" {
		contextText = "\nUser Context: " + rendered
	}
	return fmt.Sprintf(`Analyze the following user query to determine which specialized agent should handle it.

User Query: "%s"%s

Available agents:
1. Journal Analysis Agent - Handles journal entries, provides sentiment/emotion analysis and insights
2. Exercise Generator Agent - Creates personalized mental well-being exercises
3. Gratitude Agent - Helps users practice gratitude and recognize positive aspects in life
4. Therapy Conversation Agent - Provides therapy-like conversations using CBT and other techniques
5. Guide Agent - Helps users navigate features and provides overall guidance

Identify the PRIMARY agent that should handle this query and assign a confidence score (0-100).
If multiple agents are needed, select the primary one that should lead the response.

Format your response as a JSON object:
{
  "recommended_agent": "agent_type",
  "confidence": confidence_score,
  "explanation": "brief explanation of why this agent is recommended",
  "secondary_agents": ["other_agent_types"]
}

Where agent_type is one of: "journal", "exercise", "gratitude", "therapy", or "guide".
`, query, contextText)
}

