package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"StoryAI/internal/identity"
	"StoryAI/internal/knowledge"
	"StoryAI/internal/llm"
	"StoryAI/internal/messaging"
	"StoryAI/internal/models"
)

var recommendationStructure = map[string]any{
	"recommended_feature": "Feature name",
	"explanation":         "Explanation text",
	"next_steps":          "Next steps text",
}

// FallbackRecommendation 是模型不可用时的功能推荐。
func FallbackRecommendation() models.FeatureRecommendation {
	return models.FeatureRecommendation{
		RecommendedFeature: "Journaling",
		Explanation:        "I'm having trouble processing your request right now, but journaling is always a good place to start your well-being journey.",
		NextSteps:          "Try writing about how you're feeling today in the journal section.",
	}
}

// FallbackGuidance 是整体失败时的综合回复。
func FallbackGuidance() models.Guidance {
	return models.Guidance{
		StoryAIRecommendation: models.FeatureRecommendation{
			RecommendedFeature: "Journaling",
			Explanation:        "I'm having trouble processing your request, but journaling is always helpful.",
			NextSteps:          "Try writing about your feelings in the journal section.",
		},
		ExternalAgents:      []models.ExternalAgent{},
		PersonalizedMessage: "I recommend starting with journaling to explore your thoughts and feelings.",
	}
}

// Guide 推荐平台功能并检索外部智能体。
type Guide struct {
	Base
}

// NewGuide 创建向导智能体，未配置检索时使用内置目录。
func NewGuide(id *identity.Identity, client llm.Client, opts ...Option) *Guide {
	g := &Guide{Base: newBase(NameGuide, id, client, opts...)}
	if g.knowledge == nil {
		g.knowledge = knowledge.NewStaticProvider(nil, 2)
	}
	return g
}

// RecommendFeature 根据问题与历史推荐最合适的功能。
func (g *Guide) RecommendFeature(ctx context.Context, query string, history any) models.FeatureRecommendation {
	var rec models.FeatureRecommendation
	if err := g.generateInto(ctx, recommendPrompt(query, history), recommendationStructure, 0.3, &rec); err != nil {
		g.fallback("recommend_feature", err)
		return FallbackRecommendation()
	}
	if strings.TrimSpace(rec.RecommendedFeature) == "" {
		g.fallback("recommend_feature", fmt.Errorf("empty recommended_feature"))
		return FallbackRecommendation()
	}
	return rec
}

// SearchExternal 检索相关的外部智能体。
func (g *Guide) SearchExternal(query string) []models.ExternalAgent {
	g.logger.Info("检索外部智能体", slog.String("query", query))
	agents := g.knowledge.Search(query)
	if agents == nil {
		return []models.ExternalAgent{}
	}
	return agents
}

// PersonalizedMessage 把推荐与外部智能体拼成一段回复。
func PersonalizedMessage(query string, rec models.FeatureRecommendation, agents []models.ExternalAgent) string {
	var external string
	if len(agents) > 0 {
		names := make([]string, 0, len(agents))
		for _, a := range agents {
			names = append(names, a.AgentName)
		}
		external = fmt.Sprintf(" You might also find %s helpful for additional support.", strings.Join(names, " and "))
	}
	return fmt.Sprintf("Based on your question about '%s', I recommend trying our %s feature. %s%s %s",
		query, rec.RecommendedFeature, rec.Explanation, external, rec.NextSteps)
}

// Guidance 组合功能推荐、外部智能体与个性化消息。
func (g *Guide) Guidance(ctx context.Context, userID, query string, history any) models.Guidance {
	rec := g.RecommendFeature(ctx, query, history)
	if err := ctx.Err(); err != nil {
		g.fallback("guidance", err)
		return FallbackGuidance()
	}
	agents := g.SearchExternal(query)
	g.logger.Debug("已生成向导回复", slog.String("user_id", userID), slog.String("feature", rec.RecommendedFeature))
	return models.Guidance{
		StoryAIRecommendation: rec,
		ExternalAgents:        agents,
		PersonalizedMessage:   PersonalizedMessage(query, rec, agents),
	}
}

// HandleMessage 处理向导请求。
func (g *Guide) HandleMessage(ctx context.Context, env *messaging.Envelope) (messaging.Payload, error) {
	if g.acknowledge(env) {
		return nil, nil
	}
	payload, err := g.decode(env, "user_id", "query")
	if err != nil {
		return nil, err
	}
	guidance := g.Guidance(ctx, payload.String("user_id"), payload.String("query"), payload["user_history"])
	return messaging.Payload{
		"success":              true,
		"recommended_feature":  guidance.StoryAIRecommendation.RecommendedFeature,
		"explanation":          guidance.StoryAIRecommendation.Explanation,
		"next_steps":           guidance.StoryAIRecommendation.NextSteps,
		"external_agents":      guidance.ExternalAgents,
		"personalized_message": guidance.PersonalizedMessage,
	}, nil
}

func recommendPrompt(query string, history any) string {
	var historyContext string
	if rendered := renderContext(history); rendered != "" {
		historyContext = "\nUser's recent platform activity:\n" + rendered + "\n"
	}
	return fmt.Sprintf(`As the Story.AI Guide, you help users navigate the platform's features.
Given the following user query, recommend the most appropriate feature and provide a brief explanation.

User query: "%s"
%s
Available features in Story.AI:
1. Journaling - The user can write journal entries and receive analysis of emotions, sentiments, and therapeutic insights.
2. Exercises - Customized mental well-being exercises including morning reflections, CBT exercises, gratitude practices, and more.
3. Therapy Chat - A conversation with an AI therapist that uses CBT, mindfulness, and self-reflection techniques.
4. Community Support - Connect with others on similar mental health journeys (if applicable).
5. Resource Library - Articles and videos about mental well-being (if applicable).

Format your response as a JSON object with the following structure:
{
  "recommended_feature": "name of the feature",
  "explanation": "brief explanation of why this feature is recommended",
  "next_steps": "specific next steps for the user to take"
}
`, query, historyContext)
}

// renderContext 把任意上下文渲染为提示词文本，空值返回空串。
func renderContext(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if len(v) == 0 {
			return ""
		}
	case []any:
		if len(v) == 0 {
			return ""
		}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(encoded)
}
