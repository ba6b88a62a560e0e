package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"StoryAI/internal/analysis"
	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/identity"
	"StoryAI/internal/llm"
	"StoryAI/internal/messaging"
	"StoryAI/internal/models"
)

var insightsStructure = map[string]any{
	"summary":               "A concise summary of the journal entry",
	"key_themes":            []string{"Theme 1", "Theme 2", "Theme 3"},
	"cognitive_distortions": []string{"Distortion 1", "Distortion 2"},
	"growth_indicators":     []string{"Growth indicator 1", "Growth indicator 2"},
	"reflection_questions":  []string{"Question 1?", "Question 2?", "Question 3?"},
	"actionable_advice":     []string{"Advice 1", "Advice 2", "Advice 3"},
}

// Journal 分析日记并驱动后续的练习生成。
type Journal struct {
	Base
}

// NewJournal 创建日记分析智能体。
func NewJournal(id *identity.Identity, client llm.Client, opts ...Option) *Journal {
	return &Journal{Base: newBase(NameJournal, id, client, opts...)}
}

// Analyze 完成情感、情绪与洞察分析，保存结果并通知练习智能体。
func (j *Journal) Analyze(ctx context.Context, userID, text string) (*models.JournalAnalysis, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "user_id is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "journal text is required")
	}

	sentiment, err := analysis.SafeSentiment(ctx, j.analyzer, text)
	if err != nil {
		j.fallback("sentiment", err)
	}
	emotions, err := analysis.SafeEmotions(ctx, j.analyzer, text)
	if err != nil {
		j.fallback("emotions", err)
	}

	var insights models.JournalInsight
	if err := j.generateInto(ctx, insightsPrompt(text, sentiment, emotions), insightsStructure, 0.2, &insights); err != nil {
		j.fallback("insights", err)
		insights = models.JournalInsight{}
	}
	insights.Normalize()

	result := &models.JournalAnalysis{
		JournalEntry:      models.NewJournalEntry(userID, text),
		SentimentAnalysis: sentiment,
		EmotionAnalysis:   emotions,
		Insights:          insights,
	}

	if j.store != nil {
		id, err := j.store.SaveJournal(ctx, *result)
		if err != nil {
			j.logger.Error("保存日记分析失败", slog.String("user_id", userID), slog.Any("error", err))
		} else {
			result.ID = id
			j.logger.Info("日记分析已保存", slog.String("document_id", id))
		}
	}

	if err := j.forward(ctx, NameExercise, messaging.Payload{
		"user_id":               userID,
		"key_themes":            insights.KeyThemes,
		"cognitive_distortions": insights.CognitiveDistortions,
		"dominant_emotion":      emotions.DominantEmotion,
	}); err != nil {
		j.logger.Warn("触发练习生成失败", slog.String("user_id", userID), slog.Any("error", err))
	}
	return result, nil
}

// HandleMessage 处理来自其他智能体的日记分析请求。
func (j *Journal) HandleMessage(ctx context.Context, env *messaging.Envelope) (messaging.Payload, error) {
	if j.acknowledge(env) {
		return nil, nil
	}
	payload, err := j.decode(env, "journal_text", "user_id")
	if err != nil {
		return nil, err
	}
	result, err := j.Analyze(ctx, payload.String("user_id"), payload.String("journal_text"))
	if err != nil {
		return nil, err
	}
	return messaging.Payload{
		"success":          true,
		"message":          "Journal analysis completed successfully",
		"sentiment":        result.SentimentAnalysis.Label,
		"dominant_emotion": result.EmotionAnalysis.DominantEmotion,
	}, nil
}

func insightsPrompt(text string, sentiment models.SentimentAnalysis, emotions models.EmotionAnalysis) string {
	return fmt.Sprintf(`Please analyze the following journal entry and provide therapeutic insights.

Journal Entry: %s

Sentiment: %s (Score: %.2f)
Dominant Emotion: %s

Provide a compassionate, therapeutic analysis that includes:
1. A brief summary of the journal entry
2. Key themes present in the text
3. Any cognitive distortions that might be present
4. Growth indicators or positive aspects
5. Thoughtful reflection questions for the writer
6. Practical, actionable advice
`, text, sentiment.Label, sentiment.Score, emotions.DominantEmotion)
}
