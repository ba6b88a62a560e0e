package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"StoryAI/internal/identity"
	"StoryAI/internal/llm"
	"StoryAI/internal/messaging"
	"StoryAI/internal/models"
)

const (
	morningReflectionFallback = "Unable to generate morning reflection exercise."
	cbtExerciseFallback       = "Unable to generate CBT exercise."
)

var (
	defaultThemes      = []string{"self-reflection", "personal growth"}
	defaultDistortions = []string{"negative thinking", "overgeneralization"}
)

// Exercise 根据日记洞察生成晨间反思与 CBT 练习。
type Exercise struct {
	Base
}

// NewExercise 创建练习生成智能体。
func NewExercise(id *identity.Identity, client llm.Client, opts ...Option) *Exercise {
	return &Exercise{Base: newBase(NameExercise, id, client, opts...)}
}

// MorningReflection 生成晨间反思练习。
func (e *Exercise) MorningReflection(ctx context.Context, themes []string, emotion string) string {
	prompt := fmt.Sprintf(`Create a morning reflection exercise tailored to someone experiencing %s
and focused on the following themes from their journal: %s.

The exercise should:
1. Be specific and actionable
2. Take 5-10 minutes to complete
3. Include step-by-step instructions
4. Have a clear purpose/benefit
5. Be written in a warm, encouraging tone
6. Follow a clear structure with a title, introduction, steps, and conclusion
7. Be 200-300 words in length

Format the exercise in a clear, structured way that's easy to follow.
`, emotion, strings.Join(themes, ", "))
	text, err := e.generateText(ctx, prompt, 0.7)
	if err != nil {
		e.fallback("morning_reflection", err)
		return morningReflectionFallback
	}
	return text
}

// CBTExercise 生成针对认知扭曲的 CBT 练习。
func (e *Exercise) CBTExercise(ctx context.Context, distortions []string, emotion string) string {
	prompt := fmt.Sprintf(`Create a Cognitive Behavioral Therapy (CBT) exercise tailored to someone experiencing %s
and showing these cognitive distortions: %s.

The exercise should:
1. Be specific and actionable
2. Focus on identifying and challenging negative thought patterns
3. Include a thought record template or similar structured approach
4. Take 10-15 minutes to complete
5. Be written in a supportive, non-judgmental tone
6. Follow a clear structure with a title, introduction, steps, and conclusion
7. Be 200-300 words in length

Format the exercise in a clear, structured way that's easy to follow.
`, emotion, strings.Join(distortions, ", "))
	text, err := e.generateText(ctx, prompt, 0.7)
	if err != nil {
		e.fallback("cbt_exercise", err)
		return cbtExerciseFallback
	}
	return text
}

// Generate 生成练习并保存，随后通知感恩智能体补充感恩练习。
func (e *Exercise) Generate(ctx context.Context, userID string, themes, distortions []string, emotion string) models.Exercises {
	if len(themes) == 0 {
		themes = defaultThemes
	}
	if len(distortions) == 0 {
		distortions = defaultDistortions
	}
	if strings.TrimSpace(emotion) == "" {
		emotion = "neutral"
	}

	exercises := models.Exercises{
		MorningReflection: models.Exercise{Text: e.MorningReflection(ctx, themes, emotion)},
		CBTExercise:       models.Exercise{Text: e.CBTExercise(ctx, distortions, emotion)},
	}

	if e.store != nil {
		if err := e.store.SaveExercises(ctx, userID, exercises); err != nil {
			e.logger.Error("保存练习失败", slog.String("user_id", userID), slog.Any("error", err))
		} else {
			e.logger.Info("练习已保存", slog.String("user_id", userID))
		}
	}

	if err := e.forward(ctx, NameGratitude, messaging.Payload{
		"user_id":          userID,
		"key_themes":       themes,
		"dominant_emotion": emotion,
	}); err != nil {
		e.logger.Warn("触发感恩练习失败", slog.String("user_id", userID), slog.Any("error", err))
	}
	return exercises
}

// HandleMessage 处理练习生成请求。
func (e *Exercise) HandleMessage(ctx context.Context, env *messaging.Envelope) (messaging.Payload, error) {
	if e.acknowledge(env) {
		return nil, nil
	}
	payload, err := e.decode(env, "user_id")
	if err != nil {
		return nil, err
	}
	exercises := e.Generate(ctx,
		payload.String("user_id"),
		payload.Strings("key_themes"),
		payload.Strings("cognitive_distortions"),
		payload.String("dominant_emotion"),
	)
	return messaging.Payload{
		"success":                      true,
		"message":                      "Exercise generation completed successfully",
		"morning_reflection_generated": exercises.MorningReflection.Text != "",
		"cbt_exercise_generated":       exercises.CBTExercise.Text != "",
	}, nil
}
