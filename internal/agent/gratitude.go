package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"StoryAI/internal/identity"
	"StoryAI/internal/llm"
	"StoryAI/internal/messaging"
	"StoryAI/internal/models"
	"StoryAI/internal/storage"
)

const gratitudeFallback = "Unable to generate gratitude exercise."

var difficultEmotions = map[string]bool{
	"sadness": true,
	"anger":   true,
	"fear":    true,
	"disgust": true,
}

// Gratitude 生成感恩练习并合并到用户已有的练习中。
type Gratitude struct {
	Base
}

// NewGratitude 创建感恩练习智能体。
func NewGratitude(id *identity.Identity, client llm.Client, opts ...Option) *Gratitude {
	return &Gratitude{Base: newBase(NameGratitude, id, client, opts...)}
}

// GenerateExercise 优先以日记原文为上下文，其次使用主题。
func (g *Gratitude) GenerateExercise(ctx context.Context, userID, journalText string, themes []string, emotion string) string {
	if strings.TrimSpace(emotion) == "" {
		emotion = "neutral"
	}
	text, err := g.generateText(ctx, gratitudePrompt(journalText, themes, emotion), 0.7)
	if err != nil {
		g.fallback("gratitude_exercise", err)
		return gratitudeFallback
	}
	return text
}

// UpdateUserExercises 替换感恩练习并保留其余练习。
func (g *Gratitude) UpdateUserExercises(ctx context.Context, userID, text string) bool {
	if g.store == nil {
		g.logger.Error("未配置存储，无法更新练习", slog.String("user_id", userID))
		return false
	}
	var exercises models.Exercises
	existing, err := g.store.GetExercises(ctx, userID)
	switch {
	case err == nil && existing != nil:
		exercises = *existing
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		g.logger.Error("读取练习失败", slog.String("user_id", userID), slog.Any("error", err))
		return false
	}
	exercises.LastUpdated = nil
	if err := g.store.SaveExercises(ctx, userID, exercises.Merge(text)); err != nil {
		g.logger.Error("更新感恩练习失败", slog.String("user_id", userID), slog.Any("error", err))
		return false
	}
	g.logger.Info("感恩练习已更新", slog.String("user_id", userID))
	return true
}

// HandleMessage 处理感恩练习请求。
func (g *Gratitude) HandleMessage(ctx context.Context, env *messaging.Envelope) (messaging.Payload, error) {
	if g.acknowledge(env) {
		return nil, nil
	}
	payload, err := g.decode(env, "user_id")
	if err != nil {
		return nil, err
	}
	userID := payload.String("user_id")
	text := g.GenerateExercise(ctx, userID, payload.String("journal_text"), payload.Strings("key_themes"), payload.String("dominant_emotion"))
	ok := g.UpdateUserExercises(ctx, userID, text)
	message := "Gratitude exercise generated successfully"
	if !ok {
		message = "Failed to update gratitude exercise"
	}
	return messaging.Payload{"success": ok, "message": message}, nil
}

func gratitudePrompt(journalText string, themes []string, emotion string) string {
	var background string
	switch {
	case strings.TrimSpace(journalText) != "":
		background = "\nThe user wrote this journal entry: " + journalText
	case len(themes) > 0:
		background = "\nThe user's journal entries focus on these themes: " + strings.Join(themes, ", ")
	}
	var difficulty string
	if difficultEmotions[emotion] {
		difficulty = "\nPlease note that the user is experiencing challenging emotions, so include specific guidance\nfor finding gratitude during difficult times.\n"
	}
	return fmt.Sprintf(`Create a personalized gratitude exercise for someone experiencing %s.%s
%s
The exercise should:
1. Be specific and actionable
2. Help the user identify things they're genuinely grateful for
3. Include thoughtful prompts if they're struggling to think of things
4. Explain the benefits of gratitude practice
5. Include a structured format (e.g., writing prompts, reflection questions)
6. Be written in a warm, encouraging tone
7. Follow a clear structure with a title, introduction, steps, and conclusion
8. Be 200-300 words in length

Format the exercise in a clear, structured way that's easy to follow.
`, emotion, background, difficulty)
}
