package agent

import (
	"context"
	"errors"
	"testing"

	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/messaging"
	"StoryAI/internal/models"
	"StoryAI/internal/registry"
)

type stubAnalyzer struct {
	sentiment models.SentimentAnalysis
	emotions  models.EmotionAnalysis
	err       error
}

func (s stubAnalyzer) Sentiment(context.Context, string) (models.SentimentAnalysis, error) {
	return s.sentiment, s.err
}

func (s stubAnalyzer) Emotions(context.Context, string) (models.EmotionAnalysis, error) {
	return s.emotions, s.err
}

const insightsReply = "```json\n" + `{
  "summary": "A hopeful day at work",
  "key_themes": ["work", "hope"],
  "cognitive_distortions": ["catastrophizing"],
  "growth_indicators": ["resilience"],
  "reflection_questions": ["What went well?"],
  "actionable_advice": ["Take breaks"]
}` + "\n```"

func TestJournalAnalyzeSavesAndForwards(t *testing.T) {
	client := &stubLLM{replies: map[string]string{"therapeutic insights": insightsReply}}
	store := newMemoryStore(t)
	bus := messaging.NewBus(messaging.NewRouter())
	dir := registry.NewDirectory()
	exercise := newCapture(t, NameExercise, 1)
	wire(bus, dir, NameExercise, exercise.id.Address(), exercise)

	j := NewJournal(mustIdentity(t, NameJournal, 0), client,
		WithStore(store),
		WithBus(bus),
		WithDirectory(dir),
		WithAnalyzer(stubAnalyzer{
			sentiment: models.SentimentAnalysis{Score: 0.92, Label: "positive"},
			emotions:  models.EmotionAnalysis{Emotions: map[string]float64{"joy": 0.8}, DominantEmotion: "joy"},
		}),
	)

	result, err := j.Analyze(context.Background(), "user-1", "Today went better than expected.")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.ID == "" {
		t.Fatalf("expected saved document id")
	}
	if result.Insights.Summary != "A hopeful day at work" || len(result.Insights.KeyThemes) != 2 {
		t.Fatalf("unexpected insights: %+v", result.Insights)
	}
	if result.SentimentAnalysis.Label != "positive" || result.EmotionAnalysis.DominantEmotion != "joy" {
		t.Fatalf("unexpected analysis: %+v", result)
	}

	calls := client.calls()
	if len(calls) != 1 || calls[0].Temperature != 0.2 {
		t.Fatalf("expected one insights call at 0.2, got %+v", calls)
	}

	forwarded := exercise.wait(t)
	if forwarded.String("user_id") != "user-1" || forwarded.String("dominant_emotion") != "joy" {
		t.Fatalf("unexpected forwarded payload: %+v", forwarded)
	}
	if themes := forwarded.Strings("key_themes"); len(themes) != 2 || themes[0] != "work" {
		t.Fatalf("unexpected forwarded themes: %+v", themes)
	}
	if distortions := forwarded.Strings("cognitive_distortions"); len(distortions) != 1 {
		t.Fatalf("unexpected forwarded distortions: %+v", distortions)
	}

	saved, err := store.ListJournals(context.Background(), "user-1", 5)
	if err != nil || len(saved) != 1 {
		t.Fatalf("expected one saved journal, got %d (%v)", len(saved), err)
	}
}

func TestJournalAnalyzeFallsBack(t *testing.T) {
	fallbacks := &recordingFallbacks{}
	j := NewJournal(mustIdentity(t, NameJournal, 0), &stubLLM{err: errors.New("quota exceeded")},
		WithFallbackObserver(fallbacks),
	)

	result, err := j.Analyze(context.Background(), "user-1", "Long day.")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.SentimentAnalysis.Label != "neutral" || result.EmotionAnalysis.DominantEmotion != "neutral" {
		t.Fatalf("expected neutral fallbacks, got %+v", result)
	}
	if result.Insights.Summary != "Summary not available" || result.Insights.KeyThemes == nil {
		t.Fatalf("expected default insights, got %+v", result.Insights)
	}
	ops := fallbacks.list()
	if len(ops) != 3 || ops[2] != "journal:insights" {
		t.Fatalf("unexpected fallbacks: %v", ops)
	}
}

func TestJournalAnalyzeRejectsEmptyInput(t *testing.T) {
	j := NewJournal(mustIdentity(t, NameJournal, 0), &stubLLM{})
	if _, err := j.Analyze(context.Background(), "user-1", "   "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	if _, err := j.Analyze(context.Background(), "", "text"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestJournalHandleMessageReplies(t *testing.T) {
	client := &stubLLM{replies: map[string]string{"therapeutic insights": insightsReply}}
	j := NewJournal(mustIdentity(t, NameJournal, 0), client, WithAnalyzer(stubAnalyzer{
		sentiment: models.SentimentAnalysis{Score: 0.1, Label: "negative"},
		emotions:  models.EmotionAnalysis{DominantEmotion: "sadness"},
	}))
	peer := mustIdentity(t, NameAssistant, 5)

	reply, err := j.HandleMessage(context.Background(), requestEnvelope(t, peer, j.Address(), messaging.Payload{
		"user_id":      "user-1",
		"journal_text": "I feel low.",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !reply.Bool("success") || reply.String("message") != "Journal analysis completed successfully" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if reply.String("sentiment") != "negative" || reply.String("dominant_emotion") != "sadness" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}
