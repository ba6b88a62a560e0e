package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"StoryAI/internal/messaging"
	"StoryAI/internal/models"
)

func TestGuideGuidanceCombinesSources(t *testing.T) {
	client := &stubLLM{fallback: `{"recommended_feature":"Therapy Chat","explanation":"Talking helps.","next_steps":"Open the chat."}`}
	g := NewGuide(mustIdentity(t, NameGuide, 4), client)

	guidance := g.Guidance(context.Background(), "user-1", "I can't sleep because of stress", "wrote 3 journals")
	if guidance.StoryAIRecommendation.RecommendedFeature != "Therapy Chat" {
		t.Fatalf("unexpected recommendation: %+v", guidance.StoryAIRecommendation)
	}
	if len(guidance.ExternalAgents) != 2 || guidance.ExternalAgents[0].AgentName != "Sleep Improvement Agent" {
		t.Fatalf("unexpected external agents: %+v", guidance.ExternalAgents)
	}
	want := "Based on your question about 'I can't sleep because of stress', I recommend trying our Therapy Chat feature. Talking helps. You might also find Sleep Improvement Agent and Meditation Guide Agent helpful for additional support. Open the chat."
	if guidance.PersonalizedMessage != want {
		t.Fatalf("unexpected message:\n%s\nwant:\n%s", guidance.PersonalizedMessage, want)
	}

	prompt := client.calls()[0]
	if !strings.Contains(prompt.Prompt, "User's recent platform activity:\nwrote 3 journals") || prompt.Temperature != 0.3 {
		t.Fatalf("history missing from prompt: %+v", prompt)
	}
}

func TestGuideRecommendFallback(t *testing.T) {
	g := NewGuide(mustIdentity(t, NameGuide, 4), &stubLLM{err: errors.New("down")})
	rec := g.RecommendFeature(context.Background(), "help", nil)
	if rec != FallbackRecommendation() {
		t.Fatalf("unexpected fallback: %+v", rec)
	}

	g = NewGuide(mustIdentity(t, NameGuide, 4), &stubLLM{fallback: "no json here"})
	if rec := g.RecommendFeature(context.Background(), "help", nil); rec.RecommendedFeature != "Journaling" {
		t.Fatalf("unstructured response should fall back, got %+v", rec)
	}
}

func TestGuideGuidanceCancelledContext(t *testing.T) {
	g := NewGuide(mustIdentity(t, NameGuide, 4), &stubLLM{fallback: "{}"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	guidance := g.Guidance(ctx, "user-1", "help", nil)
	if guidance.PersonalizedMessage != FallbackGuidance().PersonalizedMessage || len(guidance.ExternalAgents) != 0 {
		t.Fatalf("expected full fallback, got %+v", guidance)
	}
}

func TestPersonalizedMessageWithoutAgents(t *testing.T) {
	msg := PersonalizedMessage("focus", models.FeatureRecommendation{
		RecommendedFeature: "Exercises",
		Explanation:        "They build habits.",
		NextSteps:          "Start today.",
	}, nil)
	if msg != "Based on your question about 'focus', I recommend trying our Exercises feature. They build habits. Start today." {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestGuideHandleMessage(t *testing.T) {
	g := NewGuide(mustIdentity(t, NameGuide, 4), &stubLLM{err: errors.New("down")})
	peer := mustIdentity(t, NameAssistant, 5)
	reply, err := g.HandleMessage(context.Background(), requestEnvelope(t, peer, g.Address(), messaging.Payload{
		"user_id": "user-1",
		"query":   "meditation tips",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !reply.Bool("success") || reply.String("recommended_feature") != "Journaling" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if !strings.Contains(reply.String("personalized_message"), "Meditation Guide Agent") {
		t.Fatalf("external agents missing: %+v", reply)
	}
}
