package agent

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"StoryAI/internal/messaging"
	"StoryAI/internal/registry"
	"StoryAI/internal/session"
)

func analysisReply(agent string, confidence int) string {
	return `{"recommended_agent":"` + agent + `","confidence":` + strconv.Itoa(confidence) + `,"explanation":"because","secondary_agents":[]}`
}

func TestRouteThreshold(t *testing.T) {
	cases := []struct {
		analysis QueryAnalysis
		want     string
	}{
		{QueryAnalysis{RecommendedAgent: NameJournal, Confidence: 70}, NameJournal},
		{QueryAnalysis{RecommendedAgent: NameTherapy, Confidence: 95}, NameTherapy},
		{QueryAnalysis{RecommendedAgent: NameJournal, Confidence: 69}, NameGuide},
		{QueryAnalysis{RecommendedAgent: "weather", Confidence: 99}, NameGuide},
		{QueryAnalysis{RecommendedAgent: NameWorkflow, Confidence: 99}, NameGuide},
	}
	for _, tc := range cases {
		if got := Route(tc.analysis); got != tc.want {
			t.Fatalf("Route(%+v) = %s, want %s", tc.analysis, got, tc.want)
		}
	}
}

func TestUnderstandFallback(t *testing.T) {
	a := NewAssistant(mustIdentity(t, NameAssistant, 5), &stubLLM{err: errors.New("down")})
	analysis := a.Understand(context.Background(), "hi", nil)
	if analysis.RecommendedAgent != NameGuide || analysis.Confidence != 30 ||
		analysis.Explanation != "Query analysis failed. Defaulting to guide agent." {
		t.Fatalf("unexpected fallback: %+v", analysis)
	}
}

type assistantFixture struct {
	assistant *Assistant
	sessions  *session.MemoryStore
	bus       *messaging.Bus
	dir       *registry.Directory
}

func newAssistantFixture(t *testing.T, client *stubLLM) assistantFixture {
	t.Helper()
	sessions := session.NewMemoryStore()
	bus := messaging.NewBus(messaging.NewRouter())
	dir := registry.NewDirectory()
	a := NewAssistant(mustIdentity(t, NameAssistant, 5), client,
		WithSessions(sessions), WithBus(bus), WithDirectory(dir))
	return assistantFixture{assistant: a, sessions: sessions, bus: bus, dir: dir}
}

func TestProcessQueryTherapyConversation(t *testing.T) {
	fx := newAssistantFixture(t, &stubLLM{fallback: analysisReply(NameTherapy, 90)})
	therapy := NewTherapy(mustIdentity(t, NameTherapy, 3),
		&stubLLM{replies: map[string]string{"professional therapy session summary": "summary"}, fallback: "Tell me more."},
		WithSessions(fx.sessions))
	wire(fx.bus, fx.dir, NameTherapy, therapy.Address(), therapy)
	ctx := context.Background()

	resp := fx.assistant.ProcessQuery(ctx, "user-1", "I feel anxious all the time", nil)
	if resp["message"] != TherapyGreeting {
		t.Fatalf("unexpected start response: %+v", resp)
	}
	if stage, ok, _ := fx.sessions.Stage(ctx, "user-1"); !ok || stage != session.StageTherapy {
		t.Fatalf("expected therapy stage, got %q %v", stage, ok)
	}

	resp = fx.assistant.ProcessQuery(ctx, "user-1", "It started at work", nil)
	if resp["message"] != "Tell me more." {
		t.Fatalf("unexpected continue response: %+v", resp)
	}

	resp = fx.assistant.ProcessQuery(ctx, "user-1", "Goodbye", nil)
	if resp["closing_message"] != TherapyClosing || resp["session_summary"] != "summary" {
		t.Fatalf("unexpected end response: %+v", resp)
	}
	if _, ok, _ := fx.sessions.Stage(ctx, "user-1"); ok {
		t.Fatalf("stage should be cleared after ending")
	}
}

func TestProcessQueryMissingAddress(t *testing.T) {
	fx := newAssistantFixture(t, &stubLLM{fallback: analysisReply(NameJournal, 88)})
	resp := fx.assistant.ProcessQuery(context.Background(), "user-1", "Today I wrote a lot", nil)
	if resp["error"] != "Journal agent address not configured" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestProcessQueryLowConfidenceGoesToGuide(t *testing.T) {
	fx := newAssistantFixture(t, &stubLLM{fallback: analysisReply(NameJournal, 40)})
	guide := newCapture(t, NameGuide, 4)
	guide.reply = messaging.Payload{"success": true, "recommended_feature": "Journaling"}
	wire(fx.bus, fx.dir, NameGuide, guide.id.Address(), guide)

	resp := fx.assistant.ProcessQuery(context.Background(), "user-1", "What can I do here?", map[string]any{"visits": 2})
	if resp["recommended_feature"] != "Journaling" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	sent := guide.wait(t)
	if sent.String("query") != "What can I do here?" || sent.Map("user_history") == nil {
		t.Fatalf("unexpected guide payload: %+v", sent)
	}
}

func TestProcessQueryExerciseExtractsThemes(t *testing.T) {
	fx := newAssistantFixture(t, &stubLLM{replies: map[string]string{
		"Analyze the following user query": analysisReply(NameExercise, 80),
		"Extract 3-5 key themes":           "```json\n[\"focus\", \"sleep\"]\n```",
	}})
	exercise := newCapture(t, NameExercise, 1)
	exercise.reply = messaging.Payload{"success": true}
	wire(fx.bus, fx.dir, NameExercise, exercise.id.Address(), exercise)

	resp := fx.assistant.ProcessQuery(context.Background(), "user-1", "Give me exercises for focus", nil)
	if resp["success"] != true {
		t.Fatalf("unexpected response: %+v", resp)
	}
	themes := exercise.wait(t).Strings("key_themes")
	if len(themes) != 2 || themes[0] != "focus" {
		t.Fatalf("unexpected themes: %v", themes)
	}
}

func TestExtractThemesFallback(t *testing.T) {
	a := NewAssistant(mustIdentity(t, NameAssistant, 5), &stubLLM{fallback: "focus, sleep"})
	themes := a.ExtractThemes(context.Background(), "anything")
	if len(themes) != 3 || themes[0] != "self-improvement" {
		t.Fatalf("unexpected fallback themes: %v", themes)
	}
}

func TestAssistantHandleMessageWrapsResponse(t *testing.T) {
	fx := newAssistantFixture(t, &stubLLM{fallback: analysisReply(NameGratitude, 75)})
	peer := mustIdentity(t, NameGuide, 4)
	reply, err := fx.assistant.HandleMessage(context.Background(), requestEnvelope(t, peer, fx.assistant.Address(), messaging.Payload{
		"user_id": "user-1",
		"query":   "I want to feel thankful",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	response, ok := reply["response"].(map[string]any)
	if !reply.Bool("success") || !ok || response["error"] != "Gratitude agent address not configured" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}
