package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"StoryAI/internal/messaging"
	"StoryAI/internal/models"
	"StoryAI/internal/registry"
)

func TestExerciseGenerateUsesDefaultsAndForwards(t *testing.T) {
	client := &stubLLM{replies: map[string]string{
		"morning reflection exercise": "Morning: breathe.",
		"Cognitive Behavioral Therapy": "CBT: thought record.",
	}}
	store := newMemoryStore(t)
	bus := messaging.NewBus(messaging.NewRouter())
	dir := registry.NewDirectory()
	gratitude := newCapture(t, NameGratitude, 2)
	wire(bus, dir, NameGratitude, gratitude.id.Address(), gratitude)

	e := NewExercise(mustIdentity(t, NameExercise, 1), client, WithStore(store), WithBus(bus), WithDirectory(dir))
	exercises := e.Generate(context.Background(), "user-1", nil, nil, "")

	if exercises.MorningReflection.Text != "Morning: breathe." || exercises.CBTExercise.Text != "CBT: thought record." {
		t.Fatalf("unexpected exercises: %+v", exercises)
	}
	if exercises.GratitudeExercise.Text != "" || exercises.MindfulnessMeditation.Text != "" {
		t.Fatalf("other exercises should be empty: %+v", exercises)
	}

	calls := client.calls()
	if len(calls) != 2 {
		t.Fatalf("expected two llm calls, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Prompt, "self-reflection, personal growth") || !strings.Contains(calls[0].Prompt, "experiencing neutral") {
		t.Fatalf("default themes missing from prompt: %s", calls[0].Prompt)
	}
	if !strings.Contains(calls[1].Prompt, "negative thinking, overgeneralization") || calls[1].Temperature != 0.7 {
		t.Fatalf("default distortions missing from prompt: %+v", calls[1])
	}

	saved, err := store.GetExercises(context.Background(), "user-1")
	if err != nil || saved.CBTExercise.Text != "CBT: thought record." {
		t.Fatalf("expected saved exercises, got %+v (%v)", saved, err)
	}

	forwarded := gratitude.wait(t)
	if forwarded.String("dominant_emotion") != "neutral" || len(forwarded.Strings("key_themes")) != 2 {
		t.Fatalf("unexpected forwarded payload: %+v", forwarded)
	}
}

func TestExerciseFallbackTexts(t *testing.T) {
	e := NewExercise(mustIdentity(t, NameExercise, 1), &stubLLM{err: errors.New("down")})
	exercises := e.Generate(context.Background(), "user-1", []string{"work"}, []string{"labeling"}, "fear")
	if exercises.MorningReflection.Text != morningReflectionFallback || exercises.CBTExercise.Text != cbtExerciseFallback {
		t.Fatalf("unexpected fallbacks: %+v", exercises)
	}
}

func TestExerciseHandleMessage(t *testing.T) {
	e := NewExercise(mustIdentity(t, NameExercise, 1), &stubLLM{fallback: "text"})
	peer := mustIdentity(t, NameJournal, 0)
	reply, err := e.HandleMessage(context.Background(), requestEnvelope(t, peer, e.Address(), messaging.Payload{
		"user_id":    "user-1",
		"key_themes": []string{"work"},
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.String("message") != "Exercise generation completed successfully" ||
		!reply.Bool("morning_reflection_generated") || !reply.Bool("cbt_exercise_generated") {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestGratitudePromptContext(t *testing.T) {
	prompt := gratitudePrompt("I walked by the sea.", []string{"family"}, "sadness")
	if !strings.Contains(prompt, "The user wrote this journal entry: I walked by the sea.") {
		t.Fatalf("journal context missing: %s", prompt)
	}
	if strings.Contains(prompt, "family") {
		t.Fatalf("themes should be ignored when journal text is present")
	}
	if !strings.Contains(prompt, "finding gratitude during difficult times") {
		t.Fatalf("difficulty guidance missing")
	}

	prompt = gratitudePrompt("", []string{"family", "health"}, "joy")
	if !strings.Contains(prompt, "focus on these themes: family, health") {
		t.Fatalf("theme context missing: %s", prompt)
	}
	if strings.Contains(prompt, "difficult times") {
		t.Fatalf("difficulty guidance should only apply to challenging emotions")
	}
}

func TestGratitudeMergesExistingExercises(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	if err := store.SaveExercises(ctx, "user-1", models.Exercises{
		MorningReflection: models.Exercise{Text: "morning"},
		CBTExercise:       models.Exercise{Text: "cbt", Completed: true},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	g := NewGratitude(mustIdentity(t, NameGratitude, 2), &stubLLM{fallback: "Three good things."}, WithStore(store))
	peer := mustIdentity(t, NameExercise, 1)
	reply, err := g.HandleMessage(ctx, requestEnvelope(t, peer, g.Address(), messaging.Payload{
		"user_id":          "user-1",
		"key_themes":       []string{"work"},
		"dominant_emotion": "joy",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !reply.Bool("success") || reply.String("message") != "Gratitude exercise generated successfully" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	saved, err := store.GetExercises(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if saved.GratitudeExercise.Text != "Three good things." || saved.MorningReflection.Text != "morning" || !saved.CBTExercise.Completed {
		t.Fatalf("merge lost data: %+v", saved)
	}
}

func TestGratitudeWithoutExistingExercises(t *testing.T) {
	store := newMemoryStore(t)
	g := NewGratitude(mustIdentity(t, NameGratitude, 2), &stubLLM{err: errors.New("down")}, WithStore(store))

	text := g.GenerateExercise(context.Background(), "user-2", "", nil, "")
	if text != gratitudeFallback {
		t.Fatalf("expected fallback text, got %q", text)
	}
	if !g.UpdateUserExercises(context.Background(), "user-2", text) {
		t.Fatalf("expected update to succeed")
	}
	saved, err := store.GetExercises(context.Background(), "user-2")
	if err != nil || saved.GratitudeExercise.Text != gratitudeFallback || saved.MorningReflection.Text != "" {
		t.Fatalf("unexpected saved exercises: %+v (%v)", saved, err)
	}
}

func TestGratitudeWithoutStoreReportsFailure(t *testing.T) {
	g := NewGratitude(mustIdentity(t, NameGratitude, 2), &stubLLM{fallback: "text"})
	peer := mustIdentity(t, NameExercise, 1)
	reply, err := g.HandleMessage(context.Background(), requestEnvelope(t, peer, g.Address(), messaging.Payload{"user_id": "u"}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.Bool("success") || reply.String("message") != "Failed to update gratitude exercise" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}
