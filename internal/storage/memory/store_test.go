package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"StoryAI/internal/models"
	"StoryAI/internal/storage"
)

var _ storage.Store = (*Store)(nil)

func journal(user, content string, ts time.Time) models.JournalAnalysis {
	return models.JournalAnalysis{
		JournalEntry: models.JournalEntry{UserID: user, Content: content, Timestamp: ts},
	}
}

func TestStoreJournalsNewestFirst(t *testing.T) {
	t.Parallel()

	store, err := New()
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 7; i++ {
		if _, err := store.SaveJournal(ctx, journal("u1", string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("save journal: %v", err)
		}
	}
	if _, err := store.SaveJournal(ctx, journal("u2", "other", base)); err != nil {
		t.Fatalf("save journal: %v", err)
	}

	list, err := store.ListJournals(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("list journals: %v", err)
	}
	if len(list) != storage.DefaultListLimit {
		t.Fatalf("expected %d entries, got %d", storage.DefaultListLimit, len(list))
	}
	if list[0].JournalEntry.Content != "g" || list[4].JournalEntry.Content != "c" {
		t.Fatalf("unexpected order: %q .. %q", list[0].JournalEntry.Content, list[4].JournalEntry.Content)
	}
	if list[0].ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestStoreJournalPersistence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(WithJournalPersistence(dir))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.SaveJournal(ctx, journal("u1", "first", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.SaveJournal(ctx, journal("u1", "second", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored, err := New(WithJournalPersistence(dir))
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	list, err := restored.ListJournals(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].JournalEntry.Content != "second" {
		t.Fatalf("unexpected restored journals: %+v", list)
	}
}

func TestStoreExercises(t *testing.T) {
	t.Parallel()

	store, _ := New()
	ctx := context.Background()

	if _, err := store.GetExercises(ctx, "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	initial := models.Exercises{MorningReflection: models.Exercise{Text: "reflect"}}
	if err := store.SaveExercises(ctx, "u1", initial); err != nil {
		t.Fatalf("save exercises: %v", err)
	}
	got, err := store.GetExercises(ctx, "u1")
	if err != nil {
		t.Fatalf("get exercises: %v", err)
	}
	if got.LastUpdated == nil || got.MorningReflection.Text != "reflect" {
		t.Fatalf("unexpected exercises: %+v", got)
	}

	if err := store.SaveExercises(ctx, "u1", got.Merge("be grateful")); err != nil {
		t.Fatalf("update exercises: %v", err)
	}
	got, _ = store.GetExercises(ctx, "u1")
	if got.GratitudeExercise.Text != "be grateful" || got.MorningReflection.Text != "reflect" {
		t.Fatalf("merge lost fields: %+v", got)
	}
}

func TestStoreSessionsAndPlans(t *testing.T) {
	t.Parallel()

	store, _ := New()
	ctx := context.Background()

	id, err := store.SaveTherapySession(ctx, models.TherapySession{UserID: "u1", SessionSummary: "ok"})
	if err != nil || id == "" {
		t.Fatalf("save session: id=%q err=%v", id, err)
	}

	for _, title := range []string{"one", "two"} {
		if _, err := store.SaveWorkflowPlan(ctx, models.WorkflowPlan{UserID: "u1", Title: title}); err != nil {
			t.Fatalf("save plan: %v", err)
		}
	}
	plans, err := store.ListWorkflowPlans(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if len(plans) != 1 || plans[0].Title != "two" {
		t.Fatalf("unexpected plans: %+v", plans)
	}
}
