package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"StoryAI/internal/llm"
	"StoryAI/internal/messaging"
	"StoryAI/internal/models"
	"StoryAI/internal/session"
	"StoryAI/internal/storage"
)

type recordingStore struct {
	storage.Store
	mu       sync.Mutex
	sessions []models.TherapySession
	plans    []models.WorkflowPlan
}

func (r *recordingStore) SaveTherapySession(ctx context.Context, s models.TherapySession) (string, error) {
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
	return r.Store.SaveTherapySession(ctx, s)
}

func (r *recordingStore) SaveWorkflowPlan(ctx context.Context, p models.WorkflowPlan) (string, error) {
	r.mu.Lock()
	r.plans = append(r.plans, p)
	r.mu.Unlock()
	return r.Store.SaveWorkflowPlan(ctx, p)
}

func TestTherapySessionLifecycle(t *testing.T) {
	client := &stubLLM{
		replies:  map[string]string{"professional therapy session summary": "Client discussed work stress."},
		fallback: "That sounds hard. What happened next?",
	}
	store := &recordingStore{Store: newMemoryStore(t)}
	sessions := session.NewMemoryStore()
	th := NewTherapy(mustIdentity(t, NameTherapy, 3), client, WithStore(store), WithSessions(sessions))
	ctx := context.Background()

	if got := th.StartSession(ctx, "user-1"); got != TherapyGreeting {
		t.Fatalf("unexpected greeting %q", got)
	}
	reply := th.ContinueSession(ctx, "user-1", "Work has been overwhelming.")
	if reply != "That sounds hard. What happened next?" {
		t.Fatalf("unexpected reply %q", reply)
	}

	calls := client.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one llm call, got %d", len(calls))
	}
	req := calls[0]
	if !strings.Contains(req.System, "Cognitive Behavioral Therapy") || req.Temperature != 0.7 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Content != TherapyOpening || req.Messages[1].Role != llm.RoleAssistant {
		t.Fatalf("history not forwarded: %+v", req.Messages)
	}
	if req.Prompt != "Work has been overwhelming." {
		t.Fatalf("unexpected prompt %q", req.Prompt)
	}

	closing := th.EndSession(ctx, "user-1")
	if closing.ClosingMessage != TherapyClosing || closing.SessionSummary != "Client discussed work stress." {
		t.Fatalf("unexpected closing: %+v", closing)
	}
	summaryPrompt := client.calls()[1]
	if !strings.Contains(summaryPrompt.Prompt, "User: Work has been overwhelming.") ||
		!strings.Contains(summaryPrompt.Prompt, "Therapist: "+TherapyGreeting) || summaryPrompt.Temperature != 0.3 {
		t.Fatalf("unexpected summary prompt: %+v", summaryPrompt)
	}
	if len(store.sessions) != 1 || len(store.sessions[0].Messages) != 4 {
		t.Fatalf("expected saved session with 4 messages, got %+v", store.sessions)
	}
	if _, ok, _ := sessions.Conversation(ctx, "user-1"); ok {
		t.Fatalf("session should be deleted after ending")
	}
}

func TestTherapyContinueWithoutSessionStartsOne(t *testing.T) {
	client := &stubLLM{fallback: "unused"}
	th := NewTherapy(mustIdentity(t, NameTherapy, 3), client)
	if got := th.ContinueSession(context.Background(), "user-1", "hello"); got != TherapyGreeting {
		t.Fatalf("expected greeting, got %q", got)
	}
	if len(client.calls()) != 0 {
		t.Fatalf("starting a session should not call the model")
	}
}

func TestTherapyEndWithoutSession(t *testing.T) {
	th := NewTherapy(mustIdentity(t, NameTherapy, 3), &stubLLM{})
	closing := th.EndSession(context.Background(), "nobody")
	if closing.ClosingMessage != TherapyNoSession || closing.SessionSummary != "" {
		t.Fatalf("unexpected closing: %+v", closing)
	}
}

func TestTherapyFallbacks(t *testing.T) {
	th := NewTherapy(mustIdentity(t, NameTherapy, 3), &stubLLM{err: errors.New("down")})
	ctx := context.Background()
	th.StartSession(ctx, "user-1")
	if got := th.ContinueSession(ctx, "user-1", "hi"); got != therapyReplyFallback {
		t.Fatalf("unexpected fallback %q", got)
	}
	closing := th.EndSession(ctx, "user-1")
	if closing.ClosingMessage != therapyClosingFailure || closing.SessionSummary != therapySummaryFailure {
		t.Fatalf("unexpected closing fallback: %+v", closing)
	}
}

func TestTherapyFailedTurnIsNotRecorded(t *testing.T) {
	client := &stubLLM{err: errors.New("down"), fallback: "Let's slow down together."}
	sessions := session.NewMemoryStore()
	th := NewTherapy(mustIdentity(t, NameTherapy, 3), client, WithSessions(sessions))
	ctx := context.Background()

	th.StartSession(ctx, "user-1")
	if got := th.ContinueSession(ctx, "user-1", "I can't sleep."); got != therapyReplyFallback {
		t.Fatalf("unexpected fallback %q", got)
	}

	client.mu.Lock()
	client.err = nil
	client.mu.Unlock()
	if got := th.ContinueSession(ctx, "user-1", "I still can't sleep."); got != "Let's slow down together." {
		t.Fatalf("unexpected reply %q", got)
	}

	calls := client.calls()
	if len(calls) != 2 || len(calls[1].Messages) != 2 {
		t.Fatalf("failed turn leaked into history: %+v", calls)
	}
	conv, ok, err := sessions.Conversation(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("session lost: %v", err)
	}
	if len(conv.Messages) != 4 || conv.Messages[2].Content != "I still can't sleep." {
		t.Fatalf("unexpected transcript: %+v", conv.Messages)
	}
}

func TestTherapyHandleMessageActions(t *testing.T) {
	th := NewTherapy(mustIdentity(t, NameTherapy, 3), &stubLLM{fallback: "ok"})
	peer := mustIdentity(t, NameAssistant, 5)
	ctx := context.Background()

	reply, err := th.HandleMessage(ctx, requestEnvelope(t, peer, th.Address(), messaging.Payload{"user_id": "u", "action": ActionStartSession}))
	if err != nil || reply.String("message") != TherapyGreeting {
		t.Fatalf("unexpected start reply: %+v (%v)", reply, err)
	}

	reply, err = th.HandleMessage(ctx, requestEnvelope(t, peer, th.Address(), messaging.Payload{"user_id": "u", "action": ActionEndSession}))
	if err != nil || reply.String("closing_message") != TherapyClosing || reply.String("session_summary") != "ok" {
		t.Fatalf("unexpected end reply: %+v (%v)", reply, err)
	}

	reply, err = th.HandleMessage(ctx, requestEnvelope(t, peer, th.Address(), messaging.Payload{"user_id": "u", "action": "dance"}))
	if err != nil || reply.Bool("success") || reply.String("message") != "Invalid action: dance" {
		t.Fatalf("unexpected invalid-action reply: %+v (%v)", reply, err)
	}
}
