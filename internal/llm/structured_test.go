package llm

import (
	"context"
	stdErrors "errors"
	"strings"
	"testing"
	"time"

	xerrors "StoryAI/internal/errors"
)

type stubClient struct {
	text     string
	err      error
	requests []Request
}

func (s *stubClient) Generate(_ context.Context, req Request) (*Response, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Text: s.text}, nil
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```":         `{"a":1}`,
		"here you go\n```\n[1,2]\n```\nok": "[1,2]",
		"  {\"plain\":true}  ":              `{"plain":true}`,
	}
	for input, want := range cases {
		if got := StripCodeFence(input); got != want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestGenerateStructuredParsesFencedJSON(t *testing.T) {
	client := &stubClient{text: "```json\n{\"summary\":\"ok\",\"key_themes\":[\"work\"]}\n```"}
	value, err := GenerateStructured(context.Background(), client, "Analyze", map[string]any{"summary": "..."}, 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		Summary   string   `json:"summary"`
		KeyThemes []string `json:"key_themes"`
	}
	if err := DecodeInto(value, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Summary != "ok" || len(out.KeyThemes) != 1 {
		t.Fatalf("unexpected decode result: %+v", out)
	}

	req := client.requests[0]
	if req.Temperature != 0.2 {
		t.Fatalf("temperature not forwarded: %v", req.Temperature)
	}
	if !strings.Contains(req.Prompt, "Please provide response in the following JSON structure:") ||
		!strings.Contains(req.Prompt, "Important: Return a valid JSON object that strictly follows this structure.") {
		t.Fatalf("structure instructions missing from prompt: %s", req.Prompt)
	}
}

func TestGenerateStructuredRawResponse(t *testing.T) {
	client := &stubClient{text: "not json at all"}
	value, err := GenerateStructured(context.Background(), client, "p", []string{"step"}, 0.3)
	if !stdErrors.Is(err, ErrUnstructured) {
		t.Fatalf("expected ErrUnstructured, got %v", err)
	}
	raw, ok := value.(map[string]any)
	if !ok || raw[RawResponseKey] != "not json at all" {
		t.Fatalf("unexpected raw value: %#v", value)
	}
}

func TestGenerateTextWrapsUpstreamErrors(t *testing.T) {
	_, err := GenerateText(context.Background(), &stubClient{err: stdErrors.New("quota")}, "p", 0.7)
	if xerrors.CodeOf(err) != xerrors.CodeLLMFailure {
		t.Fatalf("expected LLM_FAILURE, got %v", err)
	}

	_, err = GenerateText(context.Background(), &stubClient{err: context.DeadlineExceeded}, "p", 0.7)
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}

	_, err = GenerateText(context.Background(), nil, "p", 0.7)
	if xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected INITIALIZATION_FAILURE, got %v", err)
	}
}

type recordingObserver struct {
	agent   string
	outcome string
}

func (r *recordingObserver) ObserveLLMCall(agent, outcome string, _ time.Duration) {
	r.agent, r.outcome = agent, outcome
}

func TestInstrumentObservesOutcome(t *testing.T) {
	obs := &recordingObserver{}
	client := Instrument(&stubClient{err: stdErrors.New("boom")}, "journal", obs)
	if _, err := client.Generate(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatalf("expected error")
	}
	if obs.agent != "journal" || obs.outcome != "error" {
		t.Fatalf("unexpected observation: %+v", obs)
	}
}

func TestRequestConversationAppendsPrompt(t *testing.T) {
	req := Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}},
		Prompt:   "how are you",
	}
	conv := req.Conversation()
	if len(conv) != 3 || conv[2].Role != RoleUser || conv[2].Content != "how are you" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
}
