// Package story is a Go client for the Story.AI REST API.
package story

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Agent calls wait on a language model, so it is longer
// than a typical REST timeout.
const DefaultHTTPTimeout = 90 * time.Second

// Therapy session actions.
const (
	ActionStartSession    = "start_session"
	ActionContinueSession = "continue_session"
	ActionEndSession      = "end_session"
)

// Client wraps the HTTP interactions with the Story.AI REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Response mirrors the envelope returned by every capability route.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Decode unmarshals the data field into out.
func (r *Response) Decode(out any) error {
	if r == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// JournalRequest asks the journal agent to analyze an entry.
type JournalRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// ExerciseRequest asks the exercise agent for new exercises.
type ExerciseRequest struct {
	UserID               string   `json:"user_id"`
	KeyThemes            []string `json:"key_themes,omitempty"`
	CognitiveDistortions []string `json:"cognitive_distortions,omitempty"`
	DominantEmotion      string   `json:"dominant_emotion,omitempty"`
}

// GratitudeRequest asks the gratitude agent for an exercise.
type GratitudeRequest struct {
	UserID          string   `json:"user_id"`
	JournalText     string   `json:"journal_text,omitempty"`
	KeyThemes       []string `json:"key_themes,omitempty"`
	DominantEmotion string   `json:"dominant_emotion,omitempty"`
}

// TherapyRequest drives a therapy conversation.
type TherapyRequest struct {
	UserID  string `json:"user_id"`
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
}

// GuideRequest asks the guide for feature recommendations.
type GuideRequest struct {
	UserID      string `json:"user_id"`
	Query       string `json:"query"`
	UserHistory any    `json:"user_history,omitempty"`
}

// QueryRequest sends a free-form question to the personalized assistant.
type QueryRequest struct {
	UserID  string `json:"user_id"`
	Query   string `json:"query"`
	Context any    `json:"context,omitempty"`
}

// WorkflowRequest asks the workflow planner for a plan.
type WorkflowRequest struct {
	UserID             string   `json:"user_id"`
	ProjectDescription string   `json:"project_description"`
	Requirements       []string `json:"requirements"`
	IndustryDomain     string   `json:"industry_domain"`
}

// Health is the payload of GET /health.
type Health struct {
	Status string `json:"status"`
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("story api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the Story.AI API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AgentInfo is one entry of GET /api/agents.
type AgentInfo struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Address  string `json:"address"`
	Endpoint string `json:"endpoint"`
}

// Agents lists the agents hosted by the server.
func (c *Client) Agents(ctx context.Context) ([]AgentInfo, error) {
	var agents []AgentInfo
	if err := c.get(ctx, "/api/agents", nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// Health checks whether the server is up.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.get(ctx, "/health", nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// AnalyzeJournal calls POST /api/journal/analyze.
func (c *Client) AnalyzeJournal(ctx context.Context, req JournalRequest) (*Response, error) {
	return c.call(ctx, "/api/journal/analyze", req)
}

// JournalEntries lists the most recent analyzed entries of a user.
func (c *Client) JournalEntries(ctx context.Context, userID string, limit int) (*Response, error) {
	query := url.Values{"user_id": {userID}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp Response
	if err := c.get(ctx, "/api/journal/entries", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateExercises calls POST /api/exercise/generate.
func (c *Client) GenerateExercises(ctx context.Context, req ExerciseRequest) (*Response, error) {
	return c.call(ctx, "/api/exercise/generate", req)
}

// Exercises returns the current exercises of a user.
func (c *Client) Exercises(ctx context.Context, userID string) (*Response, error) {
	var resp Response
	if err := c.get(ctx, "/api/exercise", url.Values{"user_id": {userID}}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateGratitude calls POST /api/gratitude/generate.
func (c *Client) GenerateGratitude(ctx context.Context, req GratitudeRequest) (*Response, error) {
	return c.call(ctx, "/api/gratitude/generate", req)
}

// TherapySession calls POST /api/therapy/session.
func (c *Client) TherapySession(ctx context.Context, req TherapyRequest) (*Response, error) {
	return c.call(ctx, "/api/therapy/session", req)
}

// Recommend calls POST /api/guide/recommend.
func (c *Client) Recommend(ctx context.Context, req GuideRequest) (*Response, error) {
	return c.call(ctx, "/api/guide/recommend", req)
}

// Query calls POST /api/assistant/query.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*Response, error) {
	return c.call(ctx, "/api/assistant/query", req)
}

// GenerateWorkflow calls POST /api/workflow/generate.
func (c *Client) GenerateWorkflow(ctx context.Context, req WorkflowRequest) (*Response, error) {
	return c.call(ctx, "/api/workflow/generate", req)
}

func (c *Client) call(ctx context.Context, endpoint string, payload any) (*Response, error) {
	var resp Response
	if err := c.post(ctx, endpoint, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
