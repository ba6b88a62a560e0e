package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"StoryAI/internal/agent"
	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/models"
	"StoryAI/internal/storage"
)

type journalRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

type exerciseRequest struct {
	UserID               string   `json:"user_id"`
	KeyThemes            []string `json:"key_themes"`
	CognitiveDistortions []string `json:"cognitive_distortions"`
	DominantEmotion      string   `json:"dominant_emotion"`
}

type gratitudeRequest struct {
	UserID          string   `json:"user_id"`
	JournalText     string   `json:"journal_text"`
	KeyThemes       []string `json:"key_themes"`
	DominantEmotion string   `json:"dominant_emotion"`
}

type therapyRequest struct {
	UserID  string `json:"user_id"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

type guideRequest struct {
	UserID      string `json:"user_id"`
	Query       string `json:"query"`
	UserHistory any    `json:"user_history"`
}

type assistantRequest struct {
	UserID  string `json:"user_id"`
	Query   string `json:"query"`
	Context any    `json:"context"`
}

type workflowRequest struct {
	UserID             string   `json:"user_id"`
	ProjectDescription string   `json:"project_description"`
	Requirements       []string `json:"requirements"`
	IndustryDomain     string   `json:"industry_domain"`
}

// decodeBody 解析 JSON 请求体，失败时直接写出失败响应并返回 false。
func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeResponse(w, models.Failed("Invalid request body: "+err.Error()))
		return false
	}
	return true
}

// requireFields 按顺序检查必填字段，缺失时写出失败响应。
func requireFields(w http.ResponseWriter, fields ...[2]string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			writeResponse(w, models.Failed(fmt.Sprintf("Missing required field: %s", f[0])))
			return false
		}
	}
	return true
}

func field(name, value string) [2]string { return [2]string{name, value} }

// documentOwner 校验文档查询所需的 user_id 与存储配置。
func (s *Server) documentOwner(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "Missing required field: user_id")
	}
	if s.store == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "Storage is not configured")
	}
	return userID, nil
}

// writeError 按错误码选择状态码，正文只包含错误文案。
func writeError(w http.ResponseWriter, err error) {
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
		if cause := e.Unwrap(); cause != nil {
			message += ": " + cause.Error()
		}
	}
	writeJSON(w, xerrors.HTTPStatus(err), models.Failed(message))
}

func agentMissing(w http.ResponseWriter, name string) {
	writeResponse(w, models.Failed(fmt.Sprintf("%s agent is not configured", name)))
}

func (s *Server) handleJournalAnalyze(w http.ResponseWriter, r *http.Request) {
	var req journalRequest
	if !decodeBody(w, r, &req) || !requireFields(w, field("user_id", req.UserID), field("content", req.Content)) {
		return
	}
	if s.agents.Journal == nil {
		agentMissing(w, "Journal")
		return
	}
	result, err := s.agents.Journal.Analyze(r.Context(), req.UserID, req.Content)
	if err != nil {
		writeResponse(w, models.Failed("Error analyzing journal: "+err.Error()))
		return
	}
	writeResponse(w, models.Succeeded(result, "Journal analysis completed successfully"))
}

func (s *Server) handleJournalEntries(w http.ResponseWriter, r *http.Request) {
	userID, err := s.documentOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit := storage.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.store.ListJournals(r.Context(), userID, limit)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeOf(err), err, "Error listing journal entries"))
		return
	}
	if entries == nil {
		entries = []models.JournalAnalysis{}
	}
	writeResponse(w, models.Succeeded(map[string]any{"entries": entries}, "Journal entries retrieved successfully"))
}

func (s *Server) handleExerciseGenerate(w http.ResponseWriter, r *http.Request) {
	var req exerciseRequest
	if !decodeBody(w, r, &req) || !requireFields(w, field("user_id", req.UserID)) {
		return
	}
	if s.agents.Exercise == nil {
		agentMissing(w, "Exercise")
		return
	}
	exercises := s.agents.Exercise.Generate(r.Context(), req.UserID, req.KeyThemes, req.CognitiveDistortions, req.DominantEmotion)
	writeResponse(w, models.Succeeded(exercises, "Exercises generated successfully"))
}

func (s *Server) handleGetExercises(w http.ResponseWriter, r *http.Request) {
	userID, err := s.documentOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}
	exercises, err := s.store.GetExercises(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "No exercises found for user"))
		return
	}
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeOf(err), err, "Error loading exercises"))
		return
	}
	writeResponse(w, models.Succeeded(exercises, "Exercises retrieved successfully"))
}

func (s *Server) handleGratitudeGenerate(w http.ResponseWriter, r *http.Request) {
	var req gratitudeRequest
	if !decodeBody(w, r, &req) || !requireFields(w, field("user_id", req.UserID)) {
		return
	}
	if s.agents.Gratitude == nil {
		agentMissing(w, "Gratitude")
		return
	}
	ctx := r.Context()
	text := s.agents.Gratitude.GenerateExercise(ctx, req.UserID, req.JournalText, req.KeyThemes, req.DominantEmotion)
	data := map[string]any{"gratitude_exercise": text}
	if !s.agents.Gratitude.UpdateUserExercises(ctx, req.UserID, text) {
		writeResponse(w, models.AgentResponse{Success: false, Data: data, Message: "Generated gratitude exercise but failed to update user data"})
		return
	}
	writeResponse(w, models.Succeeded(data, "Gratitude exercise generated successfully"))
}

func (s *Server) handleTherapySession(w http.ResponseWriter, r *http.Request) {
	var req therapyRequest
	if !decodeBody(w, r, &req) || !requireFields(w, field("user_id", req.UserID), field("action", req.Action)) {
		return
	}
	if s.agents.Therapy == nil {
		agentMissing(w, "Therapy")
		return
	}
	ctx := r.Context()
	switch req.Action {
	case agent.ActionStartSession:
		reply := s.agents.Therapy.StartSession(ctx, req.UserID)
		writeResponse(w, models.Succeeded(map[string]any{"message": reply}, "Therapy session started"))
	case agent.ActionContinueSession:
		if strings.TrimSpace(req.Message) == "" {
			writeResponse(w, models.Failed("Message is required for continuing a session"))
			return
		}
		reply := s.agents.Therapy.ContinueSession(ctx, req.UserID, req.Message)
		writeResponse(w, models.Succeeded(map[string]any{"message": reply}, "Therapy response generated"))
	case agent.ActionEndSession:
		closing := s.agents.Therapy.EndSession(ctx, req.UserID)
		writeResponse(w, models.Succeeded(closing, "Therapy session ended"))
	default:
		writeResponse(w, models.Failed("Invalid action: "+req.Action))
	}
}

func (s *Server) handleGuideRecommend(w http.ResponseWriter, r *http.Request) {
	var req guideRequest
	if !decodeBody(w, r, &req) || !requireFields(w, field("user_id", req.UserID), field("query", req.Query)) {
		return
	}
	if s.agents.Guide == nil {
		agentMissing(w, "Guide")
		return
	}
	guidance := s.agents.Guide.Guidance(r.Context(), req.UserID, req.Query, req.UserHistory)
	writeResponse(w, models.Succeeded(guidance, "Recommendations generated successfully"))
}

func (s *Server) handleAssistantQuery(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if !decodeBody(w, r, &req) || !requireFields(w, field("user_id", req.UserID), field("query", req.Query)) {
		return
	}
	if s.agents.Assistant == nil {
		agentMissing(w, "Assistant")
		return
	}
	response := s.agents.Assistant.ProcessQuery(r.Context(), req.UserID, req.Query, req.Context)
	writeResponse(w, models.Succeeded(response, "Query processed successfully"))
}

func (s *Server) handleWorkflowGenerate(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if !decodeBody(w, r, &req) || !requireFields(w,
		field("user_id", req.UserID),
		field("project_description", req.ProjectDescription),
		field("industry_domain", req.IndustryDomain),
	) {
		return
	}
	if len(req.Requirements) == 0 {
		writeResponse(w, models.Failed("Missing required field: requirements"))
		return
	}
	if s.agents.Workflow == nil {
		agentMissing(w, "Workflow")
		return
	}
	plan, err := s.agents.Workflow.CreatePlan(r.Context(), req.UserID, req.ProjectDescription, req.Requirements, req.IndustryDomain)
	if err != nil {
		writeResponse(w, models.Failed("Error generating workflow plan: "+err.Error()))
		return
	}
	writeResponse(w, models.Succeeded(plan, "Workflow plan generated successfully"))
}
