package api

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/messaging"
	"StoryAI/internal/models"
	"StoryAI/internal/registry"
)

type webhookStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// handleWebhook 接收其他智能体投递的签名信封并交给消息总线处理。
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(r.PathValue("agent"))
	entry, ok := s.directory.Lookup(name)
	if !ok || s.bus == nil {
		writeJSON(w, http.StatusNotFound, webhookStatus{Status: "error", Message: "unknown agent: " + name})
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusOK, webhookStatus{Status: "error", Message: err.Error()})
		return
	}
	env, err := messaging.ParseEnvelope(raw)
	if err != nil {
		writeJSON(w, http.StatusOK, webhookStatus{Status: "error", Message: err.Error()})
		return
	}
	if env.Target != entry.Address {
		err := xerrors.Messagef(xerrors.CodeEnvelopeInvalid, "envelope target %s does not belong to %s agent", env.Target, name)
		writeJSON(w, http.StatusOK, webhookStatus{Status: "error", Message: err.Error()})
		return
	}

	if _, err := s.bus.Handle(r.Context(), env); err != nil {
		s.logger.Log(r.Context(), xerrors.LogLevel(err), "处理 webhook 信封失败",
			slog.String("agent", name),
			slog.String("sender", env.Sender),
			slog.Any("error", err),
		)
		writeJSON(w, http.StatusOK, webhookStatus{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, webhookStatus{Status: "success"})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	entries := s.directory.Entries()
	if entries == nil {
		entries = []registry.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleReadme 返回智能体的 README，format=html 时渲染为 HTML。
func (s *Server) handleReadme(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(r.PathValue("name"))
	if s.catalog == nil {
		writeJSON(w, http.StatusNotFound, models.Failed("agent catalog not configured"))
		return
	}
	spec, ok := s.catalog.Lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, models.Failed("unknown agent: "+name))
		return
	}
	readme := spec.Readme()
	if r.URL.Query().Get("format") == "html" {
		html, err := registry.RenderHTML(readme)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, models.Failed("render readme: "+err.Error()))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, html)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = io.WriteString(w, readme)
}
