package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"StoryAI/internal/agent"
	"StoryAI/internal/messaging"
	"StoryAI/internal/models"
	"StoryAI/internal/registry"
	"StoryAI/internal/storage"
	"StoryAI/pkg/logger"
)

// maxBodyBytes 限制单个请求体的大小。
const maxBodyBytes = 1 << 20

// Agents 汇总对外暴露能力的智能体实例。
type Agents struct {
	Journal   *agent.Journal
	Exercise  *agent.Exercise
	Gratitude *agent.Gratitude
	Therapy   *agent.Therapy
	Guide     *agent.Guide
	Assistant *agent.Assistant
	Workflow  *agent.Workflow
}

// Server 负责暴露 REST 接口与智能体 webhook。
type Server struct {
	addr      string
	agents    Agents
	bus       *messaging.Bus
	directory *registry.Directory
	catalog   *registry.Catalog
	store     storage.Store
	logger    *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithBus 配置处理 webhook 信封的消息总线。
func WithBus(bus *messaging.Bus) Option {
	return func(s *Server) { s.bus = bus }
}

// WithDirectory 配置智能体目录。
func WithDirectory(dir *registry.Directory) Option {
	return func(s *Server) { s.directory = dir }
}

// WithCatalog 配置用于生成 README 的目录元数据。
func WithCatalog(c *registry.Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// WithStore 配置只读查询使用的存储。
func WithStore(store storage.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithLogger 替换默认日志。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, agents Agents, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		agents: agents,
		logger: logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.directory == nil {
		s.directory = registry.NewDirectory()
	}
	return s
}

// Handler 返回挂载了全部路由与中间件的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metricsHandler())

	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/agents/{name}/readme", s.handleReadme)

	mux.HandleFunc("POST /api/journal/analyze", s.handleJournalAnalyze)
	mux.HandleFunc("GET /api/journal/entries", s.handleJournalEntries)
	mux.HandleFunc("POST /api/exercise/generate", s.handleExerciseGenerate)
	mux.HandleFunc("GET /api/exercise", s.handleGetExercises)
	mux.HandleFunc("POST /api/gratitude/generate", s.handleGratitudeGenerate)
	mux.HandleFunc("POST /api/therapy/session", s.handleTherapySession)
	mux.HandleFunc("POST /api/guide/recommend", s.handleGuideRecommend)
	mux.HandleFunc("POST /api/assistant/query", s.handleAssistantQuery)
	mux.HandleFunc("POST /api/workflow/generate", s.handleWorkflowGenerate)
	mux.HandleFunc("POST /api/{agent}/webhook", s.handleWebhook)

	return withCORS(s.withMetrics(s.withRecovery(mux)))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Story.AI API", "status": "online"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeResponse(w http.ResponseWriter, resp models.AgentResponse) {
	writeJSON(w, http.StatusOK, resp)
}
