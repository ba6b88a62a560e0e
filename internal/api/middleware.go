package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"StoryAI/internal/models"
	"StoryAI/internal/observability/metrics"
	"StoryAI/pkg/logger"
)

// statusWriter 包装 http.ResponseWriter，用于捕获响应状态码。
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

// withCORS 允许任意来源访问。
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withMetrics 记录请求指标与审计日志，路由名取自匹配的模式。
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(start)
		metrics.ObserveHTTPRequest(route, r.Method, sw.status, duration)
		logger.Audit().Info("api_request",
			slog.String("route", route),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

// withRecovery 把处理器中的 panic 转换为失败响应。POST 能力接口与 webhook 保持 200，
// 其余路由返回 500。
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			s.logger.Error("请求处理发生 panic",
				slog.String("path", r.URL.Path),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			switch {
			case r.Method != http.MethodPost:
				writeJSON(w, http.StatusInternalServerError, models.Failed("Internal server error"))
			case strings.HasSuffix(r.URL.Path, "/webhook"):
				writeJSON(w, http.StatusOK, webhookStatus{Status: "error", Message: fmt.Sprint(rec)})
			default:
				writeJSON(w, http.StatusOK, models.Failed(fmt.Sprintf("Error processing request: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func metricsHandler() http.Handler {
	return metrics.Handler()
}
