package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	httpRequests = newCounterVec("story_http_requests_total",
		"Total number of HTTP requests processed.", "handler", "method", "code")
	httpErrors = newCounterVec("story_http_request_errors_total",
		"Total number of HTTP requests that resulted in a server error.", "handler", "method")
	httpLatency = newHistogramVec("story_http_request_duration_seconds",
		"HTTP request duration in seconds.", "handler", "method")
)

// ObserveHTTPRequest records one served request. handler is the matched route
// pattern, never the raw path, so user ids do not explode the label space.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.inc(handler, method, strconv.Itoa(status))
	if status >= http.StatusInternalServerError {
		httpErrors.inc(handler, method)
	}
	httpLatency.observe(duration.Seconds(), handler, method)
}

// Handler exposes every registered metric in Prometheus text format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultRegistry.render())
	})
}

// StartServer serves /metrics on a dedicated address until ctx is cancelled.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
