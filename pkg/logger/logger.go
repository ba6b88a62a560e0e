package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Redacted replaces the value of every attribute listed in Config.Redact.
const Redacted = "[REDACTED]"

// DefaultRedact lists attribute keys that never reach a log sink in clear
// text: provider credentials, the identity seed and raw user writing.
var DefaultRedact = []string{"api_key", "authorization", "seed_phrase", "journal_text", "content"}

// Config describes how the process-wide loggers behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	// Service is attached to every record as the "service" attribute.
	Service   string
	AddSource bool
	// Redact overrides DefaultRedact when non-nil.
	Redact []string
	Audit  AuditConfig
}

// AuditConfig controls the audit stream, which records every API request and
// every envelope an agent handles.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type state struct {
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
	// explicit marks loggers installed by Init rather than by lazy defaults.
	explicit bool
}

var (
	mu      sync.Mutex
	current *state
)

// Init installs the process-wide loggers, replacing any lazily created
// defaults. Only the first successful call takes effect; later calls report
// an error and leave the loggers untouched.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil && current.explicit {
		return errors.New("logger already initialised")
	}

	st, err := build(cfg)
	if err != nil {
		return err
	}
	if current != nil {
		st.closers = append(current.closers, st.closers...)
	}
	st.explicit = true
	current = st
	return nil
}

func build(cfg Config) (*state, error) {
	st := &state{}
	redact := cfg.Redact
	if redact == nil {
		redact = DefaultRedact
	}
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactor(redact),
	}

	writer, closers, err := openSinks(cfg.OutputPaths)
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, closers...)
	st.app = slog.New(newHandler(cfg.Format, writer, opts))
	if cfg.Service != "" {
		st.app = st.app.With(slog.String("service", cfg.Service))
	}

	st.audit = st.app
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			closeAll(st.closers)
			return nil, errors.New("audit log path cannot be empty when enabled")
		}
		rw, err := newRotatingWriter(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.MaxAgeDays)
		if err != nil {
			closeAll(st.closers)
			return nil, err
		}
		st.closers = append(st.closers, rw)
		auditOpts := &slog.HandlerOptions{Level: slog.LevelInfo, ReplaceAttr: opts.ReplaceAttr}
		st.audit = slog.New(slog.NewJSONHandler(rw, auditOpts)).With(slog.String("log", "audit"))
	}
	return st, nil
}

// buildHandler opens the given outputs and returns a handler writing to all
// of them. The opened files are closed by Sync.
func buildHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, error) {
	writer, closers, err := openSinks(outputs)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	if current == nil {
		current = &state{}
	}
	current.closers = append(current.closers, closers...)
	mu.Unlock()
	return newHandler(format, writer, opts), nil
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func openSinks(outputs []string) (io.Writer, []io.Closer, error) {
	if len(outputs) == 0 {
		return os.Stdout, nil, nil
	}
	writers := make([]io.Writer, 0, len(outputs))
	var closers []io.Closer
	for _, out := range outputs {
		switch strings.ToLower(strings.TrimSpace(out)) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("open log file %s: %w", out, err)
			}
			writers = append(writers, file)
			closers = append(closers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], closers, nil
	}
	return io.MultiWriter(writers...), closers, nil
}

func redactor(keys []string) func([]string, slog.Attr) slog.Attr {
	if len(keys) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[strings.ToLower(key)] = struct{}{}
	}
	return func(_ []string, attr slog.Attr) slog.Attr {
		if _, ok := set[strings.ToLower(attr.Key)]; ok && attr.Value.Kind() != slog.KindGroup {
			return slog.String(attr.Key, Redacted)
		}
		return attr
	}
}

func closeAll(closers []io.Closer) error {
	var err error
	for _, c := range closers {
		err = errors.Join(err, c.Close())
	}
	return err
}

// ParseLevel maps a textual level onto slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the application logger, installing stdout JSON defaults on first
// use when Init was never called.
func L() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if current == nil || current.app == nil {
		st, err := build(Config{})
		if err != nil {
			return slog.Default()
		}
		if current != nil {
			st.closers = append(current.closers, st.closers...)
		}
		current = st
	}
	return current.app
}

// Audit returns the audit logger, which falls back to L when no audit file
// is configured.
func Audit() *slog.Logger {
	app := L()
	mu.Lock()
	defer mu.Unlock()
	if current.audit == nil {
		return app
	}
	return current.audit
}

// Sync closes every file opened by the loggers.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil
	}
	err := closeAll(current.closers)
	current.closers = nil
	return err
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Discard returns a logger that drops every record. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
