package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// backupStamp orders lexically the same way it orders in time.
const backupStamp = "20060102T150405.000000000"

// rotatingWriter appends to a single file and, once it grows past maxSize,
// renames it to "<path>.<timestamp>" and starts a fresh one. Backups beyond
// maxBackups or older than maxAge are pruned after every rotation.
type rotatingWriter struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
	now        func() time.Time

	file *os.File
	size int64
}

func newRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rotatingWriter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &rotatingWriter{
		path:       path,
		maxSize:    int64(orDefault(maxSizeMB, 100)) << 20,
		maxBackups: orDefault(maxBackups, 7),
		maxAge:     time.Duration(orDefault(maxAgeDays, 30)) * 24 * time.Hour,
		now:        time.Now,
	}, nil
}

func orDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	if w.file == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFile()
}

func (w *rotatingWriter) closeFile() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file, w.size = nil, 0
	return err
}

func (w *rotatingWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file, w.size = file, info.Size()
	return nil
}

func (w *rotatingWriter) rotate() error {
	if err := w.closeFile(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}

	backup := w.path + "." + w.now().UTC().Format(backupStamp)
	for i := 1; fileExists(backup); i++ {
		backup = fmt.Sprintf("%s.%s-%d", w.path, w.now().UTC().Format(backupStamp), i)
	}
	if err := os.Rename(w.path, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	w.prune()
	return nil
}

// prune removes backups past the retention limits, newest first wins.
func (w *rotatingWriter) prune() {
	backups, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	cutoff := w.now().Add(-w.maxAge)
	for i, backup := range backups {
		if i >= w.maxBackups {
			_ = os.Remove(backup)
			continue
		}
		if info, err := os.Stat(backup); err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(backup)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
