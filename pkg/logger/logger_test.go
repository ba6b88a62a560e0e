package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBuildHandlerWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "story.log")
	handler, err := buildHandler("json", []string{path}, &slog.HandlerOptions{Level: slog.LevelInfo})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	slog.New(handler).With(slog.String("component", "journal")).Info("journal analysed", slog.String("user_id", "u1"))

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatalf("expected a log line")
	}
	var record map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["component"] != "journal" || record["user_id"] != "u1" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writer, err := newRotatingWriter(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer writer.Close()

	chunk := make([]byte, 600*1024)
	for i := range chunk {
		chunk[i] = 'a'
	}
	for i := 0; i < 3; i++ {
		if _, err := writer.Write(chunk); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	matches, err := filepath.Glob(path + "*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) < 2 {
		t.Fatalf("expected rotated backups, got %v", matches)
	}
}

func TestRotatingWriterPrunesOldBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writer, err := newRotatingWriter(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer writer.Close()

	clock := time.Now()
	writer.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	chunk := bytes.Repeat([]byte{'b'}, 700*1024)
	for i := 0; i < 5; i++ {
		if _, err := writer.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	backups, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups to survive, got %v", backups)
	}
}

func TestRedactorMasksSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: redactor(DefaultRedact)}))
	log.Info("agent configured",
		slog.String("agent", "journal"),
		slog.String("api_key", "secret"),
		slog.String("Journal_Text", "dear diary"),
	)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record["api_key"] != Redacted || record["Journal_Text"] != Redacted {
		t.Fatalf("sensitive values leaked: %v", record)
	}
	if record["agent"] != "journal" {
		t.Fatalf("plain attribute altered: %v", record)
	}
}

func TestDiscardDropsRecords(t *testing.T) {
	if Discard().Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("discard logger should not be enabled")
	}
}
