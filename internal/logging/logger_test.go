package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dmagent/internal/config"
	"dmagent/internal/logging"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, "agent", "session-1")
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello", logging.String("key", "value"), logging.String(logging.FieldConnectionString, "BlobEndpoint=x;SharedAccessSignature=sig"))

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "agent.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("run log is not JSON: %v (%q)", err, content)
	}
	if entry["msg"] != "hello" || entry["key"] != "value" || entry["process"] != "agent" || entry[logging.FieldSessionID] != "session-1" {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if entry[logging.FieldConnectionString] != "[redacted]" || strings.Contains(string(content), "SharedAccessSignature") {
		t.Fatalf("connection string not redacted: %q", content)
	}
}

func TestNewRunLoggerPrunesOldRuns(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.RetentionDays = 1

	var stalePaths []string
	for i := range 5 {
		path := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("worker-2000010%dT000000.000Z.log", i+1))
		if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		stale := time.Now().AddDate(0, 0, -10+i)
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
		stalePaths = append(stalePaths, path)
	}

	_, logPath, err := logging.NewRunLogger(&cfg, "worker", "")
	if err != nil {
		t.Fatalf("NewRunLogger returned error: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(logPath), "worker-") {
		t.Fatalf("unexpected run log path %q", logPath)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("expected run log created: %v", err)
	}
	// The three most recent stale runs survive; the two oldest go.
	for i, path := range stalePaths {
		_, err := os.Stat(path)
		if i < 2 && !os.IsNotExist(err) {
			t.Fatalf("expected %s pruned", path)
		}
		if i >= 2 && err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}

func TestConsoleHeaderLiftsComponentAndTask(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := logging.WithTaskID(context.Background(), "abc", "sync-time")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "agent")).Info("task finished")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "INFO [agent] sync-time - task finished") {
		t.Fatalf("header not rendered as expected: %q", text)
	}
	if !strings.Contains(text, "task_id: abc") {
		t.Fatalf("expected task_id field: %q", text)
	}
	if strings.Contains(text, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", text)
	}
}

func TestJSONFormat(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("careful", logging.Error(errors.New("boom")))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry["level"] != "warn" || entry["msg"] != "careful" || entry["error"] != "boom" {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if _, err := time.Parse(time.RFC3339, entry["ts"].(string)); err != nil {
		t.Fatalf("ts not RFC3339: %v", err)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "degraded", "thing_degraded", logging.String(logging.FieldImpact, "custom impact"))

	content, _ := os.ReadFile(logPath)
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldEventType] != "thing_degraded" {
		t.Fatalf("event_type = %v", entry[logging.FieldEventType])
	}
	if entry[logging.FieldImpact] != "custom impact" {
		t.Fatalf("impact overridden: %v", entry[logging.FieldImpact])
	}
	if entry[logging.FieldErrorHint] == nil {
		t.Fatal("expected default error_hint")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "agent-old.log")
	newPath := filepath.Join(dir, "agent-new.log")
	keepPath := filepath.Join(dir, "agent-keep.log")
	otherPath := filepath.Join(dir, "worker-old.log")
	for _, p := range []string{oldPath, newPath, keepPath, otherPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	stale := time.Now().AddDate(0, 0, -10)
	for _, p := range []string{oldPath, keepPath, otherPath} {
		if err := os.Chtimes(p, stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 5, logging.RetentionTarget{Dir: dir, Pattern: "agent-*.log", Exclude: []string{keepPath}})

	if len(removed) != 1 || filepath.Base(removed[0]) != "agent-old.log" {
		t.Fatalf("removed = %v", removed)
	}
	for _, p := range []string{newPath, keepPath, otherPath} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s kept: %v", p, err)
		}
	}
}

func TestCleanupOldLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"agent-a.log", "agent-b.log"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		stale := time.Now().AddDate(0, 0, -30+i)
		if err := os.Chtimes(p, stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	removed := logging.CleanupOldLogs(logging.NewNop(), 1, logging.RetentionTarget{Dir: dir, Pattern: "agent-*.log", KeepNewest: 1})
	if len(removed) != 1 || filepath.Base(removed[0]) != "agent-a.log" {
		t.Fatalf("removed = %v, want only the oldest", removed)
	}
	if got := logging.CleanupOldLogs(logging.NewNop(), 0, logging.RetentionTarget{Dir: dir}); got != nil {
		t.Fatalf("retention 0 removed %v", got)
	}
}
