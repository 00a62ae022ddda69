package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dmagent/internal/agent"
	"dmagent/internal/desired"
	"dmagent/internal/logging"
	"dmagent/internal/watch"
)

type recorder struct {
	mu   sync.Mutex
	docs []desired.Document
	ch   chan struct{}
}

func newRecorder() *recorder { return &recorder{ch: make(chan struct{}, 16)} }

func (r *recorder) SubmitDesired(_ context.Context, doc desired.Document) (agent.Submission, error) {
	r.mu.Lock()
	r.docs = append(r.docs, doc)
	r.mu.Unlock()
	r.ch <- struct{}{}
	return agent.Submission{CorrelationID: "c", Sections: doc.Sections()}, nil
}

func (r *recorder) wait(t *testing.T) desired.Document {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for submission")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[len(r.docs)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

func writeAtomic(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
}

func TestWatcherSubmitsExistingAndChangedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "desired.json")
	if err := os.WriteFile(path, []byte(`{"timeInfo":{"timeZone":"UTC"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := newRecorder()
	w := watch.New(path, rec, logging.NewNop(), 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	doc := rec.wait(t)
	if doc.TimeInfo == nil || doc.TimeInfo.TimeZone != "UTC" {
		t.Fatalf("unexpected initial document %+v", doc)
	}

	writeAtomic(t, path, `{"rebootInfo":{"singleRebootTime":"2026-05-01T02:00:00Z"}}`)
	doc = rec.wait(t)
	if doc.RebootInfo == nil {
		t.Fatalf("expected rebootInfo after change, got %+v", doc)
	}
}

func TestWatcherIgnoresMalformedDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "desired.json")

	rec := newRecorder()
	w := watch.New(path, rec, logging.NewNop(), 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeAtomic(t, path, `{"timeInfo":`)
	time.Sleep(200 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("malformed document must not be submitted")
	}

	writeAtomic(t, path, `{"timeInfo":{"timeZone":"Europe/Berlin"}}`)
	doc := rec.wait(t)
	if doc.TimeInfo == nil || doc.TimeInfo.TimeZone != "Europe/Berlin" {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestLoadMissingFile(t *testing.T) {
	w := watch.New(filepath.Join(t.TempDir(), "absent.json"), newRecorder(), logging.NewNop(), 0)
	if _, err := w.Load(context.Background()); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
