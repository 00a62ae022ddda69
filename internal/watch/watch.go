// Package watch feeds the desired-state file into the agent whenever it
// changes on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"dmagent/internal/agent"
	"dmagent/internal/desired"
	"dmagent/internal/logging"
)

// DefaultDebounce coalesces the burst of events editors emit for one save.
const DefaultDebounce = 250 * time.Millisecond

const maxDesiredBytes = 4 << 20

// Submitter accepts parsed desired-state documents. *agent.Agent satisfies it.
type Submitter interface {
	SubmitDesired(ctx context.Context, doc desired.Document) (agent.Submission, error)
}

// Watcher watches one desired-state file.
type Watcher struct {
	path     string
	submit   Submitter
	logger   *slog.Logger
	debounce time.Duration
}

// New builds a watcher for path. A non-positive debounce uses DefaultDebounce.
func New(path string, submit Submitter, logger *slog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     filepath.Clean(path),
		submit:   submit,
		logger:   logging.NewComponentLogger(logger, "desired-watch"),
		debounce: debounce,
	}
}

// Run submits the current file (when present) and then every change until ctx
// ends. The parent directory is watched so atomic renames are seen.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure desired dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.logger.Info("watching desired file",
		logging.String(logging.FieldEventType, "desired_watch_started"),
		logging.String("path", w.path))

	if _, err := os.Stat(w.path); err == nil {
		w.reload(ctx)
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debug("desired file event", logging.String("op", event.Op.String()))
				timer.Reset(w.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "fsnotify error", "desired_watch_error", logging.Error(err))
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

// Load reads, parses, and submits the file once.
func (w *Watcher) Load(ctx context.Context) (agent.Submission, error) {
	data, err := readLimited(w.path)
	if err != nil {
		return agent.Submission{}, err
	}
	doc, err := desired.Parse(data)
	if err != nil {
		return agent.Submission{}, fmt.Errorf("parse %s: %w", w.path, err)
	}
	return w.submit.SubmitDesired(ctx, doc)
}

func (w *Watcher) reload(ctx context.Context) {
	sub, err := w.Load(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		logging.WarnWithContext(w.logger, "desired file not applied", "desired_load_failed",
			logging.String("path", w.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the document and save it again"))
		return
	}
	w.logger.Info("desired file submitted",
		logging.String(logging.FieldEventType, "desired_submitted"),
		logging.String(logging.FieldCorrelationID, sub.CorrelationID),
		logging.Any("sections", sub.Sections))
}

func readLimited(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxDesiredBytes {
		return nil, fmt.Errorf("desired file %s exceeds %d bytes", path, maxDesiredBytes)
	}
	return os.ReadFile(path)
}
