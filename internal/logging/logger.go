package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dmagent/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string
	OutputPaths []string
	Development bool
	SessionID   string
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	outputWriter, err := openWriters(defaultSlice(opts.OutputPaths, []string{"stderr"}))
	if err != nil {
		return nil, err
	}

	addSource := opts.Development || level <= slog.LevelDebug

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = newJSONHandler(outputWriter, levelVar, addSource)
	case "console":
		handler = newPrettyHandler(outputWriter, levelVar, addSource)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	if id := strings.TrimSpace(opts.SessionID); id != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String(FieldSessionID, id)})
	}

	return slog.New(handler), nil
}

// NewFromConfig creates a logger writing to stderr and to a run-stamped file
// under log_dir, with <log_dir>/<name>.log pointing at the current run.
func NewFromConfig(cfg *config.Config, name, sessionID string) (*slog.Logger, error) {
	logger, _, err := NewRunLogger(cfg, name, sessionID)
	return logger, err
}

// runLogsKept is how many recent run logs survive retention regardless of age.
const runLogsKept = 3

// NewRunLogger is NewFromConfig that also returns the run log path, which is
// empty when no log_dir is configured. The console follows logging.format;
// the run file is always JSON so it can be filtered by task_id and
// correlation_id. Run logs older than the configured retention are pruned.
func NewRunLogger(cfg *config.Config, name, sessionID string) (*slog.Logger, string, error) {
	if cfg == nil {
		logger, err := New(Options{Level: "info", Format: "console", SessionID: sessionID})
		return logger, "", err
	}

	console, err := New(Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, "", err
	}
	if cfg.Paths.LogDir == "" {
		return console, "", nil
	}

	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("ensure log directory: %w", err)
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("%s-%s.log", name, runID))
	file, err := openWriters([]string{logPath})
	if err != nil {
		return nil, "", err
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(cfg.Logging.Level))
	fileHandler := newJSONHandler(file, levelVar, false).WithAttrs([]slog.Attr{
		slog.String("process", name),
	})
	if id := strings.TrimSpace(sessionID); id != "" {
		fileHandler = fileHandler.WithAttrs([]slog.Attr{slog.String(FieldSessionID, id)})
	}
	logger := TeeLogger(console, fileHandler)

	if err := ensureCurrentLogPointer(filepath.Join(cfg.Paths.LogDir, name+".log"), logPath); err != nil {
		WarnWithContext(logger, "unable to update current log link", "log_link_failed",
			String("path", logPath),
			Error(err),
			String(FieldImpact, name+".log may point at an older run"))
	}
	CleanupOldLogs(logger, cfg.Logging.RetentionDays, RetentionTarget{
		Dir:        cfg.Paths.LogDir,
		Pattern:    name + "-*.log",
		Exclude:    []string{logPath},
		KeepNewest: runLogsKept,
	})
	return logger, logPath, nil
}

func ensureCurrentLogPointer(current, target string) error {
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultSlice(value []string, fallback []string) []string {
	if len(value) == 0 {
		return append([]string(nil), fallback...)
	}
	return append([]string(nil), value...)
}

func openWriters(paths []string) (io.Writer, error) {
	seen := map[string]struct{}{}
	var writers []io.Writer

	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}

		switch trimmed {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if dir := filepath.Dir(trimmed); dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("ensure log dir for %s: %w", trimmed, err)
				}
			}
			file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", trimmed, err)
			}
			writers = append(writers, file)
		}
	}

	switch len(writers) {
	case 0:
		return os.Stderr, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}
