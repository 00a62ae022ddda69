package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// RetentionTarget selects run logs in Dir whose names match Pattern.
// Exclude lists paths never removed (the current run). KeepNewest spares
// that many of the most recent matches regardless of age, so a device that
// was off for weeks still has its last runs on disk.
type RetentionTarget struct {
	Dir        string
	Pattern    string
	Exclude    []string
	KeepNewest int
}

type runLog struct {
	path    string
	modTime time.Time
}

// CleanupOldLogs removes run logs older than retentionDays and returns the
// removed paths. Zero retentionDays disables pruning.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) []string {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var removed []string
	for _, target := range targets {
		for _, candidate := range expiredRunLogs(target, cutoff) {
			if err := os.Remove(candidate); err != nil {
				WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
					String("path", candidate),
					Error(err),
					String(FieldErrorHint, "check file permissions and log_dir ownership"),
					String(FieldImpact, "old run log remains on disk"))
				continue
			}
			removed = append(removed, candidate)
		}
	}
	if len(removed) > 0 && logger != nil {
		logger.Info("run logs pruned",
			String(FieldEventType, "log_pruned"),
			Int("removed", len(removed)),
			Int("retention_days", retentionDays))
	}
	return removed
}

// expiredRunLogs lists regular files matching target that are older than
// cutoff, minus exclusions and the KeepNewest most recent matches.
func expiredRunLogs(target RetentionTarget, cutoff time.Time) []string {
	dir := strings.TrimSpace(target.Dir)
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	excluded := make(map[string]bool, len(target.Exclude))
	for _, path := range target.Exclude {
		if abs, err := filepath.Abs(strings.TrimSpace(path)); err == nil {
			excluded[abs] = true
		}
	}
	pattern := strings.TrimSpace(target.Pattern)

	var logs []runLog
	for _, entry := range entries {
		// Skip the <name>.log pointer and anything else that is not a plain file.
		if !entry.Type().IsRegular() {
			continue
		}
		if pattern != "" {
			if ok, err := filepath.Match(pattern, entry.Name()); err != nil || !ok {
				continue
			}
		}
		path, err := filepath.Abs(filepath.Join(dir, entry.Name()))
		if err != nil || excluded[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		logs = append(logs, runLog{path: path, modTime: info.ModTime()})
	}

	slices.SortFunc(logs, func(a, b runLog) int { return b.modTime.Compare(a.modTime) })
	var expired []string
	for i, l := range logs {
		if i < target.KeepNewest || !l.modTime.Before(cutoff) {
			continue
		}
		expired = append(expired, l.path)
	}
	return expired
}
