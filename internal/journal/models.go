package journal

import (
	"fmt"
	"time"
)

// Status is the outcome of one task run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusSucceeded, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// Entry is one finished task.
type Entry struct {
	ID         int64
	TaskID     string
	Name       string
	Status     Status
	Error      string
	Summary    string
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// ListOptions filters List results. Zero values mean no filter.
type ListOptions struct {
	Name   string
	Status Status
	Limit  int
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
