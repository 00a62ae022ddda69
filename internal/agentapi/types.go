package agentapi

import (
	"time"

	"dmagent/internal/agent"
	"dmagent/internal/journal"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Agent       agent.Status   `json:"agent"`
	TaskCounts  map[string]int `json:"taskCounts,omitempty"`
	JournalPath string         `json:"journalPath,omitempty"`
}

// SubmitResponse is the body of PUT /api/desired.
type SubmitResponse struct {
	Submission agent.Submission `json:"submission"`
	Ignored    []string         `json:"ignoredSections,omitempty"`
	Completed  bool             `json:"completed"`
	Error      string           `json:"error,omitempty"`
}

// TaskRecord is one row of GET /api/tasks.
type TaskRecord struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"taskId"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMS int64     `json:"durationMs"`
}

// TasksResponse is the body of GET /api/tasks.
type TasksResponse struct {
	Tasks []TaskRecord `json:"tasks"`
}

// MethodResponse is the body of POST /api/methods/{method}.
type MethodResponse struct {
	Method string `json:"method"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
}

func fromEntry(e journal.Entry) TaskRecord {
	return TaskRecord{
		ID:         e.ID,
		TaskID:     e.TaskID,
		Name:       e.Name,
		Status:     string(e.Status),
		Error:      e.Error,
		EnqueuedAt: e.EnqueuedAt,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
		DurationMS: e.Duration.Milliseconds(),
	}
}
