package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (e.g. "task_failed").
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldTaskID identifies a queued task.
	FieldTaskID = "task_id"
	// FieldTaskName is the human readable operation a task performs.
	FieldTaskName = "task"
	// FieldTag is the command channel tag of a request.
	FieldTag = "tag"
	// FieldManifest identifies an update unit by manifest name.
	FieldManifest = "manifest"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldSessionID identifies one run of a process.
	FieldSessionID = "session_id"
	// FieldConnectionString carries a blob store connection string; run
	// files redact it.
	FieldConnectionString = "conn_str"
)
