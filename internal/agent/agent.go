package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"dmagent/internal/config"
	"dmagent/internal/desired"
	"dmagent/internal/journal"
	"dmagent/internal/logging"
	"dmagent/internal/taskqueue"
	"dmagent/internal/updates"
)

// Recorder stores finished tasks. *journal.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) (int64, error)
}

// Options wires an Agent.
type Options struct {
	Config    *config.Config
	Channel   Channel
	Fetcher   updates.Fetcher
	Journal   Recorder
	Logger    *slog.Logger
	SessionID string
	// RenewalInterval overrides the configured interval when positive.
	RenewalInterval time.Duration
}

// Agent owns the task queue, its single worker, the update engine and the
// reported document.
type Agent struct {
	cfg       *config.Config
	channel   Channel
	journal   Recorder
	logger    *slog.Logger
	sessionID string

	queue  *taskqueue.Queue
	worker *taskqueue.Worker
	engine *updates.Engine

	// reported is owned by the worker goroutine.
	reported desired.Reported

	renewalInterval time.Duration
	renewalCancel   context.CancelFunc
	renewalDone     chan struct{}

	mu        sync.Mutex
	started   time.Time
	running   bool
	submitted int
}

// Submission describes the tasks created for one desired document.
type Submission struct {
	CorrelationID string   `json:"correlationId"`
	Sections      []string `json:"sections"`
	TaskIDs       []string `json:"taskIds"`

	futures []*taskqueue.Future
}

func (s *Submission) add(section string, task *taskqueue.Task) {
	if section != "" {
		s.Sections = append(s.Sections, section)
	}
	s.TaskIDs = append(s.TaskIDs, task.ID)
	s.futures = append(s.futures, task.Future())
}

// Wait blocks until every task of the submission has finished and joins
// their errors.
func (s Submission) Wait(ctx context.Context) error {
	var errs []error
	for _, f := range s.futures {
		if _, err := f.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status is a point-in-time view of the agent for the local API.
type Status struct {
	SessionID   string    `json:"sessionId"`
	Running     bool      `json:"running"`
	Accepting   bool      `json:"accepting"`
	QueueLength int       `json:"queueLength"`
	Submitted   int       `json:"submitted"`
	StartedAt   time.Time `json:"startedAt"`
}

// New validates options and builds a stopped agent.
func New(opts Options) (*Agent, error) {
	if opts.Config == nil {
		return nil, errors.New("agent: config is required")
	}
	if opts.Channel == nil {
		return nil, errors.New("agent: channel is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("agent: blob fetcher is required")
	}
	logger := logging.NewComponentLogger(opts.Logger, "agent")
	engine, err := updates.NewEngine(updates.Options{
		ManifestsDir: opts.Config.Updates.ManifestsDir,
		ArtifactsDir: opts.Config.Updates.ArtifactsDir,
		Fetcher:      opts.Fetcher,
		Installer:    channelInstaller{ch: opts.Channel},
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	renewal := opts.RenewalInterval
	if renewal <= 0 && opts.Config.Renewal.Enabled {
		renewal = opts.Config.RenewalInterval()
	}

	a := &Agent{
		cfg:             opts.Config,
		channel:         opts.Channel,
		journal:         opts.Journal,
		logger:          logger,
		sessionID:       sessionID,
		queue:           taskqueue.New(),
		engine:          engine,
		renewalInterval: renewal,
	}
	a.reported.Agent.SessionID = sessionID
	a.worker = taskqueue.NewWorker(a.queue, opts.Logger, taskqueue.Hooks{Finished: a.recordTask})
	return a, nil
}

// Start launches the worker, queues registry recovery, and starts renewal.
// The returned future completes when the local update registry is loaded.
func (a *Agent) Start(ctx context.Context) (*taskqueue.Future, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil, errors.New("agent already running")
	}
	a.running = true
	a.started = time.Now()
	a.mu.Unlock()

	a.queue.EnableEnqueue()
	a.worker.Start(ctx)
	task, err := a.submit(ctx, "loadLocalState", "", a.loadLocalState)
	if err != nil {
		return nil, err
	}
	if a.renewalInterval > 0 {
		renewCtx, cancel := context.WithCancel(ctx)
		a.renewalCancel = cancel
		a.renewalDone = make(chan struct{})
		go a.renewalLoop(renewCtx, a.renewalInterval, a.renewalDone)
	}
	a.logger.Info("agent started",
		logging.String(logging.FieldEventType, "agent_started"),
		logging.String(logging.FieldSessionID, a.sessionID),
		logging.Duration("renewal_interval", a.renewalInterval))
	return task.Future(), nil
}

// Stop halts renewal, closes the queue gate, lets queued work drain, and
// joins the worker. Producers see taskqueue.ErrQueueClosed afterwards.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel, done := a.renewalCancel, a.renewalDone
	a.renewalCancel, a.renewalDone = nil, nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	pending := a.queue.Len()
	a.worker.Stop()
	a.logger.Info("agent stopped",
		logging.String(logging.FieldEventType, "agent_stopped"),
		logging.Int("drained_tasks", pending))
}

// Status reports queue and lifecycle state without going through the queue.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		SessionID:   a.sessionID,
		Running:     a.running,
		Accepting:   a.queue.Accepting(),
		QueueLength: a.queue.Len(),
		Submitted:   a.submitted,
		StartedAt:   a.started,
	}
}

// submit wraps fn with correlation logging and enqueues it.
func (a *Agent) submit(ctx context.Context, name, correlationID string, fn taskqueue.Func) (*taskqueue.Task, error) {
	task := taskqueue.NewTask(name, func(taskCtx context.Context) (any, error) {
		if correlationID != "" {
			taskCtx = logging.WithCorrelationID(taskCtx, correlationID)
		}
		return fn(taskCtx)
	})
	if _, err := a.queue.Enqueue(task); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, a.logger), "task rejected", "task_rejected",
			logging.String(logging.FieldTaskName, name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "work not scheduled"),
			logging.String(logging.FieldErrorHint, "agent is shutting down; resubmit after restart"))
		return nil, fmt.Errorf("submit %s: %w", name, err)
	}
	a.mu.Lock()
	a.submitted++
	a.mu.Unlock()
	return task, nil
}

// call submits fn and waits for its result.
func (a *Agent) call(ctx context.Context, name string, fn taskqueue.Func) (any, error) {
	task, err := a.submit(ctx, name, "", fn)
	if err != nil {
		return nil, err
	}
	return task.Future().Wait(ctx)
}

func (a *Agent) recordTask(task *taskqueue.Task, _ any, err error, elapsed time.Duration) {
	if a.journal == nil {
		return
	}
	finished := time.Now()
	entry := journal.Entry{
		TaskID:     task.ID,
		Name:       task.Name,
		Status:     journal.StatusSucceeded,
		EnqueuedAt: task.Enqueued,
		StartedAt:  finished.Add(-elapsed),
		FinishedAt: finished,
		Duration:   elapsed,
	}
	if err != nil {
		entry.Status = journal.StatusFailed
		entry.Error = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, recErr := a.journal.Record(ctx, entry); recErr != nil {
		logging.WarnWithContext(a.logger, "journal write failed", "journal_write_failed",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(recErr),
			logging.String(logging.FieldImpact, "task missing from history"))
	}
}
