package taskqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dmagent/internal/logging"
)

// Hooks observe task execution. Any field may be nil.
type Hooks struct {
	Started  func(task *Task)
	Finished func(task *Task, result any, err error, elapsed time.Duration)
}

// Worker is the single consumer that executes tasks in FIFO order.
type Worker struct {
	queue  *Queue
	logger *slog.Logger
	hooks  Hooks

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stop    *Task
}

// NewWorker binds a consumer to q.
func NewWorker(q *Queue, logger *slog.Logger, hooks Hooks) *Worker {
	return &Worker{
		queue:  q,
		logger: logging.NewComponentLogger(logger, "worker-loop"),
		hooks:  hooks,
	}
}

// Start launches the consumer goroutine. ctx is passed to every task; it is
// not used to abort the loop, which only ends through Stop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.done = make(chan struct{})
	w.stop = NewTask("stop", nil)
	go w.loop(context.WithoutCancel(ctx), w.stop, w.done)
}

func (w *Worker) loop(ctx context.Context, stop *Task, done chan struct{}) {
	defer close(done)
	for {
		task := w.queue.Dequeue()
		if task == stop {
			return
		}
		w.execute(ctx, task)
	}
}

func (w *Worker) execute(ctx context.Context, task *Task) {
	if w.hooks.Started != nil {
		w.hooks.Started(task)
	}
	taskCtx := logging.WithTaskID(ctx, task.ID, task.Name)
	logger := logging.WithContext(taskCtx, w.logger)
	logger.Debug("task started", logging.Duration("queued_for", time.Since(task.Enqueued)))

	started := time.Now()
	result, err := task.Execute(taskCtx)
	elapsed := time.Since(started)
	if err != nil {
		logging.WarnWithContext(logger, "task failed", "task_failed",
			logging.Error(err),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldImpact, "operation not applied; retried on next sync"),
		)
	} else {
		logger.Info("task completed", logging.Duration("elapsed", elapsed), logging.String(logging.FieldEventType, "task_completed"))
	}
	if w.hooks.Finished != nil {
		w.hooks.Finished(task, result, err, elapsed)
	}
}

// Stop closes the enqueue gate, lets every queued task drain, then joins the
// consumer. In-flight work is never abandoned. Stop reopens nothing; call
// Queue.EnableEnqueue and Start again to resume.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	done, stop := w.done, w.stop
	w.mu.Unlock()

	w.queue.DisableEnqueue()
	w.queue.WaitInactive()
	w.queue.enqueueInternal(stop)
	<-done
}
