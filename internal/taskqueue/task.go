package taskqueue

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// Func performs the work of a task.
type Func func(ctx context.Context) (any, error)

// Task wraps one unit of work and the future its result is delivered through.
type Task struct {
	ID       string
	Name     string
	Enqueued time.Time

	run    Func
	future *Future
}

// NewTask builds a task with a fresh ID.
func NewTask(name string, fn Func) *Task {
	return &Task{
		ID:     uuid.NewString(),
		Name:   name,
		run:    fn,
		future: newFuture(),
	}
}

// Future returns the result slot of the task.
func (t *Task) Future() *Future {
	return t.future
}

// Execute runs the task and completes its future. A panic inside the task
// completes the future with an error instead of unwinding the caller.
func (t *Task) Execute(ctx context.Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("task %s panicked: %v\n%s", t.Name, r, debug.Stack())
		}
		_ = t.future.complete(result, err)
	}()
	if t.run == nil {
		return nil, fmt.Errorf("task %s has no function", t.Name)
	}
	return t.run(ctx)
}

// Complete fills the future without running the task. It returns
// ErrAlreadyCompleted if the task already finished.
func (t *Task) Complete(result any, err error) error {
	return t.future.complete(result, err)
}
