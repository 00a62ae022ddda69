package taskqueue

import (
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Enqueue while the enqueue gate is closed.
var ErrQueueClosed = errors.New("taskqueue: enqueue disabled")

// Queue is a FIFO of tasks. It is safe for any number of producers and consumers.
// Consumers and drain waiters share one condition variable, so every state
// change broadcasts.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []*Task
	allowed bool
	now     func() time.Time
}

// New returns an open, empty queue.
func New() *Queue {
	q := &Queue{allowed: true, now: time.Now}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends task at the tail and returns its future. When the gate is
// closed the task is not inserted and ErrQueueClosed is returned.
func (q *Queue) Enqueue(task *Task) (*Future, error) {
	if task == nil {
		return nil, errors.New("taskqueue: nil task")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.allowed {
		return nil, ErrQueueClosed
	}
	q.push(task)
	return task.future, nil
}

// enqueueInternal inserts past a closed gate. Used by the owner of the queue
// to wake a consumer during shutdown.
func (q *Queue) enqueueInternal(task *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.push(task)
}

func (q *Queue) push(task *Task) {
	task.Enqueued = q.now()
	q.items = append(q.items, task)
	q.cond.Broadcast()
}

// Dequeue removes and returns the head of the queue, blocking until one exists.
func (q *Queue) Dequeue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	return q.pop()
}

func (q *Queue) pop() *Task {
	task := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.cond.Broadcast()
	}
	return task
}

// TryDequeue is the non-blocking form of Dequeue.
func (q *Queue) TryDequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.pop(), true
}

// DisableEnqueue closes the gate. Queued tasks remain and still drain.
func (q *Queue) DisableEnqueue() {
	q.mu.Lock()
	q.allowed = false
	q.cond.Broadcast()
	q.mu.Unlock()
}

// EnableEnqueue reopens the gate.
func (q *Queue) EnableEnqueue() {
	q.mu.Lock()
	q.allowed = true
	q.mu.Unlock()
}

// IsActive reports whether the queue still has work or may receive more.
func (q *Queue) IsActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0 || q.allowed
}

// Accepting reports whether the enqueue gate is open.
func (q *Queue) Accepting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allowed
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// WaitInactive blocks until the gate is closed and the queue is empty.
func (q *Queue) WaitInactive() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) > 0 || q.allowed {
		q.cond.Wait()
	}
}
