package taskqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyCompleted is returned when a future is completed a second time.
var ErrAlreadyCompleted = errors.New("taskqueue: future already completed")

// Future is a single-assignment result slot.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete stores the outcome. Only the first call has any effect.
func (f *Future) complete(result any, err error) error {
	completed := false
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
		completed = true
	})
	if !completed {
		return ErrAlreadyCompleted
	}
	return nil
}

// Done is closed once the future holds a value.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is completed or ctx ends.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the stored value without blocking. ok is false while pending.
func (f *Future) Result() (result any, err error, ok bool) {
	select {
	case <-f.done:
		return f.result, f.err, true
	default:
		return nil, nil, false
	}
}
