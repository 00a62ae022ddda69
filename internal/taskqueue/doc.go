// Package taskqueue provides the agent's work queue: a FIFO of tasks guarded
// by one mutex and condition variable, with an enqueue gate used to open a
// graceful-shutdown window.
//
// Enqueue hands back a Future that is completed exactly once by whichever
// consumer dequeues and executes the task. Rejection by a closed gate is a
// synchronous error; nothing is inserted.
package taskqueue
