// Package agent is the control process: it turns desired-state documents
// into queued tasks, runs them one at a time against the privileged worker,
// and keeps the reported-state document current.
//
// Every mutation of the update engine and the reported document happens on
// the queue worker goroutine. Readers such as the local API go through a task
// too, so a report never observes a half-applied document.
package agent
