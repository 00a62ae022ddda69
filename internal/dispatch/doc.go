// Package dispatch routes command frames to exactly one handler by tag and
// turns every handler outcome into a wire.Response.
//
// Handlers return ordinary Go errors; the dispatcher converts them, and any
// panic, into Failure responses so nothing crosses the command channel as a
// raw fault. Only a tag with no registered handler is answered on TagError.
package dispatch
