// Package ipc carries command frames between the agent and the privileged
// worker over a local duplex byte channel (a unix socket, or loopback TCP
// where sockets are unavailable).
//
// Every connection carries exactly one exchange: one request frame, one
// response frame, then close. The server handles connections one at a time
// and survives any single bad exchange.
package ipc
