package ipc

import (
	"errors"
	"fmt"
)

// ErrPeerRejected is logged when a connecting process is not on the allow list.
var ErrPeerRejected = errors.New("ipc: peer not permitted")

// ErrNotLocal is returned for tcp endpoints other machines could reach.
var ErrNotLocal = errors.New("ipc: tcp endpoint must use a loopback host")

// TransportError wraps a failure to connect, write, or read on the channel.
// It is fatal to the current exchange only.
type TransportError struct {
	Op       string
	Endpoint Endpoint
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ipc %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
