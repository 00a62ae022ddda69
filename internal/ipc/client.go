package ipc

import (
	"context"
	"net"
	"time"

	"dmagent/internal/wire"
)

// ClientOptions tunes the dialer.
type ClientOptions struct {
	DialTimeout     time.Duration
	ExchangeTimeout time.Duration
}

// Client sends one frame per connection to the worker.
type Client struct {
	endpoint Endpoint
	opts     ClientOptions
}

// NewClient returns a client for ep. No connection is made until Send.
func NewClient(ep Endpoint, opts ClientOptions) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return &Client{endpoint: ep, opts: opts}
}

// Endpoint returns the target endpoint.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Send performs one exchange. Failure responses are returned as values with a
// nil error; only transport and framing problems produce an error.
func (c *Client) Send(ctx context.Context, req wire.Frame) (wire.Response, error) {
	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, c.endpoint.Network, c.endpoint.Address)
	if err != nil {
		return wire.Response{}, &TransportError{Op: "dial", Endpoint: c.endpoint, Err: err}
	}
	defer conn.Close()

	deadline, hasDeadline := ctx.Deadline()
	if c.opts.ExchangeTimeout > 0 {
		if limit := time.Now().Add(c.opts.ExchangeTimeout); !hasDeadline || limit.Before(deadline) {
			deadline, hasDeadline = limit, true
		}
	}
	if hasDeadline {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := wire.WriteFrame(conn, req); err != nil {
		return wire.Response{}, &TransportError{Op: "write", Endpoint: c.endpoint, Err: err}
	}
	frame, err := wire.ReadFrame(conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return wire.Response{}, &TransportError{Op: "read", Endpoint: c.endpoint, Err: err}
	}
	return wire.DecodeResponse(frame)
}

// Call encodes req, performs the exchange, and decodes a successful body into
// out. A Failure response is returned as *wire.ResponseError.
func (c *Client) Call(ctx context.Context, tag wire.Tag, req any, out any) error {
	frame, err := wire.NewRequest(tag, req)
	if err != nil {
		return err
	}
	resp, err := c.Send(ctx, frame)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}
