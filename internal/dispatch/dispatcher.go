package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"dmagent/internal/logging"
	"dmagent/internal/wire"
)

// ErrInvalidRequest marks a payload that failed decoding or validation.
var ErrInvalidRequest = errors.New("invalid request")

// Func handles the raw payload of one request and returns the encoded body.
type Func func(ctx context.Context, payload []byte) ([]byte, error)

type route struct {
	version uint32
	fn      Func
}

// Dispatcher maps tags to handlers.
type Dispatcher struct {
	routes map[wire.Tag]route
	logger *slog.Logger
}

// New returns an empty dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		routes: make(map[wire.Tag]route),
		logger: logging.NewComponentLogger(logger, "dispatch"),
	}
}

// Register binds fn to tag for requests of the given payload version.
// Registering a tag twice replaces the earlier handler.
func (d *Dispatcher) Register(tag wire.Tag, version uint32, fn Func) {
	d.routes[tag] = route{version: version, fn: fn}
}

// Tags lists registered tags in numeric order.
func (d *Dispatcher) Tags() []wire.Tag {
	tags := make([]wire.Tag, 0, len(d.routes))
	for tag := range d.routes {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

// Dispatch runs the handler for req.Tag and always returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, req wire.Frame) wire.Response {
	logger := d.logger.With(logging.String(logging.FieldTag, req.Tag.String()))
	r, ok := d.routes[req.Tag]
	if !ok {
		logging.WarnWithContext(logger, "unknown command tag", "dispatch_unknown_tag",
			logging.Uint64("raw_tag", uint64(req.Tag)),
			logging.String(logging.FieldImpact, "request answered with error tag"),
			logging.String(logging.FieldErrorHint, "agent and worker versions may differ"))
		return wire.Failure(wire.TagError, "unknown command tag %d", uint32(req.Tag))
	}
	if req.Version != r.version {
		logging.WarnWithContext(logger, "command version mismatch", "dispatch_version_mismatch",
			logging.Uint64("request_version", uint64(req.Version)),
			logging.Uint64("handler_version", uint64(r.version)),
			logging.String(logging.FieldImpact, "request refused"))
		return wire.Failure(req.Tag, "version mismatch: request v%d, handler v%d", req.Version, r.version)
	}

	started := time.Now()
	body, err := invoke(ctx, r.fn, req.Payload)
	if err != nil {
		var pe *panicError
		if errors.As(err, &pe) {
			logging.ErrorWithContext(logger, "handler panicked", "dispatch_handler_panic",
				logging.Any("panic", pe.value),
				logging.String("stack", string(pe.stack)))
		}
		logging.WarnWithContext(logger, "command failed", "dispatch_command_failed",
			logging.Error(err),
			logging.Duration("elapsed", time.Since(started)),
			logging.String(logging.FieldImpact, "failure returned to agent"))
		return wire.Failure(req.Tag, "%s", err.Error())
	}
	logger.Debug("command handled", logging.Duration("elapsed", time.Since(started)), logging.Int("body_bytes", len(body)))
	return wire.Success(req.Tag, body)
}

func invoke(ctx context.Context, fn Func, payload []byte) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			body = nil
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn(ctx, payload)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("handler panic: %v", e.value) }

// Typed adapts a function over JSON request/response types into a Func.
// An empty payload decodes to the zero Req.
func Typed[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) Func {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("encode response: %w", err)
		}
		return body, nil
	}
}
