package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"dmagent/internal/logging"
	"dmagent/internal/wire"
)

// Handler turns a request frame into a response. Implementations must not panic
// across this boundary, though the server recovers if one does.
type Handler interface {
	Dispatch(ctx context.Context, req wire.Frame) wire.Response
}

// ServerOptions tunes the listener.
type ServerOptions struct {
	// SocketMode is applied to unix socket files. Zero leaves the umask result.
	SocketMode os.FileMode
	// AllowedUIDs restricts unix peers by uid when non-empty. Peers whose
	// credentials cannot be read are refused.
	AllowedUIDs []int
	// ExchangeTimeout bounds one read-dispatch-write cycle. Zero disables it.
	ExchangeTimeout time.Duration
}

// Server accepts command frames and answers them one connection at a time.
type Server struct {
	endpoint Endpoint
	handler  Handler
	logger   *slog.Logger
	opts     ServerOptions
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer binds the endpoint. A stale unix socket file is replaced.
func NewServer(ctx context.Context, ep Endpoint, h Handler, logger *slog.Logger, opts ServerOptions) (*Server, error) {
	if h == nil {
		return nil, errors.New("ipc server requires handler")
	}
	logger = logging.NewComponentLogger(logger, "ipc-server")
	if err := ep.CheckLocal(); err != nil {
		return nil, err
	}
	if len(opts.AllowedUIDs) > 0 && ep.Network != "unix" {
		return nil, fmt.Errorf("allowed uids need a unix socket, not %s", ep.Network)
	}

	if ep.Network == "unix" {
		if err := os.RemoveAll(ep.Address); err != nil {
			return nil, fmt.Errorf("remove existing socket: %w", err)
		}
	}
	listener, err := net.Listen(ep.Network, ep.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", ep, err)
	}
	if ep.Network == "unix" && opts.SocketMode != 0 {
		if err := os.Chmod(ep.Address, opts.SocketMode); err != nil {
			listener.Close()
			return nil, fmt.Errorf("chmod socket: %w", err)
		}
	}
	if ep.Network == "tcp" {
		// Listener may have picked a port.
		ep.Address = listener.Addr().String()
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		endpoint: ep,
		handler:  h,
		logger:   logger,
		opts:     opts,
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
	}, nil
}

// Endpoint returns the bound endpoint, with any kernel-assigned port filled in.
func (s *Server) Endpoint() Endpoint {
	return s.endpoint
}

// Serve starts the accept loop in the background.
func (s *Server) Serve() {
	s.logger.Info("command channel listening",
		logging.String("endpoint", s.endpoint.String()),
		logging.String(logging.FieldEventType, "ipc_listening"))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "one exchange dropped; listener keeps accepting"),
					logging.String(logging.FieldErrorHint, "check socket permissions"))
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
			s.handleConn(conn)
		}
	}()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	started := time.Now()
	logger := s.logger

	peer, known := peerCredentials(conn)
	if known {
		logger = logger.With(logging.Int("peer_uid", peer.UID), logging.Int("peer_pid", peer.PID))
	}
	if len(s.opts.AllowedUIDs) > 0 && (!known || !slices.Contains(s.opts.AllowedUIDs, peer.UID)) {
		logging.WarnWithContext(logger, "peer rejected", "ipc_peer_rejected",
			logging.Error(ErrPeerRejected),
			logging.Bool("credentials_known", known),
			logging.String(logging.FieldImpact, "request refused"),
			logging.String(logging.FieldErrorHint, "add the agent uid to worker.allowed_uids"))
		if known {
			s.reply(conn, logger, wire.Failure(wire.TagError, "%v (uid %d)", ErrPeerRejected, peer.UID))
		} else {
			s.reply(conn, logger, wire.Failure(wire.TagError, "%v (credentials unavailable)", ErrPeerRejected))
		}
		return
	}

	if s.opts.ExchangeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.opts.ExchangeTimeout))
	}

	req, err := wire.ReadFrame(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			logger.Debug("connection closed without request")
			return
		}
		logging.WarnWithContext(logger, "read request failed", "ipc_read_failed",
			logging.Error(err),
			logging.Bool("protocol_error", wire.IsProtocolError(err)),
			logging.String(logging.FieldImpact, "exchange aborted"))
		if wire.IsProtocolError(err) {
			s.reply(conn, logger, wire.Failure(wire.TagError, "malformed request: %v", err))
		}
		return
	}

	logger = logger.With(logging.String(logging.FieldTag, req.Tag.String()))
	resp := s.dispatch(req, logger)
	s.reply(conn, logger, resp)
	logger.Debug("exchange complete",
		logging.String("status", resp.Status.String()),
		logging.Duration("elapsed", time.Since(started)))
}

func (s *Server) dispatch(req wire.Frame, logger *slog.Logger) (resp wire.Response) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logger, "handler panicked", "ipc_handler_panic",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			resp = wire.Failure(req.Tag, "internal error: %v", r)
		}
	}()
	return s.handler.Dispatch(s.ctx, req)
}

func (s *Server) reply(conn net.Conn, logger *slog.Logger, resp wire.Response) {
	if err := wire.WriteFrame(conn, resp.Frame()); err != nil {
		logging.WarnWithContext(logger, "write response failed", "ipc_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "caller sees a transport error for this exchange"))
	}
}

// Close stops accepting, waits for the in-flight exchange, and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if s.endpoint.Network != "unix" {
		return
	}
	if err := os.RemoveAll(s.endpoint.Address); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.endpoint.Address),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale socket replaced on next start"))
	}
}
