package agentapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dmagent/internal/agent"
	"dmagent/internal/desired"
	"dmagent/internal/journal"
	"dmagent/internal/logging"
	"dmagent/internal/taskqueue"
)

const maxDesiredBytes = 4 << 20

// Agent is the part of *agent.Agent the API drives.
type Agent interface {
	Status() agent.Status
	SubmitDesired(ctx context.Context, doc desired.Document) (agent.Submission, error)
	Reported(ctx context.Context) (desired.Reported, error)
	Invoke(ctx context.Context, method string) (any, error)
}

// History reads the task journal. *journal.Store satisfies it.
type History interface {
	List(ctx context.Context, opts journal.ListOptions) ([]journal.Entry, error)
	Counts(ctx context.Context) (map[journal.Status]int, error)
}

// Server is the local HTTP API.
type Server struct {
	bind    string
	logger  *slog.Logger
	agent   Agent
	history History
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

// NewServer builds the API. history may be nil.
func NewServer(bind, token string, a Agent, history History, logger *slog.Logger) *Server {
	s := &Server{
		bind:    strings.TrimSpace(bind),
		logger:  logging.NewComponentLogger(logger, "api-server"),
		agent:   a,
		history: history,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/desired", s.handleDesired)
	mux.HandleFunc("/api/reported", s.handleReported)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/methods/", s.handleMethod)
	s.handler = authMiddleware(token, mux)
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the routed, authenticated handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the bind address and serves until ctx ends or Stop.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

// Serve runs the API until ctx ends. It is the errgroup-friendly form of Start.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := StatusResponse{Agent: s.agent.Status()}
	if s.history != nil {
		counts, err := s.history.Counts(r.Context())
		if err != nil {
			s.logger.Warn("task counts unavailable", logging.Error(err))
		} else {
			resp.TaskCounts = make(map[string]int, len(counts))
			for status, n := range counts {
				resp.TaskCounts[string(status)] = n
			}
		}
		if p, ok := s.history.(interface{ Path() string }); ok {
			resp.JournalPath = p.Path()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDesired(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDesiredBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "desired document too large")
		return
	}
	doc, err := desired.Parse(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := s.agent.SubmitDesired(r.Context(), doc)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	resp := SubmitResponse{Submission: sub, Ignored: doc.Unknown}
	if wantWait(r) {
		waitErr := sub.Wait(r.Context())
		resp.Completed = r.Context().Err() == nil
		if waitErr != nil {
			resp.Error = waitErr.Error()
		}
		s.writeJSON(w, http.StatusOK, resp)
		return
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleReported(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rep, err := s.agent.Reported(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, TasksResponse{Tasks: []TaskRecord{}})
		return
	}
	query := r.URL.Query()
	opts := journal.ListOptions{Name: strings.TrimSpace(query.Get("name"))}
	if value := strings.TrimSpace(query.Get("status")); value != "" {
		status, err := journal.ParseStatus(value)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Status = status
	}
	if value := strings.TrimSpace(query.Get("limit")); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}
	entries, err := s.history.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := TasksResponse{Tasks: make([]TaskRecord, 0, len(entries))}
	for _, e := range entries {
		resp.Tasks = append(resp.Tasks, fromEntry(e))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMethod(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	method := strings.TrimPrefix(r.URL.Path, "/api/methods/")
	if method == "" || strings.Contains(method, "/") {
		s.writeError(w, http.StatusNotFound, "method not found")
		return
	}
	result, err := s.agent.Invoke(r.Context(), method)
	if err != nil {
		if errors.Is(err, agent.ErrUnknownMethod) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		logging.WarnWithContext(s.logger, "method failed", "api_method_failed",
			logging.String("method", method),
			logging.Error(err))
		s.writeJSON(w, statusFor(err), MethodResponse{Method: method, Result: result, Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, MethodResponse{Method: method, Result: result})
}

func wantWait(r *http.Request) bool {
	v := r.URL.Query().Get("wait")
	return v == "1" || strings.EqualFold(v, "true")
}

// statusFor maps agent errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, taskqueue.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
