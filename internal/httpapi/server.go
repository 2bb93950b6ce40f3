// Package httpapi exposes a Client over HTTP/JSON.
//
// Routes:
//
//	POST /instances                          start (or join) an instance
//	GET  /instances?key=&status=             list stored instances
//	GET  /instances/{id}                     status snapshot
//	GET  /instances/{id}/awaiting-action     pending human action
//	GET  /instances/{id}/describe            lifecycle summary
//	GET  /instances/{id}/history             audit events
//	POST /instances/{id}/signals/{name}      deliver a signal
//	POST /instances/{id}/cancel              operator cancellation
//	GET  /healthz                            liveness
//
// Start, signal and cancel accept ?async=true when the server has an
// Enqueuer; the request is then queued and answered with 202.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/petrijr/reportflow/pkg/api"
)

const maxBodyBytes = 1 << 20

// Enqueuer hands requests to an asynchronous worker. *worker.Worker
// implements it.
type Enqueuer interface {
	EnqueueStart(ctx context.Context, in api.StartInput) error
	EnqueueSignal(ctx context.Context, instanceID, name string, payload api.SignalPayload) error
	EnqueueCancel(ctx context.Context, instanceID, reason string) error
}

// Server routes HTTP requests to a Client.
type Server struct {
	client api.Client
	async  Enqueuer
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithEnqueuer enables ?async=true on mutating routes.
func WithEnqueuer(e Enqueuer) Option {
	return func(s *Server) { s.async = e }
}

// WithLogger sets the logger used for unexpected errors.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Server forwarding to client.
func New(client api.Client, opts ...Option) *Server {
	s := &Server{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /instances", s.handleStart)
	mux.HandleFunc("GET /instances", s.handleList)
	mux.HandleFunc("GET /instances/{id}", s.handleStatus)
	mux.HandleFunc("GET /instances/{id}/awaiting-action", s.handleAwaitingAction)
	mux.HandleFunc("GET /instances/{id}/describe", s.handleDescribe)
	mux.HandleFunc("GET /instances/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /instances/{id}/signals/{name}", s.handleSignal)
	mux.HandleFunc("POST /instances/{id}/cancel", s.handleCancel)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStart: POST /instances
//
// Body: {"cycle_id": 9, "report_id": 156, "user_id": 7, "skip_phases": []}
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var in api.StartInput
	if !s.decode(w, r, &in) {
		return
	}

	if s.wantsAsync(r) {
		if err := s.async.EnqueueStart(r.Context(), in); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"key":    api.InstanceKey(in.CycleID, in.ReportID),
			"status": "queued",
		})
		return
	}

	id, err := s.client.Start(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"instance_id": id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.client.List(r.Context(), api.ListOptions{
		Key:    q.Get("key"),
		Status: api.Status(q.Get("status")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	type view struct {
		InstanceID   string     `json:"instance_id"`
		Status       api.Status `json:"status"`
		CurrentPhase string     `json:"current_phase"`
		CycleID      int64      `json:"cycle_id"`
		ReportID     int64      `json:"report_id"`
	}
	out := make([]view, 0, len(list))
	for _, inst := range list {
		out = append(out, view{
			InstanceID:   inst.ID,
			Status:       inst.Status,
			CurrentPhase: inst.CurrentPhase,
			CycleID:      inst.CycleID,
			ReportID:     inst.ReportID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.client.GetCurrentStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAwaitingAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action, err := s.client.GetAwaitingAction(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instance_id":     id,
		"awaiting_action": api.NullableAction(action),
	})
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	desc, err := s.client.Describe(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.client.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []api.WorkflowEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleSignal: POST /instances/{id}/signals/{name}
//
// Body: {"input_type": "...", "data": {...}, "user_id": 7, "timestamp": "..."}
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	id, name := r.PathValue("id"), r.PathValue("name")

	var payload api.SignalPayload
	if !s.decode(w, r, &payload) {
		return
	}

	if s.wantsAsync(r) {
		if err := s.async.EnqueueSignal(r.Context(), id, name, payload); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"instance_id": id, "signal": name, "status": "queued"})
		return
	}

	if err := s.client.Signal(r.Context(), id, name, payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"instance_id": id, "signal": name, "status": "buffered"})
}

// handleCancel: POST /instances/{id}/cancel
//
// Body (optional): {"reason": "..."}
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return
	}

	if s.wantsAsync(r) {
		if err := s.async.EnqueueCancel(r.Context(), id, body.Reason); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"instance_id": id, "status": "queued"})
		return
	}

	if err := s.client.Cancel(r.Context(), id, body.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"instance_id": id, "status": string(api.StatusFailed)})
}

func (s *Server) wantsAsync(r *http.Request) bool {
	return s.async != nil && r.URL.Query().Get("async") == "true"
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case api.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrInstanceTerminal),
		errors.Is(err, api.ErrSignalAlreadyConsumed),
		errors.Is(err, api.ErrInstanceNotRunning):
		return http.StatusConflict
	case errors.Is(err, api.ErrDispatcherClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request_failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeJSON(w, code, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
