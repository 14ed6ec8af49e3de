package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/foundry"
	"github.com/aretw0/foundry/internal/logging"
	"github.com/aretw0/foundry/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// Controller is the session surface the dashboard drives.
type Controller interface {
	Snapshot() *domain.SessionState
	Launch(ctx context.Context, goal string) (<-chan error, error)
	Approve(ctx context.Context, draft string) error
	Revise(ctx context.Context, draft, notes string) error
	Edit(ctx context.Context, text string) error
	Refresh(ctx context.Context) error
	Subscribe() (<-chan *domain.SessionState, func())
}

// Server exposes a Controller to browser clients.
type Server struct {
	Controller Controller
	Streams    *StreamManager

	baseCtx context.Context
	metrics http.Handler
	logger  *slog.Logger
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithBaseContext sets the context start streams run under. It should live as long as the process.
func WithBaseContext(ctx context.Context) ServerOption {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithServerLogger configures a logger for the Server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a dashboard server. Call Run to start broadcasting diffs.
func NewServer(ctrl Controller, opts ...ServerOption) *Server {
	s := &Server{
		Controller: ctrl,
		Streams:    NewStreamManager(),
		baseCtx:    context.Background(),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams.logger = s.logger
	return s
}

// Handler returns the routed dashboard API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/session", s.GetSession)
	r.Get("/events", s.SubscribeEvents)
	r.Post("/start", s.Start)
	r.Post("/approve", s.Approve)
	r.Post("/revise", s.Revise)
	r.Post("/refresh", s.Refresh)
	r.Put("/draft", s.PutDraft)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return enableCORS(r)
}

// Run turns controller snapshots into diffs for SSE clients until ctx is done.
func (s *Server) Run(ctx context.Context) {
	ch, unsubscribe := s.Controller.Subscribe()
	defer unsubscribe()

	var last *domain.SessionState
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if diff := domain.Diff(last, snap); diff != nil {
				s.logger.Debug("dashboard: diff calculated", "session_id", snap.SessionID, "clients", s.Streams.Len())
				s.Streams.Broadcast(diff)
			}
			last = snap
		}
	}
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type startBody struct {
	Goal string `json:"goal"`
}

type commandBody struct {
	Draft string `json:"draft"`
	Notes string `json:"notes"`
}

type draftBody struct {
	Text string `json:"text"`
}

// Start handles POST /start. The stream runs in the background; clients follow it on /events.
func (s *Server) Start(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("Start: invalid request body", "err", err)
		return
	}
	if strings.TrimSpace(body.Goal) == "" {
		http.Error(w, "goal is required", http.StatusBadRequest)
		return
	}

	done, err := s.Controller.Launch(s.baseCtx, body.Goal)
	if err != nil {
		s.writeError(w, "start", err)
		return
	}
	go func() {
		if err := <-done; err != nil && !errors.Is(err, domain.ErrSessionSuperseded) {
			s.logger.Warn("start stream ended with error", "err", err)
		}
	}()
	s.writeSnapshot(w, http.StatusAccepted)
}

// Approve handles POST /approve.
func (s *Server) Approve(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeCommand(w, r)
	if !ok {
		return
	}
	if err := s.Controller.Approve(r.Context(), body.Draft); err != nil {
		s.writeError(w, "approve", err)
		return
	}
	s.writeSnapshot(w, http.StatusOK)
}

// Revise handles POST /revise.
func (s *Server) Revise(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeCommand(w, r)
	if !ok {
		return
	}
	if err := s.Controller.Revise(r.Context(), body.Draft, body.Notes); err != nil {
		s.writeError(w, "revise", err)
		return
	}
	s.writeSnapshot(w, http.StatusOK)
}

// Refresh handles POST /refresh.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.Refresh(r.Context()); err != nil {
		s.writeError(w, "refresh", err)
		return
	}
	s.writeSnapshot(w, http.StatusOK)
}

// PutDraft handles PUT /draft, editing the working copy under review.
func (s *Server) PutDraft(w http.ResponseWriter, r *http.Request) {
	var body draftBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Controller.Edit(r.Context(), body.Text); err != nil {
		s.writeError(w, "edit", err)
		return
	}
	s.writeSnapshot(w, http.StatusOK)
}

// GetSession handles GET /session.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	s.writeSnapshot(w, http.StatusOK)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "foundry-dashboard",
		"version": strings.TrimSpace(foundry.Version),
	})
}

// SubscribeEvents handles the GET /events request (SSE).
// The first message is the full state; later ones are diffs. `watch` limits which changes are sent.
// Events carry their seq, so a client can drop entries it already has from the initial state.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe()
	defer cancel()

	var watch []string
	if v := r.URL.Query().Get("watch"); v != "" {
		watch = strings.Split(v, ",")
	}

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	if initial, err := json.Marshal(domain.Diff(nil, s.Controller.Snapshot())); err == nil {
		fmt.Fprintf(w, "data: %s\n\n", initial)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case diff, ok := <-ch:
			if !ok {
				return
			}
			if !matchesWatch(diff, watch) {
				continue
			}
			payload, err := json.Marshal(diff)
			if err != nil {
				s.logger.Error("SSE: encode diff failed", "err", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func matchesWatch(diff *domain.SessionDiff, watch []string) bool {
	if len(watch) == 0 || diff.Reset {
		return true
	}
	for _, field := range watch {
		switch strings.TrimSpace(field) {
		case "status":
			if diff.Status != nil || diff.Busy != nil {
				return true
			}
		case "draft":
			if diff.CurrentDraft != nil || diff.Review != nil {
				return true
			}
		case "critique":
			if diff.Critique != nil {
				return true
			}
		case "events":
			if len(diff.Events) > 0 {
				return true
			}
		case "error":
			if diff.LastError != nil {
				return true
			}
		}
	}
	return false
}

func (s *Server) decodeCommand(w http.ResponseWriter, r *http.Request) (commandBody, bool) {
	var body commandBody
	if r.ContentLength == 0 {
		return body, true
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("invalid command body", "path", r.URL.Path, "err", err)
		return body, false
	}
	return body, true
}

func (s *Server) writeSnapshot(w http.ResponseWriter, code int) {
	writeJSON(w, code, s.Controller.Snapshot())
}

// writeError maps controller errors onto status codes. Backend failures are 502.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrNoSession):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrTerminal),
		errors.Is(err, domain.ErrNotAwaitingReview),
		errors.Is(err, domain.ErrSessionSuperseded):
		code = http.StatusConflict
	default:
		s.logger.Error("command failed", "op", op, "err", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

// StreamManager handles active SSE connections.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[chan *domain.SessionDiff]struct{}
	logger      *slog.Logger
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[chan *domain.SessionDiff]struct{}),
		logger:      logging.NewNop(),
	}
}

func (sm *StreamManager) Subscribe() (<-chan *domain.SessionDiff, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan *domain.SessionDiff, 32)
	sm.subscribers[ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if _, ok := sm.subscribers[ch]; ok {
			delete(sm.subscribers, ch)
			close(ch)
		}
	}
}

// Len reports the number of connected clients.
func (sm *StreamManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers)
}

// Broadcast sends diff to every client. A client whose buffer is full is disconnected:
// it has missed a diff and must reconnect to get a fresh full state.
func (sm *StreamManager) Broadcast(diff *domain.SessionDiff) {
	var slow []chan *domain.SessionDiff
	sm.mu.RLock()
	for ch := range sm.subscribers {
		select {
		case ch <- diff:
		default:
			slow = append(slow, ch)
		}
	}
	sm.mu.RUnlock()
	if len(slow) == 0 {
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, ch := range slow {
		if _, ok := sm.subscribers[ch]; ok {
			delete(sm.subscribers, ch)
			close(ch)
			sm.logger.Warn("SSE: client buffer full, disconnecting", "session_id", diff.SessionID)
		}
	}
}
