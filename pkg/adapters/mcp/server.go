package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/foundry"
	"github.com/aretw0/foundry/internal/logging"
	"github.com/aretw0/foundry/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// SessionURI is the resource holding the current session snapshot.
const SessionURI = "foundry://session"

// SessionResponse is the structured result of every tool.
type SessionResponse struct {
	Session  *domain.SessionState `json:"session" jsonschema_description:"The current session snapshot"`
	Decision string               `json:"decision" jsonschema_description:"The text approve or revise would send"`
}

// Controller is the session surface exposed over MCP.
type Controller interface {
	Snapshot() *domain.SessionState
	Launch(ctx context.Context, goal string) (<-chan error, error)
	Approve(ctx context.Context, draft string) error
	Revise(ctx context.Context, draft, notes string) error
	Edit(ctx context.Context, text string) error
	Refresh(ctx context.Context) error
}

// Server exposes a session Controller as an MCP server, so an agent can act as the human reviewer.
type Server struct {
	ctrl      Controller
	baseCtx   context.Context
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithBaseContext sets the context start streams run under.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:      ctrl,
		baseCtx:   context.Background(),
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("foundry-mcp", strings.TrimSpace(foundry.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := "http://localhost" + addr
	if !strings.HasPrefix(addr, ":") {
		baseURL = "http://" + addr
	}
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_protocol",
		mcp.WithDescription("Start drafting a new clinical protocol. Replaces any session in progress."),
		mcp.WithString("goal", mcp.Required(), mcp.Description("What the protocol should cover")),
		mcp.WithBoolean("wait", mcp.Description("Block until the run pauses for review or ends")),
		mcp.WithOutputSchema[SessionResponse](),
	), mcp.NewStructuredToolHandler(s.handleStart))

	s.mcpServer.AddTool(mcp.NewTool("approve_draft",
		mcp.WithDescription("Approve the draft under review and finish the session."),
		mcp.WithString("draft", mcp.Description("Final text; defaults to the current working copy")),
		mcp.WithOutputSchema[SessionResponse](),
	), mcp.NewStructuredToolHandler(s.handleApprove))

	s.mcpServer.AddTool(mcp.NewTool("revise_draft",
		mcp.WithDescription("Send the draft back to the agents for another iteration."),
		mcp.WithString("draft", mcp.Description("Edited text; defaults to the current working copy")),
		mcp.WithString("notes", mcp.Description("Reviewer notes for the next iteration")),
		mcp.WithOutputSchema[SessionResponse](),
	), mcp.NewStructuredToolHandler(s.handleRevise))

	s.mcpServer.AddTool(mcp.NewTool("edit_draft",
		mcp.WithDescription("Replace the working copy of the draft under review without sending it."),
		mcp.WithString("text", mcp.Required(), mcp.Description("New working copy")),
		mcp.WithOutputSchema[SessionResponse](),
	), mcp.NewStructuredToolHandler(s.handleEdit))

	s.mcpServer.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Return the current session snapshot."),
		mcp.WithOutputSchema[SessionResponse](),
	), mcp.NewStructuredToolHandler(s.handleGet))

	s.mcpServer.AddTool(mcp.NewTool("refresh_session",
		mcp.WithDescription("Re-read the session from the backend."),
		mcp.WithOutputSchema[SessionResponse](),
	), mcp.NewStructuredToolHandler(s.handleRefresh))
}

func (s *Server) respond() SessionResponse {
	snap := s.ctrl.Snapshot()
	return SessionResponse{Session: snap, Decision: snap.Decision()}
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResponse, error) {
	goal, _ := args["goal"].(string)
	if strings.TrimSpace(goal) == "" {
		return SessionResponse{}, errors.New("goal is required")
	}
	wait, _ := args["wait"].(bool)

	done, err := s.ctrl.Launch(s.baseCtx, goal)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("start failed: %w", err)
	}
	if wait {
		if err := s.waitForPause(ctx, done); err != nil {
			return SessionResponse{}, err
		}
	} else {
		go func() {
			if err := <-done; err != nil && !errors.Is(err, domain.ErrSessionSuperseded) {
				s.logger.Warn("MCP start: stream ended with error", "err", err)
			}
		}()
	}
	return s.respond(), nil
}

// waitForPause returns once the stream ends or the session stops being busy.
func (s *Server) waitForPause(ctx context.Context, done <-chan error) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start failed: %w", err)
			}
			return nil
		case <-ticker.C:
			if snap := s.ctrl.Snapshot(); snap.Reviewing() || snap.Status.IsTerminal() {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) handleApprove(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResponse, error) {
	draft, _ := args["draft"].(string)
	if err := s.ctrl.Approve(ctx, draft); err != nil {
		return SessionResponse{}, fmt.Errorf("approve failed: %w", err)
	}
	return s.respond(), nil
}

func (s *Server) handleRevise(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResponse, error) {
	draft, _ := args["draft"].(string)
	notes, _ := args["notes"].(string)
	if err := s.ctrl.Revise(ctx, draft, notes); err != nil {
		return SessionResponse{}, fmt.Errorf("revise failed: %w", err)
	}
	return s.respond(), nil
}

func (s *Server) handleEdit(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResponse, error) {
	text, _ := args["text"].(string)
	if err := s.ctrl.Edit(ctx, text); err != nil {
		return SessionResponse{}, fmt.Errorf("edit failed: %w", err)
	}
	return s.respond(), nil
}

func (s *Server) handleGet(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResponse, error) {
	return s.respond(), nil
}

func (s *Server) handleRefresh(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResponse, error) {
	if err := s.ctrl.Refresh(ctx); err != nil {
		return SessionResponse{}, fmt.Errorf("refresh failed: %w", err)
	}
	return s.respond(), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(SessionURI, "Current Session",
		mcp.WithMIMEType("application/json"),
	), s.readSession)
}

func (s *Server) readSession(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jsonBytes, err := json.Marshal(s.ctrl.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      SessionURI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
