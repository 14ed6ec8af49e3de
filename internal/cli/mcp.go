package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/aretw0/foundry/internal/config"
	"github.com/aretw0/foundry/pkg/adapters/mcp"
)

// MCPOptions selects the MCP transport.
type MCPOptions struct {
	// Transport is "stdio" or "sse".
	Transport string
	// Addr is the SSE listen address.
	Addr string
}

// RunMCP exposes the session controller as MCP tools so an agent can review drafts.
func RunMCP(cfg config.Config, opts MCPOptions) error {
	logger := cfg.Logger()

	rt, err := NewRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("error initializing foundry: %w", err)
	}
	defer rt.Close()

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	srv := mcp.NewServer(rt.Controller, mcp.WithBaseContext(sigCtx), mcp.WithLogger(logger))

	switch opts.Transport {
	case "", "stdio":
		// Stdout carries JSON-RPC.
		log.SetOutput(os.Stderr)
		logger.Info("Starting foundry MCP server (stdio)")
		return srv.ServeStdio()
	case "sse":
		if err := srv.ServeSSE(sigCtx, opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport %q (supported: stdio, sse)", opts.Transport)
	}
}
