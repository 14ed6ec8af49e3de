package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/foundry"
	"github.com/aretw0/foundry/internal/config"
	"github.com/aretw0/foundry/internal/presentation/tui"
	"github.com/muesli/termenv"
)

// RunOptions selects how a terminal session is driven.
type RunOptions struct {
	Goal string

	// Headless disables the banner, colors and markdown rendering.
	Headless bool
	// JSON prints the final snapshot as JSON on stdout; progress goes to stderr.
	JSON bool
	// AutoApprove approves the first draft under review.
	AutoApprove bool
}

// RunSession drafts one protocol for opts.Goal, prompting on stdin whenever a draft awaits review.
func RunSession(cfg config.Config, opts RunOptions) error {
	logger := cfg.Logger()

	// Without a terminal there is nobody to render for.
	if !isTerminal(os.Stdout) {
		opts.Headless = true
	}

	var out io.Writer = os.Stdout
	if opts.JSON {
		out = os.Stderr
		opts.Headless = true
	}
	if !opts.Headless {
		tui.PrintBanner(out, foundry.Version)
	}

	rt, err := NewRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("error initializing foundry: %w", err)
	}
	defer rt.Close()

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	reviewer := NewReviewer(rt.Controller, newView(out, opts.Headless), NewInterruptibleReader(os.Stdin, sigCtx.Done()), out)
	reviewer.AutoApprove = opts.AutoApprove

	logger.Info("Starting session", "backend", cfg.BackendURL)
	final, runErr := reviewer.Run(sigCtx, opts.Goal)

	if sigCtx.Err() != nil && runErr == nil {
		runErr = sigCtx.Err()
	}
	logCompletion(out, final, runErr, sigCtx.Signal())

	if opts.JSON {
		if err := writeJSON(os.Stdout, final); err != nil {
			return err
		}
	}
	return handleExecutionError(runErr)
}

func newView(out io.Writer, headless bool) *tui.View {
	if headless {
		return tui.NewView(out, tui.PlainRenderer, termenv.Ascii)
	}
	return tui.NewView(out, tui.NewRenderer(), termenv.EnvColorProfile())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
