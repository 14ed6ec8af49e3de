package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aretw0/foundry/internal/config"
	httpadapter "github.com/aretw0/foundry/pkg/adapters/http"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// RunServe serves the dashboard API on cfg.Listen until SIGINT or SIGTERM.
func RunServe(cfg config.Config) error {
	logger := cfg.Logger()

	rt, err := NewRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("error initializing foundry: %w", err)
	}
	defer rt.Close()

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	g, ctx := errgroup.WithContext(sigCtx)

	opts := []httpadapter.ServerOption{
		httpadapter.WithBaseContext(ctx),
		httpadapter.WithServerLogger(logger),
	}
	if rt.Metrics != nil {
		opts = append(opts, httpadapter.WithMetricsHandler(rt.Metrics.Handler()))
	}
	dashboard := httpadapter.NewServer(rt.Controller, opts...)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           dashboard.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		dashboard.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("Dashboard listening", "address", srv.Addr, "backend", cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down dashboard", "signal", sigCtx.Signal())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
			return srv.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("Dashboard stopped gracefully")
	return nil
}
