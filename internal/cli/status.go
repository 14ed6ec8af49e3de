package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/aretw0/foundry/internal/config"
	"github.com/aretw0/foundry/internal/runtime"
	httpadapter "github.com/aretw0/foundry/pkg/adapters/http"
	"github.com/aretw0/foundry/pkg/domain"
	"github.com/aretw0/foundry/pkg/protocol"
	"golang.org/x/term"
)

// RunStatus prints one session: the cached snapshot when redis is configured,
// otherwise the backend's own view of the thread.
func RunStatus(cfg config.Config, sessionID string, jsonOut bool) error {
	ctx := context.Background()
	logger := cfg.Logger()

	state, err := lookupSession(ctx, cfg, sessionID)
	if err != nil {
		return err
	}
	logger.Debug("Session resolved", "session_id", state.SessionID, "status", state.Status)

	if jsonOut {
		return writeJSON(os.Stdout, state)
	}
	view := newView(os.Stdout, !isTerminal(os.Stdout))
	fmt.Fprintln(os.Stdout, view.StatusLine(state))
	if state.Reviewing() || state.Status.IsTerminal() {
		view.Review(state)
	}
	return nil
}

func lookupSession(ctx context.Context, cfg config.Config, sessionID string) (*domain.SessionState, error) {
	if cfg.RedisURL != "" {
		publisher, closeFn, err := openPublisher(cfg)
		if err != nil {
			return nil, err
		}
		defer closeFn()
		state, err := publisher.Latest(ctx, sessionID)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, domain.ErrNoSession) {
			return nil, err
		}
	}

	client := httpadapter.NewClient(cfg.BackendURL,
		httpadapter.WithRequestTimeout(cfg.RequestTimeout),
		httpadapter.WithClientLogger(cfg.Logger()),
	)
	return fetchStatus(ctx, client, sessionID, cfg.Logger())
}

type statusFetcher interface {
	Status(ctx context.Context, threadID string) ([]byte, error)
}

// fetchStatus merges the backend status response into a fresh snapshot.
func fetchStatus(ctx context.Context, backend statusFetcher, sessionID string, logger *slog.Logger) (*domain.SessionState, error) {
	body, err := backend.Status(ctx, sessionID)
	if err != nil {
		var cmdErr *protocol.CommandError
		if errors.As(err, &cmdErr) && cmdErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNoSession)
		}
		return nil, err
	}
	rec, err := protocol.Interpret(string(body))
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	state := *domain.NewSessionState()
	state.SessionID = sessionID
	next, err := runtime.ApplyStatusSnapshot(state, rec)
	if err != nil {
		logger.Warn("report payload did not decode", "session_id", sessionID, "err", err)
	}
	return &next, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
