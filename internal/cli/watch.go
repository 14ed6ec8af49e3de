package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/foundry/internal/config"
	"github.com/aretw0/foundry/internal/presentation/tui"
	redisadapter "github.com/aretw0/foundry/pkg/adapters/redis"
	"github.com/aretw0/foundry/pkg/domain"
)

// errNoRedis is returned by commands that read snapshots other processes published.
var errNoRedis = errors.New("redis_url is not configured")

// RunWatch follows the snapshots published by every synchronizer sharing cfg.RedisURL.
func RunWatch(cfg config.Config, sessionID string) error {
	publisher, closeFn, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	updates, err := publisher.Subscribe(sigCtx)
	if err != nil {
		return err
	}

	view := newView(os.Stdout, !isTerminal(os.Stdout))
	cfg.Logger().Info("Watching snapshots", "channel", publisher.Channel(), "session_id", sessionID)
	return handleExecutionError(watchSnapshots(sigCtx, updates, sessionID, view, os.Stdout))
}

// watchSnapshots prints a status line per change and the events each session has not shown yet.
func watchSnapshots(ctx context.Context, updates <-chan *domain.SessionState, sessionID string, view *tui.View, out io.Writer) error {
	printed := map[string]int{}
	lastStatus := map[string]string{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if sessionID != "" && snap.SessionID != sessionID {
				continue
			}
			line := view.StatusLine(snap)
			if lastStatus[snap.SessionID] != line {
				fmt.Fprintln(out, line)
				lastStatus[snap.SessionID] = line
			}
			n := printed[snap.SessionID]
			if len(snap.EventLog) < n {
				n = 0
			}
			for _, e := range snap.EventLog[n:] {
				view.Event(e)
			}
			printed[snap.SessionID] = len(snap.EventLog)
		}
	}
}

func openPublisher(cfg config.Config) (*redisadapter.Publisher, func(), error) {
	if cfg.RedisURL == "" {
		return nil, nil, errNoRedis
	}
	client, err := redisadapter.NewClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	publisher := redisadapter.NewPublisher(client,
		redisadapter.WithPrefix(cfg.RedisPrefix),
		redisadapter.WithTTL(cfg.SnapshotTTL),
	)
	return publisher, func() { client.Close() }, nil
}
