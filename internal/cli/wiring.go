package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/foundry/internal/config"
	httpadapter "github.com/aretw0/foundry/pkg/adapters/http"
	redisadapter "github.com/aretw0/foundry/pkg/adapters/redis"
	"github.com/aretw0/foundry/pkg/observability"
	"github.com/aretw0/foundry/pkg/persistence/middleware"
	"github.com/aretw0/foundry/pkg/session"
	"github.com/redis/go-redis/v9"
)

// Runtime is the wired synchronizer for one process.
type Runtime struct {
	Config     config.Config
	Logger     *slog.Logger
	Client     *httpadapter.Client
	Controller *session.Controller

	// Optional, depending on the config.
	Metrics   *observability.Metrics
	Publisher *redisadapter.Publisher

	redis *redis.Client
}

// NewRuntime builds the backend client and the controller, plus redis and metrics when enabled.
func NewRuntime(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Config: cfg,
		Logger: logger,
		Client: httpadapter.NewClient(cfg.BackendURL,
			httpadapter.WithRequestTimeout(cfg.RequestTimeout),
			httpadapter.WithClientLogger(logger),
		),
	}

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithFailOnCommandError(cfg.FailOnCommandError),
		session.WithHooks(createDebugHooks(logger)),
	}

	if cfg.Metrics {
		rt.Metrics = observability.NewMetrics()
		opts = append(opts, session.WithHooks(rt.Metrics.Hooks()))
	}

	if cfg.RedisURL != "" {
		client, err := redisadapter.NewClient(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		rt.redis = client
		rt.Publisher = redisadapter.NewPublisher(client,
			redisadapter.WithPrefix(cfg.RedisPrefix),
			redisadapter.WithTTL(cfg.SnapshotTTL),
		)
		redact, err := middleware.NewPIIMiddleware(cfg.RedactKeys)
		if err != nil {
			client.Close()
			return nil, err
		}
		opts = append(opts,
			session.WithSink(middleware.Chain(rt.Publisher, redact)),
			session.WithLocker(redisadapter.NewLocker(client, cfg.RedisPrefix), cfg.LockTTL),
		)
		logger.Info("redis enabled", "channel", rt.Publisher.Channel())
	}

	rt.Controller = session.NewController(rt.Client, opts...)
	return rt, nil
}

// Close stops the controller and releases the redis connection.
func (rt *Runtime) Close() error {
	var errs []error
	errs = append(errs, rt.Controller.Close())
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	return errors.Join(errs...)
}
