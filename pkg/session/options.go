package session

import (
	"log/slog"
	"time"

	"github.com/aretw0/foundry/pkg/domain"
	"github.com/aretw0/foundry/pkg/ports"
)

const (
	defaultLockTTL          = 30 * time.Second
	defaultSubscriberBuffer = 16
)

// Option configures the Controller.
type Option func(*Controller)

// WithLogger configures a logger for the Controller.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithHooks registers lifecycle hooks. Repeated calls are merged.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(c *Controller) {
		c.hooks = c.hooks.Merge(hooks)
	}
}

// WithSink adds a snapshot sink that receives every committed state.
func WithSink(sink ports.SnapshotSink) Option {
	return func(c *Controller) {
		c.sinks = append(c.sinks, sink)
	}
}

// WithLocker serializes approve/revise across replicas.
// A zero ttl uses the default.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(c *Controller) {
		c.locker = locker
		if ttl > 0 {
			c.lockTTL = ttl
		}
	}
}

// WithFailOnCommandError marks the session FAILED when approve/revise fails.
func WithFailOnCommandError(enabled bool) Option {
	return func(c *Controller) {
		c.failOnCommandError = enabled
	}
}

// WithSubscriberBuffer sets the channel capacity handed to subscribers.
func WithSubscriberBuffer(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.subBuffer = n
		}
	}
}

// WithInputLimits bounds the goal and the draft or notes sent to the backend.
// Zero keeps the default; a negative value disables the bound.
func WithInputLimits(goal, draft int) Option {
	return func(c *Controller) {
		if goal != 0 {
			c.maxGoal = goal
		}
		if draft != 0 {
			c.maxDraft = draft
		}
	}
}
