package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/foundry/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

const defaultPrefix = "foundry:"

// Publisher implements ports.SnapshotSink.
// Each snapshot is published on the "<prefix>snapshots" channel and cached under
// "<prefix>session:<id>" so late subscribers can catch up. The cache expires; it is
// not a durable store and nothing reloads sessions from it.
type Publisher struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithTTL sets the expiration of the cached latest snapshot.
func WithTTL(ttl time.Duration) Option {
	return func(p *Publisher) {
		p.ttl = ttl
	}
}

// WithPrefix sets the key and channel prefix.
func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.prefix = prefix
	}
}

// NewPublisher creates a Publisher from an existing client.
func NewPublisher(client *backend.Client, opts ...Option) *Publisher {
	p := &Publisher{
		client: client,
		prefix: defaultPrefix,
		ttl:    10 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewClient parses a redis:// URL into a client.
func NewClient(url string) (*backend.Client, error) {
	opts, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return backend.NewClient(opts), nil
}

// Channel is the pub/sub channel snapshots are published on.
func (p *Publisher) Channel() string {
	return p.prefix + "snapshots"
}

func (p *Publisher) key(sessionID string) string {
	return p.prefix + "session:" + sessionID
}

// Publish caches and broadcasts the snapshot.
// Snapshots without a session id are broadcast but not cached.
func (p *Publisher) Publish(ctx context.Context, snapshot *domain.SessionState) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := p.client.Pipeline()
	if snapshot.SessionID != "" {
		pipe.Set(ctx, p.key(snapshot.SessionID), data, p.ttl)
	}
	pipe.Publish(ctx, p.Channel(), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// Latest returns the cached snapshot of a session.
func (p *Publisher) Latest(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	data, err := p.client.Get(ctx, p.key(sessionID)).Bytes()
	if err == backend.Nil {
		return nil, domain.ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	var s domain.SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// Subscribe streams published snapshots until ctx is done.
// Undecodable messages are skipped.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan *domain.SessionState, error) {
	sub := p.client.Subscribe(ctx, p.Channel())
	// Wait for confirmation so no publish after return is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan *domain.SessionState, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var s domain.SessionState
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					continue
				}
				select {
				case out <- &s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
