package ports

import (
	"context"

	"github.com/aretw0/foundry/pkg/domain"
)

// SnapshotSink receives a copy of the canonical state after every mutation.
// Implementations must not block for long: they are called from the single writer.
type SnapshotSink interface {
	Publish(ctx context.Context, snapshot *domain.SessionState) error
}
