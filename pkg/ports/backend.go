package ports

import (
	"context"
	"io"

	"github.com/aretw0/foundry/pkg/protocol"
)

// Backend is the remote human-in-the-loop pipeline.
// Command methods return the raw JSON response body; the controller decodes it
// with the same resolvers it applies to stream records.
type Backend interface {
	// Start submits a goal and opens the event stream. The caller must close the stream.
	Start(ctx context.Context, req protocol.StartRequest) (io.ReadCloser, error)

	// Approve finalizes the draft under review.
	Approve(ctx context.Context, req protocol.ApproveRequest) ([]byte, error)

	// Revise sends the draft back for another iteration.
	Revise(ctx context.Context, req protocol.ReviseRequest) ([]byte, error)

	// Status fetches the backend's current snapshot of a session.
	Status(ctx context.Context, threadID string) ([]byte, error)
}
