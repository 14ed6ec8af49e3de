package middleware

import "github.com/aretw0/foundry/pkg/ports"

// Middleware allows wrapping a SnapshotSink to add behavior.
type Middleware func(ports.SnapshotSink) ports.SnapshotSink

// Chain applies mws so the first one sees the snapshot first.
func Chain(sink ports.SnapshotSink, mws ...Middleware) ports.SnapshotSink {
	for i := len(mws) - 1; i >= 0; i-- {
		sink = mws[i](sink)
	}
	return sink
}
