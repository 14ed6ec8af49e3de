package domain

import (
	"context"
	"time"
)

// RecordEvent describes one record folded into the session state.
type RecordEvent struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Status    Status    `json:"status"`
	Seq       int       `json:"seq"`
}

// MalformedEvent describes a frame that could not be interpreted and was skipped.
type MalformedEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Size      int       `json:"size"`
	Err       error     `json:"-"`
}

// TransitionEvent describes a status change.
type TransitionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
}

// CommandEvent describes a completed start/approve/revise/refresh call.
type CommandEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	SessionID string        `json:"session_id"`
	Command   string        `json:"command"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// LifecycleHooks defines callbacks for synchronizer observability.
type LifecycleHooks struct {
	OnRecord     func(context.Context, *RecordEvent)
	OnMalformed  func(context.Context, *MalformedEvent)
	OnTransition func(context.Context, *TransitionEvent)
	OnCommand    func(context.Context, *CommandEvent)
}

// Merge returns hooks that call h first, then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnRecord:     chain(h.OnRecord, other.OnRecord),
		OnMalformed:  chain(h.OnMalformed, other.OnMalformed),
		OnTransition: chain(h.OnTransition, other.OnTransition),
		OnCommand:    chain(h.OnCommand, other.OnCommand),
	}
}

func chain[T any](a, b func(context.Context, *T)) func(context.Context, *T) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e *T) {
		a(ctx, e)
		b(ctx, e)
	}
}
