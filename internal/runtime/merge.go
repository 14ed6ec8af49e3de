package runtime

import (
	"slices"

	"github.com/aretw0/foundry/pkg/domain"
	"github.com/aretw0/foundry/pkg/protocol"
)

const defaultErrorMessage = "workflow failed"

// Apply folds one stream record into prev.
//
// The tolerant pass (status, session id, draft, log, busy) runs first on every record.
// The typed pass then applies the contract of the record's `type` and may override it.
// Once prev is COMPLETED or FAILED neither the status nor the last error changes.
//
// The returned state is always usable. A non-nil error reports a report payload whose
// fields did not fit the typed critique; the raw payload is still kept.
func Apply(prev domain.SessionState, rec *protocol.Record) (domain.SessionState, error) {
	next := prev

	// 1. Status is authoritative
	status, hasStatus := rec.Resolve(protocol.StatusResolver)
	if hasStatus {
		next.Status = domain.Status(status)
	}

	// 2. Session id
	if id, ok := rec.Resolve(protocol.SessionIDResolver); ok {
		next.SessionID = adoptSessionID(next.SessionID, id)
	}

	// 3. Draft
	if draft, ok := rec.Resolve(protocol.DraftResolver); ok {
		next.CurrentDraft = draft
	}

	// 4. Event log
	if _, ok := rec.Discriminator(); ok {
		next.EventLog = appendEvent(prev.EventLog, rec)
	}

	// 5. Busy
	if hasStatus {
		switch domain.Status(status) {
		case domain.StatusCompleted, domain.StatusAwaitingReview:
			next.Busy = false
		}
	}

	// 6. Typed pass
	err := applyTyped(&next, rec)

	if prev.Status.IsTerminal() {
		next.Status = prev.Status
		next.LastError = prev.LastError
		next.Busy = prev.Busy && next.Busy
	}

	next.Review = reconcileReview(prev, next)
	return next, err
}

func applyTyped(next *domain.SessionState, rec *protocol.Record) error {
	var err error
	switch rec.Kind {
	case protocol.KindMeta:
		if id, ok := rec.Resolve(protocol.SessionIDResolver); ok {
			next.SessionID = adoptSessionID(next.SessionID, id)
		}
		if s, ok := rec.Resolve(protocol.MetaStatusResolver); ok {
			next.Status = domain.Status(s)
		} else {
			next.Status = domain.StatusRunning
		}
		next.Busy = true

	case protocol.KindDraftUpdate:
		if d, ok := rec.Resolve(protocol.TypedDraftResolver); ok {
			next.CurrentDraft = d
		}
		next.Status = domain.StatusRunning

	case protocol.KindWorkflowStatus:
		if s, ok := rec.Resolve(protocol.MetaStatusResolver); ok {
			next.Status = domain.Status(s)
		}

	case protocol.KindCritiqueReport, protocol.KindSafetyReport:
		// Last write wins, even when the payload is missing.
		next.Critique, err = protocol.DecodeCritique(rec.Type, rec.Object("data"))

	case protocol.KindFinalResult:
		if s, ok := rec.Resolve(protocol.FinalStatusResolver); ok {
			next.Status = domain.Status(s)
		}
		if d, ok := rec.Resolve(protocol.TypedDraftResolver); ok {
			next.CurrentDraft = d
		}
		next.Busy = false

	case protocol.KindError:
		msg, ok := rec.Resolve(protocol.ErrorMessageResolver)
		if !ok {
			msg = defaultErrorMessage
		}
		next.LastError = msg
		next.Status = domain.StatusFailed
		next.Busy = false
	}
	return err
}

// adoptSessionID keeps the first id ever assigned.
func adoptSessionID(current, found string) string {
	if current == "" {
		return found
	}
	return current
}

// SessionIDConflict reports an id in rec that differs from the one already adopted.
func SessionIDConflict(state domain.SessionState, rec *protocol.Record) (string, bool) {
	if state.SessionID == "" {
		return "", false
	}
	id, ok := rec.Resolve(protocol.SessionIDResolver)
	if !ok || id == state.SessionID {
		return "", false
	}
	return id, true
}

func appendEvent(log []domain.Event, rec *protocol.Record) []domain.Event {
	ev := domain.Event{
		Seq:     len(log),
		Type:    rec.Type,
		Payload: slices.Clone(rec.Raw),
	}
	if e := rec.Get("event"); e.Exists() {
		ev.Event = e.String()
	}
	// Clip so a shared prev never sees our append in its spare capacity.
	return append(slices.Clip(log), ev)
}
