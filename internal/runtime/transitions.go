package runtime

import (
	"github.com/aretw0/foundry/pkg/domain"
	"github.com/aretw0/foundry/pkg/protocol"
)

// Begin returns the state of a freshly started run. The previous state is discarded wholesale.
func Begin() domain.SessionState {
	s := *domain.NewSessionState()
	s.Status = domain.StatusRunning
	s.Busy = true
	return s
}

// BeginCommand marks a command as in flight.
func BeginCommand(prev domain.SessionState) domain.SessionState {
	next := prev
	next.Busy = true
	return next
}

// EndStream clears busy once the start stream has closed.
func EndStream(prev domain.SessionState) domain.SessionState {
	next := prev
	next.Busy = false
	return next
}

// FailStream records a transport failure of the start stream.
// A run that already reached a terminal status keeps it.
func FailStream(prev domain.SessionState, err error) domain.SessionState {
	next := prev
	next.LastError = err.Error()
	next.Busy = false
	if !prev.Status.IsTerminal() {
		next.Status = domain.StatusFailed
	}
	next.Review = reconcileReview(prev, next)
	return next
}

// FailCommand records a failed approve/revise/refresh.
// The status is left unchanged unless failSession is set.
func FailCommand(prev domain.SessionState, err error, failSession bool) domain.SessionState {
	next := prev
	next.LastError = err.Error()
	next.Busy = false
	if failSession && !prev.Status.IsTerminal() {
		next.Status = domain.StatusFailed
	}
	next.Review = reconcileReview(prev, next)
	return next
}

// ApplyCommandResponse folds an approve/revise response into prev.
// It uses the status and draft resolution of the stream pass and always clears the buffer.
func ApplyCommandResponse(prev domain.SessionState, rec *protocol.Record) (domain.SessionState, error) {
	next, err := applySnapshot(prev, rec)
	next.Review = domain.ReviewBuffer{}
	return next, err
}

// ApplyStatusSnapshot folds a GET /status response into prev, keeping the buffer rules.
// A refresh is not a network operation of the run, so busy is left as it was.
func ApplyStatusSnapshot(prev domain.SessionState, rec *protocol.Record) (domain.SessionState, error) {
	next, err := applySnapshot(prev, rec)
	next.Busy = prev.Busy
	next.Review = reconcileReview(prev, next)
	return next, err
}

// RecordError stores a failure message without touching anything else.
func RecordError(prev domain.SessionState, err error) domain.SessionState {
	next := prev
	next.LastError = err.Error()
	return next
}

// applySnapshot folds a backend snapshot. A terminal session keeps its status,
// draft and critique; only the session id may still be adopted.
func applySnapshot(prev domain.SessionState, rec *protocol.Record) (domain.SessionState, error) {
	next := prev
	next.Busy = false
	next.LastError = ""
	if id, ok := rec.Resolve(protocol.ResponseSessionIDResolver); ok {
		next.SessionID = adoptSessionID(next.SessionID, id)
	}
	if prev.Status.IsTerminal() {
		return next, nil
	}

	if s, ok := rec.Resolve(protocol.ResponseStatusResolver); ok {
		next.Status = domain.Status(s)
	}
	if d, ok := rec.Resolve(protocol.ResponseDraftResolver); ok {
		next.CurrentDraft = d
	}
	var err error
	if obj := rec.Object(protocol.ResponseCritiquePath); obj != nil {
		next.Critique, err = protocol.DecodeCritique("critique_report", obj)
	}
	return next, err
}
