package domain

import (
	"reflect"
)

// SessionDiff represents the changes between two session snapshots.
// It is designed to be serialized to JSON for partial updates on the client.
type SessionDiff struct {
	// SessionID is always present to identify the target.
	SessionID string `json:"session_id"`

	// Reset is set when the new snapshot belongs to a different run.
	// Clients should drop their local copy and apply the diff to an empty state.
	Reset bool `json:"reset,omitempty"`

	Status       *Status       `json:"status,omitempty"`
	CurrentDraft *string       `json:"current_draft,omitempty"`
	Critique     *Critique     `json:"critique,omitempty"`
	Review       *ReviewBuffer `json:"review,omitempty"`
	LastError    *string       `json:"last_error,omitempty"`
	Busy         *bool         `json:"busy,omitempty"`

	// Events contains only entries appended since the old snapshot.
	Events []Event `json:"events,omitempty"`
}

// Diff calculates the difference between oldState and newState.
// If oldState is nil, it returns a diff representing the entire newState (initial load).
func Diff(oldState, newState *SessionState) *SessionDiff {
	if newState == nil {
		return nil
	}

	diff := &SessionDiff{
		SessionID: newState.SessionID,
	}

	// A shorter log, or a different id once both are set, means a new run replaced the old one.
	if oldState != nil && (len(newState.EventLog) < len(oldState.EventLog) ||
		(oldState.SessionID != "" && oldState.SessionID != newState.SessionID)) {
		diff.Reset = true
		oldState = nil
	}

	if oldState == nil || oldState.Status != newState.Status {
		diff.Status = &newState.Status
	}
	if oldState == nil || oldState.CurrentDraft != newState.CurrentDraft {
		diff.CurrentDraft = &newState.CurrentDraft
	}
	if newState.Critique != nil && (oldState == nil || !reflect.DeepEqual(oldState.Critique, newState.Critique)) {
		diff.Critique = newState.Critique
	}
	if oldState == nil || oldState.Review != newState.Review {
		diff.Review = &newState.Review
	}
	if oldState == nil || oldState.LastError != newState.LastError {
		diff.LastError = &newState.LastError
	}
	if oldState == nil || oldState.Busy != newState.Busy {
		diff.Busy = &newState.Busy
	}

	// Event log is append-only.
	from := 0
	if oldState != nil {
		from = len(oldState.EventLog)
	}
	if len(newState.EventLog) > from {
		diff.Events = newState.EventLog[from:]
	}

	if !diff.Reset && diff.IsEmpty() {
		return nil
	}
	return diff
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *SessionDiff) IsEmpty() bool {
	return d.Status == nil &&
		d.CurrentDraft == nil &&
		d.Critique == nil &&
		d.Review == nil &&
		d.LastError == nil &&
		d.Busy == nil &&
		len(d.Events) == 0
}
