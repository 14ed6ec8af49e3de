package domain

import (
	"encoding/json"
	"maps"
	"slices"
)

// Status is the pipeline status as reported by the backend.
// The five canonical values drive the session FSM; any other value sent by the
// backend (e.g. "STARTING", "REVISING") is kept verbatim.
type Status string

const (
	StatusIdle           Status = "IDLE"
	StatusRunning        Status = "RUNNING"
	StatusAwaitingReview Status = "AWAITING_HUMAN_REVIEW"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
)

// IsTerminal reports whether no further transitions are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsCanonical reports whether s is one of the five FSM states.
func (s Status) IsCanonical() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusAwaitingReview, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Critique is the latest structured review feedback (clinical critique or safety assessment).
type Critique struct {
	// Kind is the record type that produced it ("critique_report" or "safety_report").
	Kind         string   `json:"kind,omitempty" mapstructure:"-"`
	Feedback     []string `json:"feedback,omitempty" mapstructure:"feedback"`
	OverallScore *int     `json:"overall_score,omitempty" mapstructure:"overall_score"`
	SafetyScore  *float64 `json:"safety_score,omitempty" mapstructure:"safety_score"`

	// Data is the untouched payload, for presentation of fields we don't model.
	Data map[string]any `json:"data,omitempty" mapstructure:"-"`
}

// Event is one entry of the append-only event log.
type Event struct {
	Seq     int             `json:"seq"`
	Type    string          `json:"type,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// ReviewBuffer is the Human Decision Buffer.
// It only carries meaning while the session is AWAITING_HUMAN_REVIEW.
type ReviewBuffer struct {
	// Base is the canonical draft the buffer was last seeded from.
	Base string `json:"base,omitempty"`
	// Text is the locally edited draft.
	Text string `json:"text,omitempty"`
}

// Dirty reports whether the buffer holds edits not present in its base.
func (b ReviewBuffer) Dirty() bool {
	return b.Text != b.Base
}

// IsEmpty reports whether the buffer holds nothing at all.
func (b ReviewBuffer) IsEmpty() bool {
	return b.Text == "" && b.Base == ""
}

// SessionState is the canonical view of one pipeline run.
type SessionState struct {
	// SessionID is assigned by the backend (thread_id) and set at most once.
	SessionID string `json:"session_id,omitempty"`

	Status       Status    `json:"status"`
	CurrentDraft string    `json:"current_draft"`
	Critique     *Critique `json:"critique,omitempty"`

	// EventLog only grows. Entries are never mutated or reordered.
	EventLog []Event `json:"event_log"`

	// Review shadows CurrentDraft while Status is AWAITING_HUMAN_REVIEW.
	Review ReviewBuffer `json:"review"`

	LastError string `json:"last_error,omitempty"`

	// Busy is true while the start stream is open or a command is in flight.
	Busy bool `json:"busy"`
}

// NewSessionState returns an empty IDLE session.
func NewSessionState() *SessionState {
	return &SessionState{
		Status:   StatusIdle,
		EventLog: []Event{},
	}
}

// Decision returns the text approve/revise would send: the buffer if non-empty, else the canonical draft.
func (s *SessionState) Decision() string {
	if s.Review.Text != "" {
		return s.Review.Text
	}
	return s.CurrentDraft
}

// Reviewing reports whether the session is paused for a human decision.
func (s *SessionState) Reviewing() bool {
	return s.Status == StatusAwaitingReview
}

// Snapshot returns a deep copy that shares nothing mutable with s.
func (s *SessionState) Snapshot() *SessionState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.EventLog = make([]Event, len(s.EventLog))
	for i, e := range s.EventLog {
		e.Payload = slices.Clone(e.Payload)
		cp.EventLog[i] = e
	}
	if s.Critique != nil {
		c := *s.Critique
		c.Feedback = slices.Clone(s.Critique.Feedback)
		c.Data = maps.Clone(s.Critique.Data)
		cp.Critique = &c
	}
	return &cp
}
