package protocol

import (
	"fmt"
)

// StartRequest is the body of POST /start.
type StartRequest struct {
	UserIntent string `json:"user_intent"`
}

// ApproveRequest is the body of POST /approve.
type ApproveRequest struct {
	ThreadID   string `json:"thread_id"`
	FinalDraft string `json:"final_draft"`
}

// ReviseRequest is the body of POST /revise.
type ReviseRequest struct {
	ThreadID      string  `json:"thread_id"`
	EditedDraft   string  `json:"edited_draft"`
	RevisionNotes *string `json:"revision_notes,omitempty"`
}

// StatusResponse mirrors the backend snapshot returned by approve, revise and GET /status.
// The controller reads responses as Records so the resolvers apply; this type is for servers and fakes.
type StatusResponse struct {
	ThreadID       string           `json:"thread_id"`
	Status         string           `json:"status"`
	CurrentDraft   string           `json:"current_draft"`
	IterationCount int              `json:"iteration_count"`
	Critique       map[string]any   `json:"critique,omitempty"`
	AgentThoughts  []map[string]any `json:"agent_thoughts"`
}

// CommandError is a non-success response to a command call.
type CommandError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *CommandError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s failed: backend returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed: backend returned %d: %s", e.Op, e.StatusCode, e.Detail)
}
