package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDiff(t *testing.T) {
	running := StatusRunning
	review := StatusAwaitingReview
	draft := "v1"

	base := &SessionState{
		SessionID:    "t1",
		Status:       StatusRunning,
		CurrentDraft: "",
		EventLog:     []Event{{Seq: 0, Type: "meta"}},
	}

	tests := []struct {
		name      string
		old       *SessionState
		new       *SessionState
		wantNil   bool
		wantReset bool
		check     func(t *testing.T, d *SessionDiff)
	}{
		{
			name: "Initial Load (Old is Nil)",
			old:  nil,
			new:  base,
			check: func(t *testing.T, d *SessionDiff) {
				if d.Status == nil || *d.Status != running {
					t.Errorf("expected status %s, got %v", running, d.Status)
				}
				if len(d.Events) != 1 {
					t.Errorf("expected full event log, got %d", len(d.Events))
				}
				if d.Busy == nil {
					t.Error("expected busy to be present on initial load")
				}
			},
		},
		{
			name:    "No Changes",
			old:     base,
			new:     base.Snapshot(),
			wantNil: true,
		},
		{
			name: "Enter Review",
			old:  base,
			new: &SessionState{
				SessionID:    "t1",
				Status:       StatusAwaitingReview,
				CurrentDraft: draft,
				EventLog:     []Event{{Seq: 0, Type: "meta"}, {Seq: 1, Type: "status_update"}},
				Review:       ReviewBuffer{Base: draft, Text: draft},
			},
			check: func(t *testing.T, d *SessionDiff) {
				if d.Status == nil || *d.Status != review {
					t.Errorf("expected status %s", review)
				}
				if d.CurrentDraft == nil || *d.CurrentDraft != draft {
					t.Errorf("expected draft %q", draft)
				}
				if len(d.Events) != 1 || d.Events[0].Seq != 1 {
					t.Errorf("expected only appended event, got %+v", d.Events)
				}
				if d.Busy != nil {
					t.Error("busy did not change")
				}
			},
		},
		{
			name: "New Run Resets",
			old:  base,
			new: &SessionState{
				Status:   StatusRunning,
				Busy:     true,
				EventLog: []Event{},
			},
			wantReset: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.old, tt.new)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("expected nil diff, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected diff, got nil")
			}
			if got.Reset != tt.wantReset {
				t.Errorf("Reset = %v, want %v", got.Reset, tt.wantReset)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestDiff_JSONOmitsUnchanged(t *testing.T) {
	old := &SessionState{SessionID: "t1", Status: StatusRunning, EventLog: []Event{}}
	new := old.Snapshot()
	new.CurrentDraft = "hello"

	d := Diff(old, new)
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"current_draft":"hello"`) {
		t.Errorf("expected draft in json, got %s", s)
	}
	if strings.Contains(s, `"status"`) {
		t.Errorf("status should be omitted, got %s", s)
	}
}

func TestSessionState_SnapshotIsolation(t *testing.T) {
	score := 7
	s := &SessionState{
		EventLog: []Event{{Seq: 0, Payload: json.RawMessage(`{"type":"meta"}`)}},
		Critique: &Critique{Feedback: []string{"a"}, OverallScore: &score},
	}
	cp := s.Snapshot()
	cp.EventLog[0].Payload[0] = 'X'
	cp.Critique.Feedback[0] = "b"

	if s.EventLog[0].Payload[0] != '{' {
		t.Error("snapshot shares payload bytes")
	}
	if s.Critique.Feedback[0] != "a" {
		t.Error("snapshot shares critique feedback")
	}
}

func TestSessionState_Decision(t *testing.T) {
	s := &SessionState{CurrentDraft: "canonical"}
	if s.Decision() != "canonical" {
		t.Errorf("expected canonical draft, got %q", s.Decision())
	}
	s.Review = ReviewBuffer{Base: "canonical", Text: "edited"}
	if s.Decision() != "edited" {
		t.Errorf("expected edited text, got %q", s.Decision())
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusIdle, StatusRunning, StatusAwaitingReview, "STARTING"} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if Status("STARTING").IsCanonical() {
		t.Error("STARTING is not canonical")
	}
}
