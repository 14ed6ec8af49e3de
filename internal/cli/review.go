package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/foundry/internal/presentation/tui"
	"github.com/aretw0/foundry/pkg/domain"
	"github.com/aretw0/foundry/pkg/session"
)

// errQuit is returned when the reviewer leaves the session without deciding.
var errQuit = errors.New("quit")

// Reviewer drives a session from a terminal: it prints progress while the agents work
// and prompts for a decision whenever the draft is awaiting review.
type Reviewer struct {
	ctrl *session.Controller
	view *tui.View
	in   *bufio.Reader
	out  io.Writer

	// AutoApprove approves the first draft under review without prompting.
	AutoApprove bool
}

// NewReviewer reads commands from in and writes to out.
func NewReviewer(ctrl *session.Controller, view *tui.View, in io.Reader, out io.Writer) *Reviewer {
	return &Reviewer{ctrl: ctrl, view: view, in: bufio.NewReader(in), out: out}
}

// Run starts a session for goal and returns once it reaches a terminal status,
// the reviewer quits or ctx is done.
func (r *Reviewer) Run(ctx context.Context, goal string) (*domain.SessionState, error) {
	updates, unsubscribe := r.ctrl.Subscribe()
	defer unsubscribe()

	done, err := r.ctrl.Launch(ctx, goal)
	if err != nil {
		return r.ctrl.Snapshot(), err
	}

	printed := 0
	streamOpen := true
	refreshed := false
	for {
		select {
		case <-ctx.Done():
			return r.ctrl.Snapshot(), ctx.Err()

		case err := <-done:
			done = nil
			streamOpen = false
			if err != nil && !errors.Is(err, domain.ErrSessionSuperseded) {
				fmt.Fprintln(r.out, r.view.StatusLine(r.ctrl.Snapshot()))
			}

		case snap, ok := <-updates:
			if !ok {
				return r.ctrl.Snapshot(), session.ErrClosed
			}
			if len(snap.EventLog) < printed {
				printed = 0
			}
			for _, e := range snap.EventLog[printed:] {
				r.view.Event(e)
			}
			printed = len(snap.EventLog)
		}

		// Decide on the live state; queued snapshots may predate the last command.
		current := r.ctrl.Snapshot()
		switch {
		case current.Busy:
			continue
		case current.Status.IsTerminal():
			r.view.Review(current)
			return current, nil
		case current.Reviewing():
			refreshed = false
			if err := r.review(ctx); err != nil {
				return r.ctrl.Snapshot(), err
			}
		case !streamOpen && !refreshed:
			// Nothing left to push updates; ask the backend where the run stands.
			refreshed = true
			if err := r.ctrl.Refresh(ctx); err != nil {
				return r.ctrl.Snapshot(), err
			}
		case !streamOpen:
			return current, fmt.Errorf("session stopped in status %s", current.Status)
		}
	}
}

// review prompts until a command is sent to the backend.
func (r *Reviewer) review(ctx context.Context) error {
	r.view.Review(r.ctrl.Snapshot())
	if r.AutoApprove {
		return r.ctrl.Approve(ctx, "")
	}
	r.view.Help()

	for {
		fmt.Fprint(r.out, "> ")
		line, err := r.in.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return err
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)

		switch strings.ToLower(cmd) {
		case "a", "approve":
			if err := r.ctrl.Approve(ctx, ""); err != nil {
				if r.retry(err) {
					continue
				}
				return err
			}
			return nil
		case "r", "revise":
			if err := r.ctrl.Revise(ctx, "", arg); err != nil {
				if r.retry(err) {
					continue
				}
				return err
			}
			return nil
		case "e", "edit":
			text, err := r.readDraft()
			if err != nil {
				return err
			}
			if err := r.ctrl.Edit(ctx, text); err != nil {
				printSystemMessage(r.out, "Edit rejected: %v", err)
				continue
			}
			r.view.Review(r.ctrl.Snapshot())
		case "d", "discard":
			r.ctrl.DiscardEdits(ctx)
			r.view.Review(r.ctrl.Snapshot())
		case "s", "show":
			r.view.Review(r.ctrl.Snapshot())
		case "f", "refresh":
			if err := r.ctrl.Refresh(ctx); err != nil {
				printSystemMessage(r.out, "Refresh failed: %v", err)
			}
			if !r.ctrl.Snapshot().Reviewing() {
				return nil
			}
			r.view.Review(r.ctrl.Snapshot())
		case "q", "quit", "exit":
			return errQuit
		default:
			r.view.Help()
		}
	}
}

// retry prints a recoverable command failure and reports whether to prompt again.
func (r *Reviewer) retry(err error) bool {
	if errors.Is(err, domain.ErrTerminal) || errors.Is(err, session.ErrClosed) {
		return false
	}
	printSystemMessage(r.out, "Command failed: %v", err)
	return r.ctrl.Snapshot().Reviewing()
}

// readDraft reads lines until a lone "." and returns them as the new working copy.
func (r *Reviewer) readDraft() (string, error) {
	printSystemMessage(r.out, "Enter the new draft. Finish with a line containing only '.'")
	var lines []string
	for {
		line, err := r.in.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}
		if line != "" {
			lines = append(lines, trimmed)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
	}
	return strings.Join(lines, "\n"), nil
}
