package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/foundry/pkg/domain"
	"github.com/muesli/termenv"
)

// View prints session snapshots for a terminal reviewer.
type View struct {
	out     io.Writer
	render  func(string) (string, error)
	profile termenv.Profile
}

// NewView writes to out. A nil render prints drafts as plain text.
func NewView(out io.Writer, render func(string) (string, error), profile termenv.Profile) *View {
	if render == nil {
		render = PlainRenderer
	}
	return &View{out: out, render: render, profile: profile}
}

var statusColors = map[domain.Status]string{
	domain.StatusIdle:           "#9ca3af",
	domain.StatusRunning:        "#60a5fa",
	domain.StatusAwaitingReview: "#fbbf24",
	domain.StatusCompleted:      "#34d399",
	domain.StatusFailed:         "#f87171",
}

// StatusLine is a one-line summary: status, session id, busy marker and last error.
func (v *View) StatusLine(s *domain.SessionState) string {
	status := v.profile.String(string(s.Status)).Bold()
	if c, ok := statusColors[s.Status]; ok {
		status = status.Foreground(v.profile.Color(c))
	}

	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(status.String())
	sb.WriteString("]")
	if s.SessionID != "" {
		fmt.Fprintf(&sb, " %s", s.SessionID)
	}
	if s.Busy {
		sb.WriteString(" …")
	}
	if s.LastError != "" {
		fmt.Fprintf(&sb, " %s", v.profile.String("error: "+s.LastError).Foreground(v.profile.Color("#f87171")))
	}
	return sb.String()
}

// Event prints one log entry as a progress line.
func (v *View) Event(e domain.Event) {
	label := e.Type
	if label == "" {
		label = e.Event
	}
	fmt.Fprintf(v.out, "  %s %s\n", v.profile.String(fmt.Sprintf("#%d", e.Seq)).Faint(), label)
}

// Review prints the draft under review, the critique and the available commands.
func (v *View) Review(s *domain.SessionState) {
	fmt.Fprintln(v.out, v.StatusLine(s))
	v.Draft(s.Decision())
	if s.Review.Dirty() {
		fmt.Fprintln(v.out, v.profile.String("(edited, not yet sent)").Italic())
	}
	v.Critique(s.Critique)
}

// Draft prints markdown through the renderer, falling back to the raw text.
func (v *View) Draft(markdown string) {
	if strings.TrimSpace(markdown) == "" {
		fmt.Fprintln(v.out, v.profile.String("(empty draft)").Faint())
		return
	}
	out, err := v.render(markdown)
	if err != nil {
		out = markdown
	}
	fmt.Fprintln(v.out, strings.TrimRight(out, "\n"))
}

// Critique prints the latest critique or safety report, if any.
func (v *View) Critique(c *domain.Critique) {
	if c == nil {
		return
	}
	title := "Critique"
	if c.Kind == "safety_report" {
		title = "Safety report"
	}
	header := title
	switch {
	case c.OverallScore != nil:
		header = fmt.Sprintf("%s (score %d)", title, *c.OverallScore)
	case c.SafetyScore != nil:
		header = fmt.Sprintf("%s (safety %.2f)", title, *c.SafetyScore)
	}
	fmt.Fprintln(v.out, v.profile.String(header).Bold())
	for _, f := range c.Feedback {
		fmt.Fprintf(v.out, "  - %s\n", f)
	}
}

// Help prints the review commands.
func (v *View) Help() {
	fmt.Fprintln(v.out, "Commands: [a]pprove  [r]evise <notes>  [e]dit  [d]iscard  [s]how  [f]refresh  [q]uit")
}
