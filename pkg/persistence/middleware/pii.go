package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/aretw0/foundry/pkg/domain"
	"github.com/aretw0/foundry/pkg/ports"
)

// Mask replaces every redacted value.
const Mask = "***"

type piiMiddleware struct {
	next     ports.SnapshotSink
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks values of keys matching the patterns
// in event payloads and critique data before the snapshot leaves the process.
// Drafts are forwarded untouched.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redact pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.SnapshotSink) ports.SnapshotSink {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Publish(ctx context.Context, snapshot *domain.SessionState) error {
	if len(m.patterns) == 0 {
		return m.next.Publish(ctx, snapshot)
	}

	// Sinks receive the controller's copy; mask a private one.
	cloned := snapshot.Snapshot()
	for i := range cloned.EventLog {
		cloned.EventLog[i].Payload = m.maskJSON(cloned.EventLog[i].Payload)
	}
	if cloned.Critique != nil && cloned.Critique.Data != nil {
		data := deepCopy(cloned.Critique.Data).(map[string]any)
		maskValue(data, m.patterns)
		cloned.Critique.Data = data
	}
	return m.next.Publish(ctx, cloned)
}

func (m *piiMiddleware) maskJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	if !maskValue(v, m.patterns) {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// maskValue masks matching keys in place and reports whether anything changed.
func maskValue(v any, patterns []*regexp.Regexp) bool {
	changed := false
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if matchesAny(k, patterns) {
				t[k] = Mask
				changed = true
				continue
			}
			if maskValue(child, patterns) {
				changed = true
			}
		}
	case []any:
		for _, child := range t {
			if maskValue(child, patterns) {
				changed = true
			}
		}
	}
	return changed
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

func matchesAny(key string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
