package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrMalformedRecord is returned when a payload is not a JSON object.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrNotDataFrame is returned when a frame does not carry the data prefix.
	ErrNotDataFrame = errors.New("not a data frame")
)

// Kind is the closed set of record variants.
type Kind string

const (
	KindUntyped        Kind = ""
	KindMeta           Kind = "meta"
	KindDraftUpdate    Kind = "draft_update"
	KindWorkflowStatus Kind = "workflow_status"
	KindCritiqueReport Kind = "critique_report"
	KindSafetyReport   Kind = "safety_report"
	KindFinalResult    Kind = "final_result"
	KindError          Kind = "error"
	// KindOther covers any discriminator outside the typed contract (status_update, agent_thought, ...).
	KindOther Kind = "other"
)

func classify(typ string) Kind {
	switch k := Kind(typ); k {
	case KindMeta, KindDraftUpdate, KindWorkflowStatus, KindCritiqueReport,
		KindSafetyReport, KindFinalResult, KindError:
		return k
	case KindUntyped:
		return KindUntyped
	}
	return KindOther
}

// Record is one decoded payload.
type Record struct {
	// Raw is the payload exactly as received.
	Raw json.RawMessage
	// Type is the raw `type` discriminator, empty when absent or not a string.
	Type string
	Kind Kind

	doc gjson.Result
}

// Interpret parses a frame payload into a classified record.
func Interpret(payload string) (*Record, error) {
	payload = strings.TrimSpace(payload)
	if !gjson.Valid(payload) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedRecord)
	}
	doc := gjson.Parse(payload)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: expected object, got %s", ErrMalformedRecord, doc.Type)
	}

	rec := &Record{
		Raw: json.RawMessage(payload),
		doc: doc,
	}
	if t := doc.Get("type"); t.Type == gjson.String {
		rec.Type = t.Str
	}
	rec.Kind = classify(rec.Type)
	return rec, nil
}

// InterpretFrame is Interpret for a whole frame.
func InterpretFrame(f Frame) (*Record, error) {
	if !strings.HasPrefix(string(f), DataPrefix) {
		return nil, ErrNotDataFrame
	}
	return Interpret(f.Payload())
}

// Resolve applies a resolver to the record.
func (r *Record) Resolve(res Resolver) (string, bool) {
	return res.Resolve(r.doc)
}

// Get returns the value at a gjson path.
func (r *Record) Get(path string) gjson.Result {
	return r.doc.Get(path)
}

// Discriminator returns the event/type tag that qualifies the record for the event log.
func (r *Record) Discriminator() (string, bool) {
	return r.Resolve(DiscriminatorResolver)
}

// Object returns the value at path as a map, or nil if it is not an object.
func (r *Record) Object(path string) map[string]any {
	v := r.doc.Get(path)
	if !v.IsObject() {
		return nil
	}
	m, _ := v.Value().(map[string]any)
	return m
}
