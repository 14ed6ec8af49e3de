package protocol

import "github.com/tidwall/gjson"

// Mode selects how a Resolver picks among its candidate paths.
type Mode int

const (
	// Coalesce takes the first path that is present and not null, even if its value is empty.
	Coalesce Mode = iota
	// FirstNonEmpty takes the first path whose value is a non-empty scalar.
	FirstNonEmpty
	// Truthy takes the first path whose value is truthy: a non-empty string, a non-zero
	// number, true, or a non-empty object or array. Composites resolve to their raw JSON.
	Truthy
)

// Resolver locates one concern across the legal envelopes of a record.
// Paths are gjson paths tried in order.
type Resolver struct {
	Field string
	Paths []string
	Mode  Mode
}

// Resolve returns the resolved value and whether it is usable (present and non-empty).
func (r Resolver) Resolve(doc gjson.Result) (string, bool) {
	for _, p := range r.Paths {
		v := doc.Get(p)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if r.Mode == Truthy {
			if s := truthy(v); s != "" {
				return s, true
			}
			continue
		}
		s := scalar(v)
		if r.Mode == FirstNonEmpty && s == "" {
			continue
		}
		return s, s != ""
	}
	return "", false
}

func scalar(v gjson.Result) string {
	switch v.Type {
	case gjson.String, gjson.Number, gjson.True:
		return v.String()
	}
	return ""
}

func truthy(v gjson.Result) string {
	switch v.Type {
	case gjson.Number:
		if v.Float() == 0 {
			return ""
		}
	case gjson.JSON:
		if v.IsObject() && len(v.Map()) == 0 || v.IsArray() && len(v.Array()) == 0 {
			return ""
		}
		return v.Raw
	}
	return scalar(v)
}

// Tolerant pass resolvers, applied to every stream record.
var (
	StatusResolver = Resolver{
		Field: "status",
		Paths: []string{"status", "data.status", "data.output.status"},
		Mode:  Coalesce,
	}
	SessionIDResolver = Resolver{
		Field: "session_id",
		Paths: []string{"thread_id", "data.thread_id"},
		Mode:  FirstNonEmpty,
	}
	DraftResolver = Resolver{
		Field: "draft",
		Paths: []string{"data.current_draft", "data.currentDraft", "data.output.current_draft"},
		Mode:  Coalesce,
	}
	DiscriminatorResolver = Resolver{
		Field: "discriminator",
		Paths: []string{"event", "type"},
		Mode:  Truthy,
	}
)

// Typed pass resolvers, applied only to records carrying a known type.
var (
	MetaStatusResolver = Resolver{Field: "status", Paths: []string{"status"}, Mode: Coalesce}
	TypedDraftResolver = Resolver{
		Field: "draft",
		Paths: []string{"data.current_draft", "data.currentDraft"},
		Mode:  Coalesce,
	}
	FinalStatusResolver = Resolver{Field: "status", Paths: []string{"data.status"}, Mode: Coalesce}
	ErrorMessageResolver = Resolver{
		Field: "message",
		Paths: []string{"message", "data.message"},
		Mode:  FirstNonEmpty,
	}
)

// Command response resolvers. Responses carry fields at the top level.
var (
	ResponseStatusResolver = StatusResolver
	ResponseDraftResolver  = Resolver{
		Field: "draft",
		Paths: []string{"current_draft", "currentDraft", "data.current_draft"},
		Mode:  Coalesce,
	}
	ResponseSessionIDResolver = Resolver{Field: "session_id", Paths: []string{"thread_id"}, Mode: FirstNonEmpty}
	ResponseCritiquePath      = "critique"
)
