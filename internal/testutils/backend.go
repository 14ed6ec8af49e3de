package testutils

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Request is one call recorded by Backend.
type Request struct {
	Method    string
	Path      string
	Body      map[string]any
	RequestID string
}

type reply struct {
	code int
	body string
}

// Backend is an httptest server that speaks the drafting backend protocol.
// The start stream is written in small chunks so frame boundaries land mid-read.
type Backend struct {
	*httptest.Server

	mu        sync.Mutex
	stream    string
	chunkSize int
	replies   map[string]reply
	requests  []Request
}

// NewBackend starts a Backend that is closed when the test ends.
// By default /start streams a single-draft review session for thread "t1".
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		stream:    ReviewStream("t1", "v1"),
		chunkSize: 7,
		replies: map[string]reply{
			"/approve": {http.StatusOK, `{"thread_id":"t1","status":"COMPLETED","current_draft":"v1"}`},
			"/revise":  {http.StatusOK, `{"thread_id":"t1","status":"RUNNING","current_draft":"v1"}`},
			"/status":  {http.StatusOK, `{"thread_id":"t1","status":"AWAITING_HUMAN_REVIEW","current_draft":"v1"}`},
		},
	}

	r := chi.NewRouter()
	r.Post("/start", b.handleStart)
	r.Post("/approve", b.handleReply("/approve"))
	r.Post("/revise", b.handleReply("/revise"))
	r.Get("/status/{threadID}", b.handleReply("/status"))

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Close)
	return b
}

// ReviewStream builds a start stream that ends awaiting review of draft.
func ReviewStream(threadID, draft string) string {
	return Frames(
		`{"type":"meta","thread_id":"`+threadID+`","status":"RUNNING"}`,
		`{"type":"draft_update","data":{"current_draft":"`+draft+`"}}`,
		`{"type":"workflow_status","status":"AWAITING_HUMAN_REVIEW"}`,
	)
}

// Frames joins payloads into data frames.
func Frames(payloads ...string) string {
	var sb strings.Builder
	for _, p := range payloads {
		sb.WriteString("data: ")
		sb.WriteString(p)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// SetStream replaces the body returned by /start.
func (b *Backend) SetStream(raw string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = raw
}

// SetReply scripts the response of "/start", "/approve", "/revise" or "/status".
func (b *Backend) SetReply(path string, code int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[path] = reply{code, body}
}

// Requests returns a copy of the recorded calls.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Request, len(b.requests))
	copy(out, b.requests)
	return out
}

func (b *Backend) record(r *http.Request) {
	req := Request{
		Method:    r.Method,
		Path:      r.URL.Path,
		RequestID: r.Header.Get("X-Request-ID"),
	}
	if data, err := io.ReadAll(r.Body); err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &req.Body)
	}
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
}

func (b *Backend) handleStart(w http.ResponseWriter, r *http.Request) {
	b.record(r)
	b.mu.Lock()
	stream, size := b.stream, b.chunkSize
	override, failing := b.replies["/start"]
	b.mu.Unlock()

	if failing {
		w.WriteHeader(override.code)
		_, _ = io.WriteString(w, override.body)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for len(stream) > 0 {
		n := min(size, len(stream))
		_, _ = io.WriteString(w, stream[:n])
		stream = stream[n:]
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (b *Backend) handleReply(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		b.mu.Lock()
		rep := b.replies[key]
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rep.code)
		_, _ = io.WriteString(w, rep.body)
	}
}
