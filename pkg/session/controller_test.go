package session_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/foundry/pkg/domain"
	"github.com/aretw0/foundry/pkg/ports"
	"github.com/aretw0/foundry/pkg/protocol"
	"github.com/aretw0/foundry/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewStream = `data: {"type":"meta","thread_id":"t1","status":"RUNNING"}

data: {"type":"draft_update","data":{"current_draft":"v1"}}

data: {"type":"workflow_status","status":"AWAITING_HUMAN_REVIEW"}

`

// fakeBackend scripts backend responses and records the requests it receives.
type fakeBackend struct {
	mu sync.Mutex

	stream   func(ctx context.Context) (io.ReadCloser, error)
	approve  func(ctx context.Context, req protocol.ApproveRequest) ([]byte, error)
	revise   func(ctx context.Context, req protocol.ReviseRequest) ([]byte, error)
	status   func(ctx context.Context, id string) ([]byte, error)
	approved []protocol.ApproveRequest
	revised  []protocol.ReviseRequest
	goals    []string
}

func newFakeBackend(stream string) *fakeBackend {
	return &fakeBackend{
		stream: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(stream)), nil
		},
		approve: func(_ context.Context, req protocol.ApproveRequest) ([]byte, error) {
			return []byte(`{"thread_id":"` + req.ThreadID + `","status":"COMPLETED","current_draft":"` + req.FinalDraft + `"}`), nil
		},
		revise: func(_ context.Context, req protocol.ReviseRequest) ([]byte, error) {
			return []byte(`{"thread_id":"` + req.ThreadID + `","status":"RUNNING","current_draft":"` + req.EditedDraft + `"}`), nil
		},
		status: func(_ context.Context, id string) ([]byte, error) {
			return []byte(`{"thread_id":"` + id + `","status":"AWAITING_HUMAN_REVIEW","current_draft":"v2"}`), nil
		},
	}
}

func (f *fakeBackend) Start(ctx context.Context, req protocol.StartRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.goals = append(f.goals, req.UserIntent)
	f.mu.Unlock()
	return f.stream(ctx)
}

func (f *fakeBackend) Approve(ctx context.Context, req protocol.ApproveRequest) ([]byte, error) {
	f.mu.Lock()
	f.approved = append(f.approved, req)
	f.mu.Unlock()
	return f.approve(ctx, req)
}

func (f *fakeBackend) Revise(ctx context.Context, req protocol.ReviseRequest) ([]byte, error) {
	f.mu.Lock()
	f.revised = append(f.revised, req)
	f.mu.Unlock()
	return f.revise(ctx, req)
}

func (f *fakeBackend) Status(ctx context.Context, id string) ([]byte, error) {
	return f.status(ctx, id)
}

// pipeStream returns a stream that stays open until ctx is canceled or the writer is closed.
func pipeStream(ctx context.Context) (*io.PipeWriter, io.ReadCloser) {
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()
	return pw, pr
}

func startReviewing(t *testing.T, backend *fakeBackend, opts ...session.Option) *session.Controller {
	t.Helper()
	c := session.NewController(backend, opts...)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Start(context.Background(), "draft a protocol"))
	require.Equal(t, domain.StatusAwaitingReview, c.Snapshot().Status)
	return c
}

func TestController_StartFoldsStream(t *testing.T) {
	backend := newFakeBackend(reviewStream)
	c := startReviewing(t, backend)

	s := c.Snapshot()
	assert.Equal(t, "t1", s.SessionID)
	assert.Equal(t, "v1", s.CurrentDraft)
	assert.False(t, s.Busy)
	assert.Len(t, s.EventLog, 3)
	assert.Equal(t, domain.ReviewBuffer{Base: "v1", Text: "v1"}, s.Review)
	assert.Equal(t, []string{"draft a protocol"}, backend.goals)
}

func TestController_SkipsMalformedRecords(t *testing.T) {
	stream := "data: {not json\n\n" + reviewStream + "data: {\"type\":\"meta\""
	var malformed int
	c := startReviewing(t, newFakeBackend(stream), session.WithHooks(domain.LifecycleHooks{
		OnMalformed: func(context.Context, *domain.MalformedEvent) { malformed++ },
	}))

	assert.Equal(t, 1, malformed)
	assert.Len(t, c.Snapshot().EventLog, 3, "trailing partial frame is dropped")
}

func TestController_Approve(t *testing.T) {
	backend := newFakeBackend(reviewStream)
	c := startReviewing(t, backend)
	ctx := context.Background()

	require.NoError(t, c.Edit(ctx, "v1 edited"))
	require.NoError(t, c.Approve(ctx, ""))

	require.Len(t, backend.approved, 1)
	assert.Equal(t, protocol.ApproveRequest{ThreadID: "t1", FinalDraft: "v1 edited"}, backend.approved[0])

	s := c.Snapshot()
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Equal(t, "v1 edited", s.CurrentDraft)
	assert.True(t, s.Review.IsEmpty())
	assert.False(t, s.Busy)

	assert.ErrorIs(t, c.Approve(ctx, ""), domain.ErrTerminal)
	assert.ErrorIs(t, c.Edit(ctx, "late"), domain.ErrNotAwaitingReview)
}

func TestController_Revise(t *testing.T) {
	backend := newFakeBackend(reviewStream)
	c := startReviewing(t, backend)
	ctx := context.Background()

	require.NoError(t, c.Revise(ctx, "v1b", "tighten exclusions"))
	require.Len(t, backend.revised, 1)
	req := backend.revised[0]
	assert.Equal(t, "t1", req.ThreadID)
	assert.Equal(t, "v1b", req.EditedDraft)
	require.NotNil(t, req.RevisionNotes)
	assert.Equal(t, "tighten exclusions", *req.RevisionNotes)

	s := c.Snapshot()
	assert.Equal(t, domain.StatusRunning, s.Status)
	assert.True(t, s.Review.IsEmpty())

	assert.ErrorIs(t, c.Revise(ctx, "", ""), domain.ErrNotAwaitingReview)
}

func TestController_ReviseOmitsEmptyNotes(t *testing.T) {
	backend := newFakeBackend(reviewStream)
	c := startReviewing(t, backend)

	require.NoError(t, c.Revise(context.Background(), "", ""))
	require.Len(t, backend.revised, 1)
	assert.Nil(t, backend.revised[0].RevisionNotes)
	assert.Equal(t, "v1", backend.revised[0].EditedDraft)
}

func TestController_GatesBeforeStart(t *testing.T) {
	c := session.NewController(newFakeBackend(""))
	ctx := context.Background()

	assert.ErrorIs(t, c.Approve(ctx, "x"), domain.ErrNoSession)
	assert.ErrorIs(t, c.Revise(ctx, "x", ""), domain.ErrNoSession)
	assert.ErrorIs(t, c.Refresh(ctx), domain.ErrNoSession)
	assert.ErrorIs(t, c.Edit(ctx, "x"), domain.ErrNotAwaitingReview)
}

func TestController_CommandFailure(t *testing.T) {
	failing := func(_ context.Context, _ protocol.ApproveRequest) ([]byte, error) {
		return nil, &protocol.CommandError{Op: "approve", StatusCode: 500, Detail: "boom"}
	}

	t.Run("keeps status", func(t *testing.T) {
		backend := newFakeBackend(reviewStream)
		backend.approve = failing
		c := startReviewing(t, backend)

		err := c.Approve(context.Background(), "")
		var cmdErr *protocol.CommandError
		require.ErrorAs(t, err, &cmdErr)
		assert.Equal(t, 500, cmdErr.StatusCode)

		s := c.Snapshot()
		assert.Equal(t, domain.StatusAwaitingReview, s.Status)
		assert.Contains(t, s.LastError, "boom")
		assert.False(t, s.Busy)
		assert.Equal(t, "v1", s.Review.Text, "buffer survives a failed command")
	})

	t.Run("fails session when configured", func(t *testing.T) {
		backend := newFakeBackend(reviewStream)
		backend.approve = failing
		c := startReviewing(t, backend, session.WithFailOnCommandError(true))

		require.Error(t, c.Approve(context.Background(), ""))
		assert.Equal(t, domain.StatusFailed, c.Snapshot().Status)
	})

	t.Run("malformed response", func(t *testing.T) {
		backend := newFakeBackend(reviewStream)
		backend.approve = func(context.Context, protocol.ApproveRequest) ([]byte, error) {
			return []byte(`[1,2]`), nil
		}
		c := startReviewing(t, backend)

		err := c.Approve(context.Background(), "")
		assert.ErrorIs(t, err, protocol.ErrMalformedRecord)
		assert.NotEmpty(t, c.Snapshot().LastError)
	})
}

func TestController_StartFailure(t *testing.T) {
	backend := newFakeBackend("")
	backend.stream = func(context.Context) (io.ReadCloser, error) {
		return nil, errors.New("connection refused")
	}
	c := session.NewController(backend)

	err := c.Start(context.Background(), "goal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	s := c.Snapshot()
	assert.Equal(t, domain.StatusFailed, s.Status)
	assert.Contains(t, s.LastError, "connection refused")
	assert.False(t, s.Busy)
}

type failingReader struct {
	data string
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestController_StreamTransportFailure(t *testing.T) {
	backend := newFakeBackend("")
	backend.stream = func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(&failingReader{
			data: "data: {\"type\":\"meta\",\"thread_id\":\"t1\"}\n\n",
			err:  errors.New("connection reset"),
		}), nil
	}
	c := session.NewController(backend)

	err := c.Start(context.Background(), "goal")
	require.Error(t, err)

	s := c.Snapshot()
	assert.Equal(t, "t1", s.SessionID)
	assert.Equal(t, domain.StatusFailed, s.Status)
	assert.Contains(t, s.LastError, "connection reset")
	assert.False(t, s.Busy)
}

func TestController_ApproveWhileStreamOpen(t *testing.T) {
	backend := newFakeBackend("")
	var pw *io.PipeWriter
	backend.stream = func(ctx context.Context) (io.ReadCloser, error) {
		w, r := pipeStream(ctx)
		pw = w
		return r, nil
	}
	c := session.NewController(backend)
	t.Cleanup(func() { _ = c.Close() })

	done, err := c.Launch(context.Background(), "goal")
	require.NoError(t, err)

	assert.ErrorIs(t, c.Approve(context.Background(), ""), domain.ErrBusy, "stream is busy until review")

	go func() { _, _ = io.WriteString(pw, reviewStream) }()
	require.Eventually(t, func() bool {
		return c.Snapshot().Status == domain.StatusAwaitingReview
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Approve(context.Background(), ""))
	assert.Equal(t, domain.StatusCompleted, c.Snapshot().Status)

	require.NoError(t, pw.Close())
	assert.NoError(t, <-done)
	assert.False(t, c.Snapshot().Busy)
}

func TestController_StartSupersedesOpenStream(t *testing.T) {
	backend := newFakeBackend("")
	first := true
	backend.stream = func(ctx context.Context) (io.ReadCloser, error) {
		if first {
			first = false
			pw, r := pipeStream(ctx)
			go func() {
				_, _ = io.WriteString(pw, "data: {\"type\":\"meta\",\"thread_id\":\"old\"}\n\n")
			}()
			return r, nil
		}
		return io.NopCloser(strings.NewReader(strings.ReplaceAll(reviewStream, "t1", "new"))), nil
	}
	c := session.NewController(backend)
	t.Cleanup(func() { _ = c.Close() })

	done, err := c.Launch(context.Background(), "first")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return c.Snapshot().SessionID == "old"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Start(context.Background(), "second"))
	assert.ErrorIs(t, <-done, domain.ErrSessionSuperseded)

	s := c.Snapshot()
	assert.Equal(t, "new", s.SessionID)
	assert.Equal(t, domain.StatusAwaitingReview, s.Status)
	assert.Len(t, s.EventLog, 3)
}

func TestController_BusyWhileCommanding(t *testing.T) {
	backend := newFakeBackend(reviewStream)
	called := make(chan struct{})
	release := make(chan struct{})
	backend.approve = func(_ context.Context, req protocol.ApproveRequest) ([]byte, error) {
		close(called)
		<-release
		return []byte(`{"status":"COMPLETED"}`), nil
	}
	c := startReviewing(t, backend)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() { errc <- c.Approve(ctx, "") }()
	<-called

	assert.True(t, c.Snapshot().Busy)
	assert.ErrorIs(t, c.Approve(ctx, ""), domain.ErrBusy)
	assert.ErrorIs(t, c.Revise(ctx, "", ""), domain.ErrBusy)
	assert.ErrorIs(t, c.Edit(ctx, "x"), domain.ErrBusy)
	_, err := c.Launch(ctx, "again")
	assert.ErrorIs(t, err, domain.ErrBusy)

	close(release)
	require.NoError(t, <-errc)
	assert.Equal(t, domain.StatusCompleted, c.Snapshot().Status)
	assert.Len(t, backend.approved, 1)
}

func TestController_RefreshWhileCommanding(t *testing.T) {
	backend := newFakeBackend(reviewStream)
	called := make(chan struct{})
	release := make(chan struct{})
	backend.approve = func(context.Context, protocol.ApproveRequest) ([]byte, error) {
		close(called)
		<-release
		return []byte(`{"status":"COMPLETED","current_draft":"final text"}`), nil
	}
	var statusCalls atomic.Int32
	backend.status = func(context.Context, string) ([]byte, error) {
		statusCalls.Add(1)
		return []byte(`{"status":"AWAITING_HUMAN_REVIEW","current_draft":"stale"}`), nil
	}
	c := startReviewing(t, backend)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() { errc <- c.Approve(ctx, "") }()
	<-called

	assert.ErrorIs(t, c.Refresh(ctx), domain.ErrBusy)
	assert.Zero(t, statusCalls.Load(), "no status call while approve is in flight")

	close(release)
	require.NoError(t, <-errc)

	// The session is terminal now; a late snapshot cannot roll it back.
	require.NoError(t, c.Refresh(ctx))
	s := c.Snapshot()
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Equal(t, "final text", s.CurrentDraft)
}

func TestController_CommandsWhileRefreshing(t *testing.T) {
	backend := newFakeBackend(reviewStream)
	called := make(chan struct{})
	release := make(chan struct{})
	backend.status = func(context.Context, string) ([]byte, error) {
		close(called)
		<-release
		return []byte(`{"status":"AWAITING_HUMAN_REVIEW","current_draft":"v1"}`), nil
	}
	c := startReviewing(t, backend)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() { errc <- c.Refresh(ctx) }()
	<-called

	assert.ErrorIs(t, c.Approve(ctx, ""), domain.ErrBusy)
	assert.ErrorIs(t, c.Revise(ctx, "", ""), domain.ErrBusy)
	assert.ErrorIs(t, c.Edit(ctx, "x"), domain.ErrBusy)
	assert.ErrorIs(t, c.Refresh(ctx), domain.ErrBusy)

	close(release)
	require.NoError(t, <-errc)
	assert.Empty(t, backend.approved)
	require.NoError(t, c.Approve(ctx, ""))
	assert.Len(t, backend.approved, 1)
}

func TestController_ReportDecodeKeepsMerging(t *testing.T) {
	stream := `data: {"type":"meta","thread_id":"t1"}` + "\n\n" +
		`data: {"type":"critique_report","data":{"feedback":{"a":1}}}` + "\n\n" +
		`data: {"data":{"status":"AWAITING_HUMAN_REVIEW","current_draft":"v1"}}` + "\n\n"
	c := startReviewing(t, newFakeBackend(stream))

	s := c.Snapshot()
	require.NotNil(t, s.Critique)
	assert.Equal(t, "critique_report", s.Critique.Kind)
	assert.Contains(t, s.Critique.Data, "feedback")
	assert.Len(t, s.EventLog, 3)
}

func TestController_Refresh(t *testing.T) {
	backend := newFakeBackend(reviewStream)
	c := startReviewing(t, backend)
	ctx := context.Background()
	require.NoError(t, c.Edit(ctx, "mine"))

	require.NoError(t, c.Refresh(ctx))
	s := c.Snapshot()
	assert.Equal(t, "v2", s.CurrentDraft)
	assert.Equal(t, domain.ReviewBuffer{Base: "v2", Text: "mine"}, s.Review)

	backend.status = func(context.Context, string) ([]byte, error) {
		return nil, &protocol.CommandError{Op: "status", StatusCode: 404}
	}
	require.Error(t, c.Refresh(ctx))
	s = c.Snapshot()
	assert.Equal(t, domain.StatusAwaitingReview, s.Status)
	assert.Contains(t, s.LastError, "404")
}

func TestController_DiscardEdits(t *testing.T) {
	c := startReviewing(t, newFakeBackend(reviewStream))
	ctx := context.Background()

	require.NoError(t, c.Edit(ctx, "mine"))
	c.DiscardEdits(ctx)
	assert.Equal(t, "v1", c.Snapshot().Decision())
}

func TestController_SubscribeOrdered(t *testing.T) {
	c := session.NewController(newFakeBackend(reviewStream), session.WithSubscriberBuffer(64))
	t.Cleanup(func() { _ = c.Close() })

	ch, unsubscribe := c.Subscribe()
	initial := <-ch
	assert.Equal(t, domain.StatusIdle, initial.Status)

	require.NoError(t, c.Start(context.Background(), "goal"))

	var logs []int
	for len(logs) == 0 || logs[len(logs)-1] < 3 {
		s := <-ch
		logs = append(logs, len(s.EventLog))
	}
	for i := 1; i < len(logs); i++ {
		assert.GreaterOrEqual(t, logs[i], logs[i-1], "snapshots arrive in commit order")
	}

	unsubscribe()
	unsubscribe()
	for range ch {
	}
}

func TestController_SlowSubscriberGetsLatest(t *testing.T) {
	c := session.NewController(newFakeBackend(reviewStream), session.WithSubscriberBuffer(1))
	t.Cleanup(func() { _ = c.Close() })

	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()

	require.NoError(t, c.Start(context.Background(), "goal"))
	latest := <-ch
	assert.Equal(t, domain.StatusAwaitingReview, latest.Status)
	assert.False(t, latest.Busy)
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []*domain.SessionState
}

func (s *recordingSink) Publish(_ context.Context, snap *domain.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func TestController_HooksAndSinks(t *testing.T) {
	sink := &recordingSink{}
	var (
		mu          sync.Mutex
		transitions []domain.Status
		records     int
		commands    []string
	)
	hooks := domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, e.To)
		},
		OnRecord: func(context.Context, *domain.RecordEvent) {
			mu.Lock()
			defer mu.Unlock()
			records++
		},
		OnCommand: func(_ context.Context, e *domain.CommandEvent) {
			mu.Lock()
			defer mu.Unlock()
			commands = append(commands, e.Command)
		},
	}
	c := startReviewing(t, newFakeBackend(reviewStream), session.WithHooks(hooks), session.WithSink(sink))
	require.NoError(t, c.Approve(context.Background(), ""))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.Status{domain.StatusRunning, domain.StatusAwaitingReview, domain.StatusCompleted}, transitions)
	assert.Equal(t, 3, records)
	assert.Equal(t, []string{session.CommandStart, session.CommandApprove}, commands)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.snapshots)
	assert.Equal(t, domain.StatusCompleted, sink.snapshots[len(sink.snapshots)-1].Status)
}

type fakeLocker struct {
	mu   sync.Mutex
	keys []string
	held int
}

func (l *fakeLocker) Lock(_ context.Context, key string, _ time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	l.held++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held--
		return nil
	}, nil
}

func TestController_CommandsTakeLock(t *testing.T) {
	locker := &fakeLocker{}
	c := startReviewing(t, newFakeBackend(reviewStream), session.WithLocker(locker, 0))

	require.NoError(t, c.Approve(context.Background(), ""))
	assert.Equal(t, []string{"session:t1"}, locker.keys)
	assert.Zero(t, locker.held)
}

func TestController_Close(t *testing.T) {
	c := session.NewController(newFakeBackend(reviewStream))
	ch, _ := c.Subscribe()
	<-ch

	require.NoError(t, c.Close())
	_, open := <-ch
	assert.False(t, open)

	_, err := c.Launch(context.Background(), "goal")
	assert.ErrorIs(t, err, session.ErrClosed)
	require.NoError(t, c.Close())
}

func TestController_SanitizesInput(t *testing.T) {
	backend := newFakeBackend(reviewStream)
	c := session.NewController(backend, session.WithInputLimits(8, 16))
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	_, err := c.Launch(ctx, "a goal that is far too long")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, backend.goals, "rejected goals never reach the backend")
	assert.Equal(t, domain.StatusIdle, c.Snapshot().Status)

	require.NoError(t, c.Start(ctx, "go\x1b"))
	assert.Equal(t, []string{"go"}, backend.goals)

	require.ErrorIs(t, c.Edit(ctx, strings.Repeat("x", 17)), domain.ErrInvalidInput)
	require.ErrorIs(t, c.Revise(ctx, "", "bad \xff notes"), domain.ErrInvalidInput)
	assert.Empty(t, backend.revised)

	require.NoError(t, c.Revise(ctx, "v1\x00 ok", ""))
	require.Len(t, backend.revised, 1)
	assert.Equal(t, "v1 ok", backend.revised[0].EditedDraft)
}
