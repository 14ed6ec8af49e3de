package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/foundry/internal/logging"
	"github.com/aretw0/foundry/internal/runtime"
	"github.com/aretw0/foundry/pkg/domain"
	"github.com/aretw0/foundry/pkg/ports"
	"github.com/aretw0/foundry/pkg/protocol"
	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed Controller.
var ErrClosed = errors.New("controller closed")

// Command names reported to OnCommand hooks.
const (
	CommandStart   = "start"
	CommandApprove = "approve"
	CommandRevise  = "revise"
	CommandRefresh = "refresh"
)

// Controller drives one dashboard session against a Backend.
//
// All state changes go through a single writer guarded by mu. Delivery of the
// resulting snapshot happens under deliverMu, which is taken before mu is
// released, so observers see mutations in commit order without holding up the
// next merge.
type Controller struct {
	backend ports.Backend

	logger             *slog.Logger
	hooks              domain.LifecycleHooks
	sinks              []ports.SnapshotSink
	locker             ports.DistributedLocker
	lockTTL            time.Duration
	failOnCommandError bool
	subBuffer          int
	maxGoal            int
	maxDraft           int

	mu         sync.Mutex
	state      domain.SessionState
	gen        uint64 // bumped by every Launch and by Close; older streams stop committing
	runID      string
	cancel     context.CancelFunc
	streaming  bool
	commanding bool
	closed     bool

	deliverMu sync.Mutex
	subs      map[int]chan *domain.SessionState
	nextSub   int
}

// NewController creates a Controller in the IDLE state.
func NewController(backend ports.Backend, opts ...Option) *Controller {
	c := &Controller{
		backend:   backend,
		logger:    logging.NewNop(),
		lockTTL:   defaultLockTTL,
		subBuffer: defaultSubscriberBuffer,
		maxGoal:   DefaultMaxGoalSize,
		maxDraft:  DefaultMaxDraftSize,
		state:     *domain.NewSessionState(),
		subs:      make(map[int]chan *domain.SessionState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a deep copy of the current state.
func (c *Controller) Snapshot() *domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Start runs a new session for goal and blocks until its stream closes.
func (c *Controller) Start(ctx context.Context, goal string) error {
	done, err := c.Launch(ctx, goal)
	if err != nil {
		return err
	}
	return <-done
}

// Launch resets the session, opens the start stream and consumes it in the background.
// The stream lives as long as ctx. Any stream still open from a previous Launch is
// canceled and its remaining records are discarded.
// The returned channel yields the stream outcome once and is then closed.
func (c *Controller) Launch(ctx context.Context, goal string) (<-chan error, error) {
	goal, err := SanitizeInput(goal, c.maxGoal)
	if err != nil {
		return nil, fmt.Errorf("goal: %w", err)
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	case c.commanding:
		c.mu.Unlock()
		return nil, domain.ErrBusy
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	c.runID = uuid.NewString()
	log := c.logger.With("run_id", c.runID)
	streamCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.streaming = true
	c.commitLocked(ctx, c.state, runtime.Begin())

	started := time.Now()
	log.Info("starting session", "goal_len", len(goal))
	body, err := c.backend.Start(streamCtx, protocol.StartRequest{UserIntent: goal})
	if err != nil {
		cancel()
		err = fmt.Errorf("start: %w", err)
		c.finishStream(ctx, gen, func(s domain.SessionState) domain.SessionState {
			return runtime.FailStream(s, err)
		})
		log.Error("start request failed", "err", err)
		c.fireCommand(ctx, CommandStart, started, err)
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		defer cancel()
		err := c.consume(streamCtx, gen, body, log)
		c.fireCommand(ctx, CommandStart, started, err)
		done <- err
	}()
	return done, nil
}

func (c *Controller) consume(ctx context.Context, gen uint64, body io.ReadCloser, log *slog.Logger) error {
	defer body.Close()

	reader := protocol.NewStreamReader(body)
	for {
		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			if n := reader.Dropped(); n > 0 {
				log.Warn("dropping incomplete trailing frame", "bytes", n)
			}
			if !c.finishStream(ctx, gen, runtime.EndStream) {
				return domain.ErrSessionSuperseded
			}
			log.Info("stream closed")
			return nil
		}
		if err != nil {
			err = fmt.Errorf("stream: %w", err)
			if !c.finishStream(ctx, gen, func(s domain.SessionState) domain.SessionState {
				return runtime.FailStream(s, err)
			}) {
				return domain.ErrSessionSuperseded
			}
			log.Error("stream failed", "err", err)
			return err
		}

		rec, err := protocol.InterpretFrame(frame)
		if errors.Is(err, protocol.ErrNotDataFrame) {
			log.Debug("ignoring non-data frame", "bytes", len(frame))
			continue
		}
		if err != nil {
			log.Warn("skipping malformed record", "err", err, "bytes", len(frame))
			if c.hooks.OnMalformed != nil {
				c.hooks.OnMalformed(ctx, &domain.MalformedEvent{
					Timestamp: time.Now(),
					Size:      len(frame),
					Err:       err,
				})
			}
			continue
		}

		var (
			event     *domain.RecordEvent
			decodeErr error
		)
		ok := c.update(ctx, gen, func(prev domain.SessionState) domain.SessionState {
			if id, conflict := runtime.SessionIDConflict(prev, rec); conflict {
				log.Warn("ignoring foreign thread id", "session_id", prev.SessionID, "thread_id", id)
			}
			var next domain.SessionState
			next, decodeErr = runtime.Apply(prev, rec)
			event = &domain.RecordEvent{
				Timestamp: time.Now(),
				SessionID: next.SessionID,
				Kind:      string(rec.Kind),
				Status:    next.Status,
				Seq:       len(next.EventLog) - 1,
			}
			return next
		})
		if !ok {
			return domain.ErrSessionSuperseded
		}
		if decodeErr != nil {
			log.Warn("report payload did not decode", "kind", event.Kind, "err", decodeErr)
		}
		log.Debug("merged record", "kind", event.Kind, "status", event.Status, "session_id", event.SessionID)
		if c.hooks.OnRecord != nil {
			c.hooks.OnRecord(ctx, event)
		}
	}
}

// finishStream commits the closing transition of the stream owned by gen.
func (c *Controller) finishStream(ctx context.Context, gen uint64, fn func(domain.SessionState) domain.SessionState) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.streaming = false
	c.cancel = nil
	c.commitLocked(ctx, c.state, fn(c.state))
	return true
}

// Approve finalizes the draft under review. An empty draft sends the current decision.
func (c *Controller) Approve(ctx context.Context, draft string) error {
	draft, err := SanitizeInput(draft, c.maxDraft)
	if err != nil {
		return fmt.Errorf("draft: %w", err)
	}
	return c.runCommand(ctx, CommandApprove, func(ctx context.Context, s domain.SessionState) ([]byte, error) {
		if draft == "" {
			draft = s.Decision()
		}
		return c.backend.Approve(ctx, protocol.ApproveRequest{ThreadID: s.SessionID, FinalDraft: draft})
	})
}

// Revise sends the draft back for another iteration. An empty draft sends the current decision;
// empty notes are omitted from the request.
func (c *Controller) Revise(ctx context.Context, draft, notes string) error {
	draft, err := SanitizeInput(draft, c.maxDraft)
	if err != nil {
		return fmt.Errorf("draft: %w", err)
	}
	if notes, err = SanitizeInput(notes, c.maxDraft); err != nil {
		return fmt.Errorf("notes: %w", err)
	}
	return c.runCommand(ctx, CommandRevise, func(ctx context.Context, s domain.SessionState) ([]byte, error) {
		if draft == "" {
			draft = s.Decision()
		}
		req := protocol.ReviseRequest{ThreadID: s.SessionID, EditedDraft: draft}
		if notes != "" {
			req.RevisionNotes = &notes
		}
		return c.backend.Revise(ctx, req)
	})
}

func (c *Controller) gateLocked() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.commanding, c.streaming && c.state.Busy:
		return domain.ErrBusy
	case c.state.SessionID == "":
		return domain.ErrNoSession
	case c.state.Status.IsTerminal():
		return domain.ErrTerminal
	case !c.state.Reviewing():
		return domain.ErrNotAwaitingReview
	}
	return nil
}

func (c *Controller) runCommand(ctx context.Context, name string, call func(context.Context, domain.SessionState) ([]byte, error)) error {
	started := time.Now()

	c.mu.Lock()
	if err := c.gateLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.commanding = true
	gen := c.gen
	inFlight := runtime.BeginCommand(c.state)
	c.commitLocked(ctx, c.state, inFlight)

	rec, err := c.call(ctx, inFlight.SessionID, name, func(ctx context.Context) ([]byte, error) {
		return call(ctx, inFlight)
	})

	c.mu.Lock()
	c.commanding = false
	if gen != c.gen {
		c.mu.Unlock()
		c.fireCommand(ctx, name, started, domain.ErrSessionSuperseded)
		return domain.ErrSessionSuperseded
	}
	if err != nil {
		c.commitLocked(ctx, c.state, runtime.FailCommand(c.state, err, c.failOnCommandError))
		c.logger.Error("command failed", "command", name, "session_id", inFlight.SessionID, "err", err)
	} else {
		next, decodeErr := runtime.ApplyCommandResponse(c.state, rec)
		c.commitLocked(ctx, c.state, next)
		if decodeErr != nil {
			c.logger.Warn("report payload did not decode", "command", name, "session_id", inFlight.SessionID, "err", decodeErr)
		}
		c.logger.Info("command applied", "command", name, "session_id", inFlight.SessionID)
	}
	c.fireCommand(ctx, name, started, err)
	return err
}

// call performs one backend command under the optional distributed lock and decodes the response.
func (c *Controller) call(ctx context.Context, threadID, name string, fn func(context.Context) ([]byte, error)) (*protocol.Record, error) {
	if c.locker != nil {
		unlock, err := c.locker.Lock(ctx, "session:"+threadID, c.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn("failed to release session lock", "session_id", threadID, "err", err)
			}
		}()
	}

	body, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	rec, err := protocol.Interpret(string(body))
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", name, err)
	}
	return rec, nil
}

// Refresh pulls the backend's view of the session. Failures only set last_error.
// It counts as a command: it is refused while another command is in flight and
// holds off approve and revise until its snapshot is applied.
func (c *Controller) Refresh(ctx context.Context) error {
	started := time.Now()

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.commanding:
		c.mu.Unlock()
		return domain.ErrBusy
	case c.state.SessionID == "":
		c.mu.Unlock()
		return domain.ErrNoSession
	}
	c.commanding = true
	id, gen := c.state.SessionID, c.gen
	c.mu.Unlock()

	rec, err := c.call(ctx, id, CommandRefresh, func(ctx context.Context) ([]byte, error) {
		return c.backend.Status(ctx, id)
	})

	c.mu.Lock()
	c.commanding = false
	if gen != c.gen {
		c.mu.Unlock()
		c.fireCommand(ctx, CommandRefresh, started, domain.ErrSessionSuperseded)
		return domain.ErrSessionSuperseded
	}
	if err != nil {
		c.commitLocked(ctx, c.state, runtime.RecordError(c.state, err))
	} else {
		next, decodeErr := runtime.ApplyStatusSnapshot(c.state, rec)
		c.commitLocked(ctx, c.state, next)
		if decodeErr != nil {
			c.logger.Warn("report payload did not decode", "command", CommandRefresh, "session_id", id, "err", decodeErr)
		}
	}
	c.fireCommand(ctx, CommandRefresh, started, err)
	return err
}

// Edit replaces the working copy of the draft under review.
func (c *Controller) Edit(ctx context.Context, text string) error {
	text, err := SanitizeInput(text, c.maxDraft)
	if err != nil {
		return fmt.Errorf("draft: %w", err)
	}

	c.mu.Lock()
	if c.commanding {
		c.mu.Unlock()
		return domain.ErrBusy
	}
	next, err := runtime.Edit(c.state, text)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.commitLocked(ctx, c.state, next)
	return nil
}

// DiscardEdits resets the working copy to the canonical draft.
func (c *Controller) DiscardEdits(ctx context.Context) {
	c.mu.Lock()
	c.commitLocked(ctx, c.state, runtime.DiscardEdits(c.state))
}

// Subscribe returns a channel that receives the current snapshot followed by every later one.
// A slow subscriber misses intermediate snapshots but always gets the latest.
// The returned func unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan *domain.SessionState, func()) {
	ch := make(chan *domain.SessionState, c.subBuffer)

	c.mu.Lock()
	closed := c.closed
	snap := c.state.Snapshot()
	c.deliverMu.Lock()
	c.mu.Unlock()
	defer c.deliverMu.Unlock()

	if closed {
		close(ch)
		return ch, func() {}
	}
	ch <- snap
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.deliverMu.Lock()
			defer c.deliverMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// Close cancels any open stream and closes all subscriber channels.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.streaming = false
	c.deliverMu.Lock()
	c.mu.Unlock()
	defer c.deliverMu.Unlock()

	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	return nil
}

// update applies fn to the state owned by gen. It reports false if gen was superseded.
func (c *Controller) update(ctx context.Context, gen uint64, fn func(domain.SessionState) domain.SessionState) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.commitLocked(ctx, c.state, fn(c.state))
	return true
}

// commitLocked stores next and delivers it. The caller holds mu; it is released here.
func (c *Controller) commitLocked(ctx context.Context, prev, next domain.SessionState) {
	c.state = next
	snap := next.Snapshot()
	c.deliverMu.Lock()
	c.mu.Unlock()
	defer c.deliverMu.Unlock()

	if prev.Status != snap.Status && c.hooks.OnTransition != nil {
		c.hooks.OnTransition(ctx, &domain.TransitionEvent{
			Timestamp: time.Now(),
			SessionID: snap.SessionID,
			From:      prev.Status,
			To:        snap.Status,
		})
	}

	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range c.sinks {
		if err := sink.Publish(sinkCtx, snap); err != nil {
			c.logger.Warn("snapshot sink failed", "session_id", snap.SessionID, "err", err)
		}
	}

	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			// Full: drop the oldest pending snapshot so the newest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (c *Controller) fireCommand(ctx context.Context, name string, started time.Time, err error) {
	if c.hooks.OnCommand == nil {
		return
	}
	c.hooks.OnCommand(ctx, &domain.CommandEvent{
		Timestamp: time.Now(),
		SessionID: c.Snapshot().SessionID,
		Command:   name,
		Duration:  time.Since(started),
		Err:       err,
	})
}
