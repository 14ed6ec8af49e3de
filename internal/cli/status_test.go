package cli

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/aretw0/foundry/internal/logging"
	"github.com/aretw0/foundry/internal/presentation/tui"
	"github.com/aretw0/foundry/internal/testutils"
	httpadapter "github.com/aretw0/foundry/pkg/adapters/http"
	"github.com/aretw0/foundry/pkg/domain"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchStatus(t *testing.T) {
	backend := testutils.NewBackend(t)
	client := httpadapter.NewClient(backend.URL)

	state, err := fetchStatus(context.Background(), client, "t1", logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "t1", state.SessionID)
	assert.Equal(t, domain.StatusAwaitingReview, state.Status)
	assert.Equal(t, "v1", state.CurrentDraft)
	assert.Equal(t, "v1", state.Decision())
}

func TestFetchStatus_NotFound(t *testing.T) {
	backend := testutils.NewBackend(t)
	backend.SetReply("/status", http.StatusNotFound, `{"detail":"Thread not found"}`)
	client := httpadapter.NewClient(backend.URL)

	_, err := fetchStatus(context.Background(), client, "nope", logging.NewNop())
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

func TestWatchSnapshots(t *testing.T) {
	out := &bytes.Buffer{}
	view := tui.NewView(out, tui.PlainRenderer, termenv.Ascii)

	running := &domain.SessionState{SessionID: "t1", Status: domain.StatusRunning, Busy: true,
		EventLog: []domain.Event{{Type: "meta"}}}
	again := running.Snapshot()
	review := &domain.SessionState{SessionID: "t1", Status: domain.StatusAwaitingReview,
		EventLog: []domain.Event{{Type: "meta"}, {Type: "workflow_status"}}}
	other := &domain.SessionState{SessionID: "t2", Status: domain.StatusRunning}

	updates := make(chan *domain.SessionState, 4)
	updates <- running
	updates <- again
	updates <- other
	updates <- review
	close(updates)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, watchSnapshots(ctx, updates, "t1", view, out))

	text := out.String()
	assert.Equal(t, 1, bytes.Count([]byte(text), []byte("[RUNNING] t1")))
	assert.Contains(t, text, "[AWAITING_HUMAN_REVIEW] t1")
	assert.NotContains(t, text, "t2")
	assert.Equal(t, 1, bytes.Count([]byte(text), []byte("workflow_status")))
}
