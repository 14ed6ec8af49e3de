package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/foundry/pkg/domain"
	"github.com/aretw0/foundry/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Hooks(t *testing.T) {
	m := observability.NewMetrics()
	hooks := m.Hooks()
	ctx := context.Background()

	hooks.OnRecord(ctx, &domain.RecordEvent{Kind: "draft_update"})
	hooks.OnRecord(ctx, &domain.RecordEvent{Kind: ""})
	hooks.OnMalformed(ctx, &domain.MalformedEvent{Size: 12})
	hooks.OnTransition(ctx, &domain.TransitionEvent{From: domain.StatusIdle, To: domain.StatusRunning})
	hooks.OnCommand(ctx, &domain.CommandEvent{Command: "approve", Duration: time.Second})
	hooks.OnCommand(ctx, &domain.CommandEvent{Command: "approve", Err: errors.New("boom")})

	expected := `
# HELP foundry_records_total Stream records merged into the session, by record type.
# TYPE foundry_records_total counter
foundry_records_total{kind="draft_update"} 1
foundry_records_total{kind="untyped"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "foundry_records_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "foundry_malformed_frames_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(m.Registry(), "foundry_session_status"))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "foundry_command_failures_total"))
}

func TestMetrics_Handler(t *testing.T) {
	m := observability.NewMetrics()
	m.Hooks().OnTransition(context.Background(), &domain.TransitionEvent{From: domain.StatusRunning, To: domain.StatusAwaitingReview})

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `foundry_status_transitions_total{from="RUNNING",to="AWAITING_HUMAN_REVIEW"} 1`)
}
