package observability

import (
	"context"
	"net/http"

	"github.com/aretw0/foundry/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "foundry"

// Metrics holds the collectors fed by the controller hooks.
type Metrics struct {
	registry *prometheus.Registry

	records     *prometheus.CounterVec
	malformed   prometheus.Counter
	transitions *prometheus.CounterVec
	commands    *prometheus.HistogramVec
	failures    *prometheus.CounterVec
	status      *prometheus.GaugeVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Stream records merged into the session, by record type.",
		}, []string{"kind"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Data frames skipped because the payload was not a JSON object.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Session status changes.",
		}, []string{"from", "to"}),
		commands: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of start, approve, revise and refresh calls.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
		}, []string{"command"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_failures_total",
			Help:      "Commands that returned an error.",
		}, []string{"command"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_status",
			Help:      "1 for the current session status, 0 otherwise.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.records, m.malformed, m.transitions, m.commands, m.failures, m.status)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks returns lifecycle hooks that feed the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRecord: func(_ context.Context, e *domain.RecordEvent) {
			kind := e.Kind
			if kind == "" {
				kind = "untyped"
			}
			m.records.WithLabelValues(kind).Inc()
		},
		OnMalformed: func(context.Context, *domain.MalformedEvent) {
			m.malformed.Inc()
		},
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			m.transitions.WithLabelValues(string(e.From), string(e.To)).Inc()
			m.status.WithLabelValues(string(e.From)).Set(0)
			m.status.WithLabelValues(string(e.To)).Set(1)
		},
		OnCommand: func(_ context.Context, e *domain.CommandEvent) {
			m.commands.WithLabelValues(e.Command).Observe(e.Duration.Seconds())
			if e.Err != nil {
				m.failures.WithLabelValues(e.Command).Inc()
			}
		},
	}
}
