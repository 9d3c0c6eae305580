// Package metrics exposes Prometheus instrumentation for the turn pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal            *prometheus.CounterVec
	DecisionsTotal        *prometheus.CounterVec
	DispatchTotal         *prometheus.CounterVec
	NLURetriesTotal       prometheus.Counter
	TranscriptionFailures *prometheus.CounterVec
	LockBusyTotal         prometheus.Counter
	TurnDuration          prometheus.Histogram
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebank_turns_total",
			Help: "Processed conversation turns by input kind.",
		}, []string{"kind"}),
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebank_decisions_total",
			Help: "Dialogue decisions by kind.",
		}, []string{"kind"}),
		DispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebank_dispatch_total",
			Help: "Ledger dispatch outcomes by final action status.",
		}, []string{"status"}),
		NLURetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebank_nlu_retries_total",
			Help: "Transient language model failures that were retried.",
		}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebank_transcription_failures_total",
			Help: "Voice note transcription failures by kind.",
		}, []string{"kind"}),
		LockBusyTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebank_session_lock_busy_total",
			Help: "Turns rejected because the session lock stayed held.",
		}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebank_turn_duration_seconds",
			Help:    "End-to-end turn processing latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
