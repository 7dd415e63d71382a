package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics groups the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	refreshes      *prometheus.CounterVec
	refreshSeconds *prometheus.HistogramVec
	staleDiscards  *prometheus.CounterVec
	mutations      *prometheus.CounterVec
	handoffs       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tupa",
			Name:      "refresh_total",
			Help:      "Collection refreshes by outcome.",
		}, []string{"collection", "outcome"}),
		refreshSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tupa",
			Name:      "refresh_duration_seconds",
			Help:      "Time spent fetching a collection window.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection"}),
		staleDiscards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tupa",
			Name:      "stale_refresh_discarded_total",
			Help:      "Refresh results dropped because a newer refresh was already applied.",
		}, []string{"collection"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tupa",
			Name:      "mutation_total",
			Help:      "Create, update and remove calls by outcome.",
		}, []string{"collection", "op", "outcome"}),
		handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tupa",
			Name:      "handoff_total",
			Help:      "Deep-link handoffs by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	m.registry.MustRegister(m.refreshes, m.refreshSeconds, m.staleDiscards, m.mutations, m.handoffs)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRefresh(collection string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(collection, outcome(err)).Inc()
	m.refreshSeconds.WithLabelValues(collection).Observe(elapsed.Seconds())
}

func (m *Metrics) StaleRefresh(collection string) {
	if m == nil {
		return
	}
	m.staleDiscards.WithLabelValues(collection).Inc()
}

func (m *Metrics) Mutation(collection, op string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(collection, op, outcome(err)).Inc()
}

func (m *Metrics) Handoff(kind string, err error) {
	if m == nil {
		return
	}
	m.handoffs.WithLabelValues(kind, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
