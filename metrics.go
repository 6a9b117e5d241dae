package scopekit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the authorization core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	Invalidations   *prometheus.CounterVec
	ComputeDuration prometheus.Histogram
	StorageErrors   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with registerer.
// A nil registerer leaves them unregistered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopekit_decisions_total",
				Help: "Authorization decisions by outcome",
			},
			[]string{"outcome"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopekit_cache_hits_total",
			Help: "Effective permission set cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopekit_cache_misses_total",
			Help: "Effective permission set cache misses",
		}),
		Invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopekit_invalidations_total",
				Help: "Cache invalidations by kind",
			},
			[]string{"kind"},
		),
		ComputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scopekit_compute_duration_seconds",
			Help:    "Time spent resolving an effective permission set",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		StorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopekit_storage_errors_total",
			Help: "Authorization checks that could not be decided because storage failed",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.Decisions,
			m.CacheHits,
			m.CacheMisses,
			m.Invalidations,
			m.ComputeDuration,
			m.StorageErrors,
		)
	}
	return m
}

func (m *Metrics) decision(d Decision) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(d.Label()).Inc()
}

func (m *Metrics) cacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) cacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

func (m *Metrics) invalidation(kind InvalidationKind) {
	if m == nil {
		return
	}
	m.Invalidations.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) computed(start time.Time) {
	if m == nil {
		return
	}
	m.ComputeDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) storageError() {
	if m == nil {
		return
	}
	m.StorageErrors.Inc()
}
