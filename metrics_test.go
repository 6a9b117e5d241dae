package scopekit

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}

// TestNewMetricsRegisters verifies every collector is registered.
func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.decision(Allow("p", Key("order", "read"), "biz-1"))
	m.cacheHit()
	m.cacheMiss()
	m.invalidation(InvalidateRole)
	m.storageError()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"scopekit_decisions_total",
		"scopekit_cache_hits_total",
		"scopekit_cache_misses_total",
		"scopekit_invalidations_total",
		"scopekit_compute_duration_seconds",
		"scopekit_storage_errors_total",
	}, names)
}

// TestNilMetrics verifies a nil *Metrics records nothing and does not panic.
func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.decision(Deny(ReasonOutOfScope, "p", Key("order", "read"), "biz-2"))
		m.cacheHit()
		m.cacheMiss()
		m.invalidation(InvalidatePrincipal)
		m.storageError()
	})
}

// TestServiceDecisionMetrics verifies decisions are counted by outcome.
func TestServiceDecisionMetrics(t *testing.T) {
	m := NewMetrics(nil)
	f := newFixture(t, WithMetrics(m))
	orderRead := f.permission("order", "read")
	role := f.businessRole("manager", "biz-1", orderRead)
	f.principal("u1", LegacyManager, "biz-1", role)

	f.authorize("u1", Key("order", "read"), "biz-1")
	f.authorize("u1", Key("order", "read"), "biz-2")
	f.authorize("u1", Key("order", "write"), "biz-1")
	f.authorize("nobody", Key("order", "read"), "biz-1")

	assert.Equal(t, 1.0, counterValue(t, m.Decisions.WithLabelValues("allow")))
	assert.Equal(t, 1.0, counterValue(t, m.Decisions.WithLabelValues("out_of_scope")))
	assert.Equal(t, 1.0, counterValue(t, m.Decisions.WithLabelValues("permission_missing")))
	assert.Equal(t, 1.0, counterValue(t, m.Decisions.WithLabelValues("principal_not_found")))
	assert.Equal(t, 0.0, counterValue(t, m.StorageErrors))
}

// TestServiceStorageErrorMetric verifies undetermined checks are counted apart from denials.
func TestServiceStorageErrorMetric(t *testing.T) {
	m := NewMetrics(nil)
	store := &flakyStore{Store: NewMemoryStore(), broken: true}
	svc := NewService(store, WithMetrics(m))

	_, err := svc.Authorize(context.Background(), "u1", Key("order", "read"), "biz-1")
	require.Error(t, err)

	assert.Equal(t, 1.0, counterValue(t, m.StorageErrors))
	assert.Equal(t, 0, testutil.CollectAndCount(m.Decisions))
}
