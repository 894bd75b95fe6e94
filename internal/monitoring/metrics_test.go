package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.ObserveScore("high", time.Millisecond)
	m.ObserveChains(2, 3)
	m.ObserveAlert("critical")
	m.ObserveSuppressed()
	m.ObserveReload(nil)
	m.ObserveReload(errors.New("bad file"))
	m.ObserveDecision("confirmed")
	m.ObserveAnalysis(time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.scoresTotal.WithLabelValues("high")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.chainsBuilt.WithLabelValues("prorroga")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.chainsBuilt.WithLabelValues("isolated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsTotal.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsSuppressed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.referenceReloads.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerDecisions.WithLabelValues("confirmed")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveScore("none", 0)
		m.ObserveChains(1, 1)
		m.ObserveAlert("high")
		m.ObserveSuppressed()
		m.ObserveReload(nil)
		m.ObserveDecision("rejected")
		m.ObserveAnalysis(0)
	})
}
