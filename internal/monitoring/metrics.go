// Package monitoring exposes the service's Prometheus metrics.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "prorroga"

// Metrics holds every collector the service records into. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	scoresTotal      *prometheus.CounterVec
	scoreDuration    prometheus.Histogram
	chainsBuilt      *prometheus.CounterVec
	alertsTotal      *prometheus.CounterVec
	alertsSuppressed prometheus.Counter
	referenceReloads *prometheus.CounterVec
	ledgerDecisions  *prometheus.CounterVec
	analysisDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with registerer.
// A nil registerer uses the default Prometheus registry.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		scoresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_total",
			Help:      "Correlation scores computed, by confidence tier.",
		}, []string{"tier"}),
		scoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "score_duration_seconds",
			Help:      "Time spent scoring one code pair.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		}),
		chainsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chains_built_total",
			Help:      "Chains built, by kind (prorroga or isolated).",
		}, []string{"kind"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts generated, by tier.",
		}, []string{"tier"}),
		alertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alerts suppressed because they were already sent inside the dedup window.",
		}),
		referenceReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reference_reloads_total",
			Help:      "Reference data reload attempts, by result.",
		}, []string{"result"}),
		ledgerDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_decisions_total",
			Help:      "Reviewer decisions recorded in the correlation ledger.",
		}, []string{"decision"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent analyzing one subject.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.scoresTotal,
		m.scoreDuration,
		m.chainsBuilt,
		m.alertsTotal,
		m.alertsSuppressed,
		m.referenceReloads,
		m.ledgerDecisions,
		m.analysisDuration,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveScore records one scored pair.
func (m *Metrics) ObserveScore(tier string, d time.Duration) {
	if m == nil {
		return
	}
	m.scoresTotal.WithLabelValues(tier).Inc()
	m.scoreDuration.Observe(d.Seconds())
}

// ObserveChains records the chains built for one subject.
func (m *Metrics) ObserveChains(prorroga, isolated int) {
	if m == nil {
		return
	}
	m.chainsBuilt.WithLabelValues("prorroga").Add(float64(prorroga))
	m.chainsBuilt.WithLabelValues("isolated").Add(float64(isolated))
}

// ObserveAlert records one generated alert.
func (m *Metrics) ObserveAlert(tier string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(tier).Inc()
}

// ObserveSuppressed records an alert dropped by de-duplication.
func (m *Metrics) ObserveSuppressed() {
	if m == nil {
		return
	}
	m.alertsSuppressed.Inc()
}

// ObserveReload records a reference reload attempt.
func (m *Metrics) ObserveReload(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.referenceReloads.WithLabelValues(result).Inc()
}

// ObserveDecision records a ledger decision.
func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.ledgerDecisions.WithLabelValues(outcome).Inc()
}

// ObserveAnalysis records the time spent analyzing one subject.
func (m *Metrics) ObserveAnalysis(d time.Duration) {
	if m == nil {
		return
	}
	m.analysisDuration.Observe(d.Seconds())
}
