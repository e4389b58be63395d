package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "storefront"

	// OutcomesMetricName is the fully-qualified name of the outcome counter.
	OutcomesMetricName = "storefront_reconcile_outcomes_total"
)

// ReconcileMetrics exposes counters/histograms for payment reconciliation.
type ReconcileMetrics struct {
	outcomes *prometheus.CounterVec
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	webhooks *prometheus.CounterVec
	handoffs *prometheus.CounterVec
}

func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	m := &ReconcileMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "outcomes_total",
			Help:      "Reconciliation outcomes by kind and resolving tier",
		}, []string{"outcome", "tier"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "attempts_total",
			Help:      "Collaborator calls made by each reconciliation tier",
		}, []string{"tier", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Wall time from gateway callback to outcome",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 6, 8, 10, 15},
		}, []string{"outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "webhook_total",
			Help:      "Gateway webhooks by provider and status",
		}, []string{"provider", "status"}),
		handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "gateway_results_total",
			Help:      "Gateway callback results (success, error, close)",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.outcomes, m.attempts, m.duration, m.webhooks, m.handoffs)
	return m
}

func (m *ReconcileMetrics) ObserveOutcome(outcome, tier string, seconds float64) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome, tier).Inc()
	m.duration.WithLabelValues(outcome).Observe(seconds)
}

func (m *ReconcileMetrics) ObserveAttempt(tier string, ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.attempts.WithLabelValues(tier, result).Inc()
}

func (m *ReconcileMetrics) ObserveWebhook(provider, status string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(provider, status).Inc()
}

func (m *ReconcileMetrics) ObserveGatewayResult(result string) {
	if m == nil {
		return
	}
	m.handoffs.WithLabelValues(result).Inc()
}
