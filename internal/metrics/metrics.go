// Package metrics exposes Prometheus counters for governance decisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission outcome label values.
const (
	OutcomeAllowed  = "allowed"
	OutcomeLimited  = "limited"
	OutcomeRejected = "rejected"
)

// Metrics holds the governance counters on a private registry so tests
// and embedded uses never collide with the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	admissionTotal  *prometheus.CounterVec
	budgetWaitTotal *prometheus.CounterVec
	quotaTotal      *prometheus.CounterVec
}

// New creates and registers the governance metric set.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admissionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardrail_admission_requests_total",
			Help: "Inbound requests by admission outcome.",
		}, []string{"outcome"}),
		budgetWaitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardrail_budget_wait_seconds_total",
			Help: "Seconds spent blocked on per-model minute windows.",
		}, []string{"model"}),
		quotaTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardrail_budget_quota_exhausted_total",
			Help: "Daily quota rejections by model.",
		}, []string{"model"}),
	}

	m.registry.MustRegister(m.admissionTotal, m.budgetWaitTotal, m.quotaTotal)
	return m
}

// Admission counts one inbound decision by outcome label.
func (m *Metrics) Admission(outcome string) {
	m.admissionTotal.WithLabelValues(outcome).Inc()
}

// BudgetWait implements budget.Observer.
func (m *Metrics) BudgetWait(model string, waited time.Duration) {
	m.budgetWaitTotal.WithLabelValues(model).Add(waited.Seconds())
}

// QuotaExhausted implements budget.Observer.
func (m *Metrics) QuotaExhausted(model string) {
	m.quotaTotal.WithLabelValues(model).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
