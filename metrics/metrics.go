// Package metrics exposes the engine's Prometheus instruments.
//
// A nil *Metrics is valid and records nothing, so engine services can be
// constructed without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "settlement_"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultLocked  = "locked"
)

// Metrics holds every instrument of the engine.
type Metrics struct {
	settlementRuns    *prometheus.CounterVec
	settlementLatency *prometheus.HistogramVec
	invoicesGenerated *prometheus.CounterVec
	paymentsApplied   *prometheus.CounterVec
	paymentAmount     prometheus.Counter
	sepaExports       *prometheus.CounterVec
	periodRejections  prometheus.Counter
	periodTransitions *prometheus.CounterVec
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settlementRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "runs_total",
				Help: "Total operating cost settlement runs by result",
			},
			[]string{"result"},
		),
		settlementLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "run_latency_seconds",
				Help:    "Operating cost settlement latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		invoicesGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoices_generated_total",
				Help: "Total monthly invoice generation runs by result",
			},
			[]string{"result"},
		),
		paymentsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payments_applied_total",
				Help: "Total payment applications by result",
			},
			[]string{"result"},
		),
		paymentAmount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "payment_allocated_eur_total",
				Help: "Sum of allocated payment amounts in EUR",
			},
		),
		sepaExports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sepa_exports_total",
				Help: "Total SEPA exports by message type and result",
			},
			[]string{"message", "result"},
		),
		periodRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "period_lock_rejections_total",
				Help: "Total writes rejected because the booking period is locked",
			},
		),
		periodTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "period_transitions_total",
				Help: "Total booking period lock and unlock operations",
			},
			[]string{"action"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.settlementRuns,
			m.settlementLatency,
			m.invoicesGenerated,
			m.paymentsApplied,
			m.paymentAmount,
			m.sepaExports,
			m.periodRejections,
			m.periodTransitions,
		)
	}
	return m
}

// ObserveSettlementRun records one settlement run.
func (m *Metrics) ObserveSettlementRun(result string, started time.Time) {
	if m == nil {
		return
	}
	m.settlementRuns.WithLabelValues(result).Inc()
	m.settlementLatency.WithLabelValues(result).Observe(time.Since(started).Seconds())
}

// IncInvoicesGenerated records one monthly invoice run.
func (m *Metrics) IncInvoicesGenerated(result string) {
	if m == nil {
		return
	}
	m.invoicesGenerated.WithLabelValues(result).Inc()
}

// ObservePayment records one payment application. amount is only added on success.
func (m *Metrics) ObservePayment(result string, amount float64) {
	if m == nil {
		return
	}
	m.paymentsApplied.WithLabelValues(result).Inc()
	if result == ResultSuccess && amount > 0 {
		m.paymentAmount.Add(amount)
	}
}

// IncSEPAExport records one generated (or rejected) SEPA document.
func (m *Metrics) IncSEPAExport(message, result string) {
	if m == nil {
		return
	}
	m.sepaExports.WithLabelValues(message, result).Inc()
}

// IncPeriodRejection records a write blocked by a locked period.
func (m *Metrics) IncPeriodRejection() {
	if m == nil {
		return
	}
	m.periodRejections.Inc()
}

// IncPeriodTransition records a lock or unlock.
func (m *Metrics) IncPeriodTransition(action string) {
	if m == nil {
		return
	}
	m.periodTransitions.WithLabelValues(action).Inc()
}
