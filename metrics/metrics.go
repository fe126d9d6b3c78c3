/*
Package metrics exposes reconciliation counters to Prometheus.

Collector implements billing.Observer, so it can be handed straight to
billing.WithObserver. Handler serves the collector's registry.

METRICS:
  billing_payments_applied_total{status}      payments recorded, by resulting status
  billing_payment_amount_total                sum of credited amounts
  billing_payments_reverted_total             undo operations
  billing_payments_rejected_total{reason}     failed apply/undo, by error class
*/
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/billing"
)

const namespace = "billing"

// Collector counts reconciliation outcomes.
type Collector struct {
	registry *prometheus.Registry

	applied  *prometheus.CounterVec
	amount   prometheus.Counter
	reverted prometheus.Counter
	rejected *prometheus.CounterVec
}

// New registers the billing collectors on a fresh registry, alongside the
// Go runtime and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_applied_total",
			Help:      "Installment payments recorded, by resulting status.",
		}, []string{"status"}),
		amount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_amount_total",
			Help:      "Sum of amounts credited to installments.",
		}),
		reverted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_reverted_total",
			Help:      "Installment payments undone.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_rejected_total",
			Help:      "Payment operations that failed, by reason.",
		}, []string{"reason"}),
	}

	c.registry.MustRegister(
		c.applied, c.amount, c.reverted, c.rejected,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the collectors live on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) PaymentApplied(status billing.PaymentStatus, amount decimal.Decimal) {
	c.applied.WithLabelValues(string(status)).Inc()
	c.amount.Add(amount.InexactFloat64())
}

func (c *Collector) PaymentReverted() { c.reverted.Inc() }

func (c *Collector) PaymentRejected(reason error) {
	c.rejected.WithLabelValues(Reason(reason)).Inc()
}

// Reason maps an error to a low-cardinality label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, billing.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, billing.ErrOverpayment):
		return "overpayment"
	case errors.Is(err, billing.ErrInstallmentSettled):
		return "settled"
	case errors.Is(err, billing.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, billing.ErrDuplicateIdempotencyKey):
		return "duplicate"
	case errors.Is(err, billing.ErrClientNotFound),
		errors.Is(err, billing.ErrInstallmentNotFound),
		errors.Is(err, billing.ErrPaymentNotFound):
		return "not_found"
	case errors.Is(err, billing.ErrNoFeeContract):
		return "no_contract"
	default:
		return "internal"
	}
}

var _ billing.Observer = (*Collector)(nil)
