package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the rental core
type Metrics struct {
	Registry *prometheus.Registry

	BookingTransitions *prometheus.CounterVec
	TokenExchanges     *prometheus.CounterVec
	GatewayCalls       *prometheus.CounterVec
	GatewayDuration    *prometheus.HistogramVec
	WebhookEvents      *prometheus.CounterVec
	DepositOperations  *prometheus.CounterVec
	RefundsTotal       prometheus.Counter
	RefundedAmount     *prometheus.CounterVec
	CronRuns           *prometheus.CounterVec
}

// NewMetrics registers collectors on a fresh registry.
// Each instance owns its registry so tests can build as many as they like.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		BookingTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_booking_transitions_total",
			Help: "Booking status transitions by target status and result",
		}, []string{"to", "result"}),

		TokenExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_token_exchanges_total",
			Help: "Booking token exchange attempts by result",
		}, []string{"result"}),

		GatewayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_gateway_calls_total",
			Help: "Payment gateway calls by operation and result",
		}, []string{"operation", "result"}),

		GatewayDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rental_gateway_call_duration_seconds",
			Help:    "Duration of payment gateway calls including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_webhook_events_total",
			Help: "Gateway webhook events by type and outcome",
		}, []string{"type", "outcome"}),

		DepositOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_deposit_operations_total",
			Help: "Security deposit hold, capture and release outcomes",
		}, []string{"operation", "result"}),

		RefundsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rental_refunds_total",
			Help: "Total number of completed refunds",
		}),

		RefundedAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_refunded_amount_total",
			Help: "Refunded amount in major units by currency",
		}, []string{"currency"}),

		CronRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_cron_runs_total",
			Help: "Scheduled job runs by job and result",
		}, []string{"job", "result"}),
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
