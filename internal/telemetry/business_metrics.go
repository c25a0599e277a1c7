package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for cart and checkout observability.
type BusinessMetrics struct {
	// Cart
	CartCreated  prometheus.Counter
	CartUpdated  *prometheus.CounterVec
	CartCleared  prometheus.Counter
	CartResets   *prometheus.CounterVec
	CartValue    prometheus.Histogram
	PromoApplied *prometheus.CounterVec

	// Checkout funnel
	CheckoutStarted  *prometheus.CounterVec
	PaymentSucceeded *prometheus.CounterVec
	PaymentFailed    *prometheus.CounterVec

	// Orders
	OrdersCreated    *prometheus.CounterVec
	OrderValue       *prometheus.HistogramVec
	SettlementReplay *prometheus.CounterVec

	// Webhooks
	WebhookReceived *prometheus.CounterVec
	WebhookFailed   *prometheus.CounterVec
	WebhookLatency  *prometheus.HistogramVec

	// Background jobs
	JobsProcessed *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	EventsRelayed *prometheus.CounterVec

	// Email delivery
	EmailSent   *prometheus.CounterVec
	EmailFailed *prometheus.CounterVec

	// External API performance
	ProviderAPILatency *prometheus.HistogramVec
}

// NewBusinessMetrics creates business metrics and registers them with reg.
// A nil reg uses the default Prometheus registerer.
func NewBusinessMetrics(namespace string, reg prometheus.Registerer) *BusinessMetrics {
	if namespace == "" {
		namespace = "aroma"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	subsystem := "business"

	return &BusinessMetrics{
		// =======================================================================
		// Cart
		// =======================================================================
		CartCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "carts_created_total",
			Help:      "Total carts minted for new or unresolvable tokens",
		}),
		CartUpdated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cart_updates_total",
				Help:      "Total cart mutations by action",
			},
			[]string{"action"}, // action: add, update, remove, apply_promo, remove_promo
		),
		CartCleared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "carts_cleared_total",
			Help:      "Total explicit cart clears",
		}),
		CartResets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cart_resets_total",
				Help:      "Requests that presented a stale cart token",
			},
			[]string{"action"},
		),
		CartValue: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cart_value",
			Help:      "Cart total after a mutation, in major currency units",
			Buckets:   []float64{10, 25, 50, 100, 200, 500, 1000, 2500},
		}),
		PromoApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "promo_applications_total",
				Help:      "Promo code applications by outcome",
			},
			[]string{"result"}, // result: applied, not_found, below_minimum
		),

		// =======================================================================
		// Checkout Funnel
		// =======================================================================
		CheckoutStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_started_total",
				Help:      "Payment sessions initialized",
			},
			[]string{"provider"},
		),
		PaymentSucceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payments_succeeded_total",
				Help:      "Payments the provider confirmed as successful",
			},
			[]string{"provider"},
		),
		PaymentFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payments_failed_total",
				Help:      "Payments the provider reported as not successful",
			},
			[]string{"provider", "status"},
		),

		// =======================================================================
		// Orders
		// =======================================================================
		OrdersCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "orders_created_total",
				Help:      "Orders created by settlement",
			},
			[]string{"provider"},
		),
		OrderValue: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_value",
				Help:      "Order total in major currency units",
				Buckets:   []float64{10, 25, 50, 100, 200, 500, 1000, 2500},
			},
			[]string{"currency"},
		),
		SettlementReplay: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "settlement_replays_total",
				Help:      "Verifications answered with an order that already existed",
			},
			[]string{"source"}, // source: lookup, race
		),

		// =======================================================================
		// Webhooks
		// =======================================================================
		WebhookReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_received_total",
				Help:      "Total provider webhooks received",
			},
			[]string{"provider", "event_type"},
		),
		WebhookFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_failed_total",
				Help:      "Total provider webhooks that failed processing",
			},
			[]string{"provider", "reason"},
		),
		WebhookLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook processing duration",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),

		// =======================================================================
		// Background Jobs
		// =======================================================================
		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_processed_total",
				Help:      "Total background jobs successfully processed",
			},
			[]string{"job_type"},
		),
		JobsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_failed_total",
				Help:      "Total background job failures",
			},
			[]string{"job_type"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_duration_seconds",
				Help:      "Background job execution duration",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"job_type"},
		),
		EventsRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "outbox_events_relayed_total",
				Help:      "Outbox events published to the broker",
			},
			[]string{"topic"},
		),

		// =======================================================================
		// Email Delivery
		// =======================================================================
		EmailSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "emails_sent_total",
				Help:      "Total emails sent by type",
			},
			[]string{"email_type"},
		),
		EmailFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "emails_failed_total",
				Help:      "Total email delivery failures",
			},
			[]string{"email_type"},
		),

		// =======================================================================
		// External API Performance
		// =======================================================================
		ProviderAPILatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_provider_duration_seconds",
				Help:      "Payment provider API call duration",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "operation"}, // operation: initialize, verify
		),
	}
}
