// Package metrics holds the service's Prometheus instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_webhook_events_total",
			Help: "Webhook deliveries by event type and outcome",
		},
		[]string{"type", "outcome"},
	)

	WebhookDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payments_webhook_duration_seconds",
			Help:    "End-to-end webhook processing duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	SessionConfirmTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_session_confirm_total",
			Help: "Session confirmation requests by outcome",
		},
		[]string{"outcome"},
	)

	ProvisionCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_provision_created_total",
			Help: "New identities created from completed checkouts",
		},
	)
)

// Register registers all collectors with the default registry. Call once
// from main.
func Register() {
	prometheus.MustRegister(
		WebhookEventsTotal,
		WebhookDuration,
		SessionConfirmTotal,
		ProvisionCreatedTotal,
	)
}
