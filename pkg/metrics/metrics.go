// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PaymentEvents counts payment-confirmation outcomes by result:
	// applied, replay, orphaned, error.
	PaymentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shoptech",
		Name:      "payment_events_total",
		Help:      "Payment confirmation events by outcome.",
	}, []string{"result"})

	// WebhookRejects counts webhook deliveries rejected before processing.
	WebhookRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shoptech",
		Name:      "webhook_rejects_total",
		Help:      "Webhook deliveries rejected by reason.",
	}, []string{"reason"})

	// NotificationFailures counts order-confirmation notifications that
	// could not be delivered.
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shoptech",
		Name:      "notification_failures_total",
		Help:      "Order confirmation notifications that failed to send.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
