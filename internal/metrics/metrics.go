package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PricingResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unlocker_pricing_resolutions_total",
		Help: "Price resolutions by source (exact, device_fallback, global_default).",
	}, []string{"source"})

	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlocker_orders_created_total",
		Help: "Orders persisted in Pending state.",
	})

	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unlocker_settlements_total",
		Help: "Settlement events by source, requested state and outcome.",
	}, []string{"source", "state", "outcome"})

	Fulfillments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlocker_fulfillments_total",
		Help: "Fulfillment runs triggered by a first transition into Success.",
	})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unlocker_delivery_failures_total",
		Help: "Non-fatal document and notification failures.",
	}, []string{"kind"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unlocker_webhook_events_total",
		Help: "Webhook deliveries by event type and handling result.",
	}, []string{"event_type", "result"})
)
