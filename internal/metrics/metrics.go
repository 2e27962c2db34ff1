package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes, labelled by channel and final status of the attempt.
var (
	OutboundSendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadpilot",
		Name:      "outbound_send_total",
		Help:      "Outbound delivery attempts by channel and outcome status",
	}, []string{"channel", "status"})

	OutboundEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadpilot",
		Name:      "outbound_enqueued_total",
		Help:      "Messages accepted into the outbound queue by channel",
	}, []string{"channel"})

	QuotaDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadpilot",
		Name:      "quota_denied_total",
		Help:      "Sends deferred because the tenant quota was exhausted",
	}, []string{"channel"})

	PolicyBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadpilot",
		Name:      "policy_blocked_total",
		Help:      "Sends rejected by channel policy before reaching a provider",
	}, []string{"channel", "reason"})
)

// Queue health, maintained by the alerting sweep.
var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leadpilot",
		Name:      "queue_depth",
		Help:      "Messages currently waiting for dispatch",
	})

	DeadLetterDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leadpilot",
		Name:      "dead_letter_depth",
		Help:      "Messages in terminal FAILED state",
	})

	StuckMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leadpilot",
		Name:      "stuck_messages",
		Help:      "Messages currently stuck in dispatch past the alert threshold",
	})
)

// Webhook ingestion.
var (
	WebhookRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadpilot",
		Name:      "webhook_rejected_total",
		Help:      "Webhook deliveries rejected before processing",
	}, []string{"reason"})

	WebhookDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leadpilot",
		Name:      "webhook_duplicate_total",
		Help:      "Inbound messages skipped as already processed",
	})

	InboundProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leadpilot",
		Name:      "inbound_processed_total",
		Help:      "Inbound messages persisted from webhooks",
	})
)
