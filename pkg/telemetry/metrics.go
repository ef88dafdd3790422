package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Webhook ─────────────────────────────────────────────────────────────────

	WebhookMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoicebot",
		Subsystem: "webhook",
		Name:      "messages_total",
		Help:      "Total inbound WhatsApp messages, labelled by the session state that handled them.",
	}, []string{"state"})

	WebhookTasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoicebot",
		Subsystem: "webhook",
		Name:      "tasks_enqueued_total",
		Help:      "Total tasks published to the work queues.",
	}, []string{"kind"})

	WebhookRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "invoicebot",
		Subsystem: "webhook",
		Name:      "rate_limited_total",
		Help:      "Total inbound messages rejected by the rate limiter.",
	})

	WebhookSessionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "invoicebot",
		Subsystem: "webhook",
		Name:      "session_conflicts_total",
		Help:      "Total session updates abandoned after losing the optimistic write race.",
	})

	// ─── Worker ──────────────────────────────────────────────────────────────────

	WorkerTasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoicebot",
		Subsystem: "worker",
		Name:      "tasks_processed_total",
		Help:      "Total tasks processed, labelled by kind and terminal outcome.",
	}, []string{"kind", "outcome"})

	WorkerTaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "invoicebot",
		Subsystem: "worker",
		Name:      "task_duration_seconds",
		Help:      "End-to-end task processing time in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"kind"})

	WorkerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoicebot",
		Subsystem: "worker",
		Name:      "retries_total",
		Help:      "Total retry attempts.",
	}, []string{"kind"})

	WorkerDLQTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoicebot",
		Subsystem: "worker",
		Name:      "dlq_total",
		Help:      "Total messages forwarded to the dead-letter queue.",
	}, []string{"kind"})

	// ─── Responder ───────────────────────────────────────────────────────────────

	ResponderDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoicebot",
		Subsystem: "responder",
		Name:      "delivered_total",
		Help:      "Total result messages delivered to users, labelled by outcome.",
	}, []string{"outcome"})

	ResponderDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "invoicebot",
		Subsystem: "responder",
		Name:      "duplicates_total",
		Help:      "Total redelivered results absorbed by the dedup check.",
	})

	ResponderSuppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "invoicebot",
		Subsystem: "responder",
		Name:      "suppressed_total",
		Help:      "Total results dropped because the session no longer waits on them.",
	})

	ResponderSendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "invoicebot",
		Subsystem: "responder",
		Name:      "send_failures_total",
		Help:      "Total outbound sends that failed after exhausting retries.",
	})

	// ─── Sweeper ─────────────────────────────────────────────────────────────────

	SweeperTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoicebot",
		Subsystem: "sweeper",
		Name:      "timeouts_total",
		Help:      "Total tasks failed by the timeout sweep.",
	}, []string{"kind"})
)
