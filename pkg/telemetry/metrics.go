package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Job queue ───────────────────────────────────────────────────────────────

	QueueJobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zarzoom",
		Subsystem: "queue",
		Name:      "jobs_enqueued_total",
		Help:      "Total jobs enqueued, labelled by type and initial status.",
	}, []string{"type", "status"})

	QueueJobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zarzoom",
		Subsystem: "queue",
		Name:      "jobs_claimed_total",
		Help:      "Total jobs claimed by polling workers.",
	}, []string{"type"})

	QueueJobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zarzoom",
		Subsystem: "queue",
		Name:      "jobs_finished_total",
		Help:      "Total jobs reaching a terminal state, labelled by type and status.",
	}, []string{"type", "status"})

	QueueJobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zarzoom",
		Subsystem: "queue",
		Name:      "jobs_retried_total",
		Help:      "Total failed attempts rescheduled with backoff.",
	}, []string{"type"})

	QueuePushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zarzoom",
		Subsystem: "queue",
		Name:      "push_failures_total",
		Help:      "Total push deliveries that failed and fell back to polling.",
	})

	// ─── Billing webhooks ────────────────────────────────────────────────────────

	WebhookEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zarzoom",
		Subsystem: "billing",
		Name:      "webhook_events_received_total",
		Help:      "Total inbound webhook deliveries, labelled by outcome.",
	}, []string{"outcome"}) // admitted | duplicate | bad_signature

	WebhookProcessingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zarzoom",
		Subsystem: "billing",
		Name:      "webhook_processing_failures_total",
		Help:      "Reconciliation failures absorbed at the HTTP boundary.",
	}, []string{"event_type"})

	ReconcilerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zarzoom",
		Subsystem: "billing",
		Name:      "reconciler_writes_total",
		Help:      "Subscription mutations applied, labelled by event type.",
	}, []string{"event_type"})

	WebhookIngestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zarzoom",
		Subsystem: "billing",
		Name:      "webhook_ingest_seconds",
		Help:      "End-to-end webhook ingest time in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"outcome"})

	// ─── Scheduler ───────────────────────────────────────────────────────────────

	SchedulerJobsPushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zarzoom",
		Subsystem: "scheduler",
		Name:      "jobs_pushed_total",
		Help:      "Due scheduled jobs pushed to the worker.",
	})

	SchedulerSchedulesFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zarzoom",
		Subsystem: "scheduler",
		Name:      "schedules_fired_total",
		Help:      "Recurring schedules fired, labelled by job type.",
	}, []string{"job_type"})
)
