// Package metrics exposes Prometheus collectors for the outreach engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LeadTransitions counts lifecycle transitions by event and resulting status.
	LeadTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Lead state transitions by event and target status.",
	}, []string{"event", "to"})

	// InvalidTransitions counts event/status pairs rejected by the decision table.
	InvalidTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "lifecycle",
		Name:      "invalid_transitions_total",
		Help:      "Events ignored because the current status does not accept them.",
	}, []string{"event", "from"})

	// WarmupSends counts warmup emails dispatched by mode.
	WarmupSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "warmup",
		Name:      "sends_total",
		Help:      "Warmup emails sent, by warmup mode.",
	}, []string{"mode"})

	// WarmupQuota records the computed daily quota per inbox at dispatch time.
	WarmupQuota = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "outreach",
		Subsystem: "warmup",
		Name:      "daily_quota",
		Help:      "Effective daily warmup quota per inbox.",
	}, []string{"inbox_id"})

	// InboxHealth records the last computed health score per inbox.
	InboxHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "outreach",
		Subsystem: "health",
		Name:      "inbox_score",
		Help:      "Deliverability health score (0-100) per inbox.",
	}, []string{"inbox_id"})

	// AutoPauses counts inboxes paused by the health monitor, by trigger.
	AutoPauses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "health",
		Name:      "auto_pauses_total",
		Help:      "Automatic inbox pauses by trigger (health, bounce_rate, spam_rate).",
	}, []string{"trigger"})

	// JobsProcessed counts queue jobs by type and outcome.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "queue",
		Name:      "jobs_total",
		Help:      "Jobs processed by type and outcome (done, retried, failed).",
	}, []string{"type", "outcome"})

	// JobDuration observes handler latency per job type.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "outreach",
		Subsystem: "queue",
		Name:      "job_duration_seconds",
		Help:      "Job handler latency by type.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	// Classifications counts reply intent results by tier and intent.
	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "classify",
		Name:      "results_total",
		Help:      "Reply classifications by tier (rules, llm, fallback) and intent.",
	}, []string{"tier", "intent"})

	// Bounces counts processed bounces by effective type.
	Bounces = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "bounce",
		Name:      "processed_total",
		Help:      "Bounce events processed by effective type (hard, soft, retry_exhausted).",
	}, []string{"type"})
)
