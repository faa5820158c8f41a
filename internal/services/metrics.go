// Package services – Prometheus instrumentation for the alerting core.
//
// Delivery failures are invisible to recipients; these collectors are how
// operators see them. Label cardinality is bounded: alert type and a coarse
// outcome only, never phone numbers or ids.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// alertsSent counts alerts handed to the provider, by alert type.
	alertsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_sent_total",
			Help: "Total number of alerts successfully handed to the transport.",
		},
		[]string{"type"},
	)

	// alertsFailed counts delivery failures, by alert type.
	alertsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_failed_total",
			Help: "Total number of alert delivery failures.",
		},
		[]string{"type"},
	)

	// batchesDispatched counts batch dispatch outcomes.
	batchesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_batches_dispatched_total",
			Help: "Total number of batch dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// webhookDedup counts inbound messages dropped as redeliveries.
	webhookDedup = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_duplicates_total",
			Help: "Total number of inbound webhook redeliveries dropped by message-id dedup.",
		},
	)

	// sessionResets counts forced resets of timed-out in-flow sessions.
	sessionResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "session_forced_resets_total",
			Help: "Total number of sessions force-reset after flow timeout.",
		},
	)
)

func init() {
	prometheus.MustRegister(alertsSent, alertsFailed, batchesDispatched, webhookDedup, sessionResets)
}
