// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

// Package metrics provides Prometheus instrumentation for the delivery
// pipeline:
//   - Ingestion latency and acceptance counts
//   - Delivery outcomes by error type
//   - Circuit breaker transitions
//   - Replay queue throughput
//   - Task queue publishes
//   - Reconciliation gap counts
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hookwise_ingest_duration_seconds",
			Help:    "Duration of the ingestion fast path in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	IngestAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwise_ingest_accepted_total",
			Help: "Total accepted events by provider and signature validity",
		},
		[]string{"provider", "signature_valid"},
	)

	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwise_ingest_rejected_total",
			Help: "Total rejected ingestion requests by reason",
		},
		[]string{"reason"},
	)

	// Delivery metrics

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwise_delivery_attempts_total",
			Help: "Total delivery attempts by outcome and error type",
		},
		[]string{"outcome", "error_type"},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hookwise_delivery_duration_seconds",
			Help:    "Round-trip time of destination POSTs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Circuit breaker metrics

	CircuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwise_circuit_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	// Replay metrics

	ReplayEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookwise_replay_enqueued_total",
			Help: "Total events parked in replay queues",
		},
	)

	ReplayDrained = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwise_replay_drained_total",
			Help: "Total replay queue items resolved, by final status",
		},
		[]string{"status"},
	)

	// Task queue metrics

	QueuePublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwise_queue_publishes_total",
			Help: "Total task queue publishes by topic",
		},
		[]string{"topic"},
	)

	QueuePublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwise_queue_publish_errors_total",
			Help: "Total failed task queue publishes by topic",
		},
		[]string{"topic"},
	)

	// Health prober metrics

	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwise_probes_total",
			Help: "Total health probes by outcome",
		},
		[]string{"outcome"},
	)

	// Reconciliation metrics

	ReconciliationGaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwise_reconciliation_gaps_total",
			Help: "Total reconciliation gaps by provider and resolution",
		},
		[]string{"provider", "resolved"},
	)

	// Orphan sweeper metrics

	OrphansRedriven = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookwise_orphans_redriven_total",
			Help: "Total orphaned events re-emitted by the sweeper",
		},
	)
)

// RecordIngest observes one accepted ingestion request.
func RecordIngest(provider string, signatureValid bool, elapsed time.Duration) {
	valid := "false"
	if signatureValid {
		valid = "true"
	}
	IngestAccepted.WithLabelValues(provider, valid).Inc()
	IngestDuration.Observe(elapsed.Seconds())
}

// RecordDeliveryAttempt observes one delivery attempt.
func RecordDeliveryAttempt(success bool, errorType string, elapsed time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
		errorType = ""
	}
	DeliveryAttempts.WithLabelValues(outcome, errorType).Inc()
	DeliveryDuration.Observe(elapsed.Seconds())
}

// RecordCircuitTransition observes one breaker state change.
func RecordCircuitTransition(from, to string) {
	CircuitTransitions.WithLabelValues(from, to).Inc()
}

// RecordReplayEnqueued observes one event parked for replay.
func RecordReplayEnqueued() {
	ReplayEnqueued.Inc()
}

// RecordReplayResolved observes one replay item reaching a final status.
func RecordReplayResolved(status string) {
	ReplayDrained.WithLabelValues(status).Inc()
}

// RecordQueuePublish observes one publish, successful or not.
func RecordQueuePublish(topic string, err error) {
	if err != nil {
		QueuePublishErrors.WithLabelValues(topic).Inc()
		return
	}
	QueuePublishes.WithLabelValues(topic).Inc()
}

// RecordProbe observes one health probe outcome.
func RecordProbe(success bool) {
	if success {
		ProbesTotal.WithLabelValues("success").Inc()
		return
	}
	ProbesTotal.WithLabelValues("failure").Inc()
}

// RecordReconciliationGap observes one detected gap and whether it was
// resolved.
func RecordReconciliationGap(provider string, resolved bool) {
	r := "false"
	if resolved {
		r = "true"
	}
	ReconciliationGaps.WithLabelValues(provider, r).Inc()
}
