// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package breaker

// Thresholds governing the per-endpoint state machine. The sliding window is
// recomputed from persisted delivery rows on every write, so these apply to
// derived statistics, not in-memory counters alone.
const (
	// WindowSize is how many prior deliveries form the sliding window. The
	// incoming delivery is always appended, so the effective window is up to
	// WindowSize+1 samples.
	WindowSize = 20

	// MinWindowForRate is the smallest window on which the success-rate trip
	// condition applies. Below this, only consecutive failures can open the
	// circuit.
	MinWindowForRate = 5

	// OpenFailureThreshold opens the circuit after this many consecutive
	// failures.
	OpenFailureThreshold = 5

	// OpenSuccessRate opens the circuit when the windowed success rate
	// falls below this percentage.
	OpenSuccessRate = 50.0

	// HalfOpenProbeThreshold moves OPEN to HALF_OPEN after this many
	// consecutive successful health checks.
	HalfOpenProbeThreshold = 3

	// CloseSuccessThreshold moves HALF_OPEN to CLOSED after this many
	// consecutive successful deliveries.
	CloseSuccessThreshold = 10

	// ReopenFailureThreshold moves HALF_OPEN back to OPEN after this many
	// consecutive failures within the probation.
	ReopenFailureThreshold = 2
)
