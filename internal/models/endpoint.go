// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package models

import (
	"time"
)

// CircuitState is the per-destination circuit breaker state.
type CircuitState string

// Circuit breaker states.
const (
	CircuitClosed   CircuitState = "closed"
	CircuitHalfOpen CircuitState = "half_open"
	CircuitOpen     CircuitState = "open"
)

// Valid reports whether s is a known circuit state tag.
func (s CircuitState) Valid() bool {
	switch s {
	case CircuitClosed, CircuitHalfOpen, CircuitOpen:
		return true
	}
	return false
}

// Endpoint holds the mutable health state for one integration's destination.
// There is exactly one Endpoint per Integration.
//
// All mutations run under a per-endpoint lock: sliding-window statistics are
// recomputed from the last 20 persisted deliveries plus the incoming one, so
// state survives restarts without a separate counter store. A state change
// always updates StateChangedAt and resets the counters irrelevant to the new
// state.
type Endpoint struct {
	ID            string       `json:"id"`
	IntegrationID string       `json:"integration_id"`
	CircuitState  CircuitState `json:"circuit_state"`

	// Rolling statistics over the sliding window.
	SuccessRate     float64 `json:"success_rate"`      // 0..100
	AvgResponseTime float64 `json:"avg_response_time"` // milliseconds

	// Consecutive counters driving transitions.
	ConsecutiveFailures           int `json:"consecutive_failures"`
	ConsecutiveSuccesses          int `json:"consecutive_successes"`
	ConsecutiveHealthCheckSuccess int `json:"consecutive_health_check_successes"`

	LastHealthCheckAt *time.Time `json:"last_health_check_at,omitempty"`
	StateChangedAt    time.Time  `json:"state_changed_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
