// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package models

import (
	"time"
)

// DeliveryStatus is the terminal status of one delivery attempt.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryDeadLetter DeliveryStatus = "dead_letter"
)

// ErrorType classifies how a delivery attempt failed. The classifier in the
// delivery package assigns exactly one tag per failed attempt; successful
// attempts carry none.
type ErrorType string

// Error taxonomy.
const (
	ErrorTimeout           ErrorType = "timeout"
	ErrorServerError       ErrorType = "server_error"
	ErrorRateLimit         ErrorType = "rate_limit"
	ErrorSSL               ErrorType = "ssl"
	ErrorConnectionRefused ErrorType = "connection_refused"
	ErrorUnknown           ErrorType = "unknown"
)

// MaxResponseBody is the largest response body fragment persisted with a
// delivery row.
const MaxResponseBody = 1024

// Delivery is one attempt to forward an event to a destination. Deliveries
// for the same event are totally ordered by AttemptNumber; attempts are
// 1-based.
type Delivery struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`

	// EndpointID is nullable only for events accepted before an endpoint
	// existed for their integration.
	EndpointID string `json:"endpoint_id,omitempty"`

	Status DeliveryStatus `json:"status"`

	// StatusCode is the destination's HTTP status, when a response was
	// received at all.
	StatusCode int `json:"status_code,omitempty"`

	// ResponseTimeMS is the observed round-trip time in milliseconds.
	ResponseTimeMS int `json:"response_time_ms,omitempty"`

	// ResponseBody is the destination's response body truncated to
	// MaxResponseBody bytes.
	ResponseBody string `json:"response_body,omitempty"`

	ErrorType     ErrorType  `json:"error_type,omitempty"`
	AttemptNumber int        `json:"attempt_number"`
	AttemptedAt   time.Time  `json:"attempted_at"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
}

// Success reports whether this attempt reached the destination with a 2xx.
func (d *Delivery) Success() bool {
	return d.Status == DeliveryDelivered
}
