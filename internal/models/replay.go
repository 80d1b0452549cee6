// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package models

import (
	"time"
)

// ReplayStatus tracks a queue item through the replay engine.
type ReplayStatus string

// Replay queue item statuses.
const (
	ReplayPending    ReplayStatus = "pending"
	ReplayDelivering ReplayStatus = "delivering"
	ReplayDelivered  ReplayStatus = "delivered"
	ReplayFailed     ReplayStatus = "failed"
	ReplaySkipped    ReplayStatus = "skipped"
)

// ReplayQueueItem is one slot in a per-endpoint ordered buffer. Events that
// arrive while the endpoint's circuit is OPEN are parked here instead of
// being posted, then drained in Position order once the endpoint recovers.
//
// Position is strictly increasing per endpoint and equals enqueue order,
// which equals arrival order. Skipped items never block later positions.
type ReplayQueueItem struct {
	ID         string `json:"id"`
	EndpointID string `json:"endpoint_id"`
	EventID    string `json:"event_id"`

	// Position uniquely orders pending items for an endpoint.
	Position int64 `json:"position"`

	// CorrelationKey groups related events of one business object. It is a
	// hint for ordered replay, not an identity: dedup uses the provider
	// event id.
	CorrelationKey string `json:"correlation_key,omitempty"`

	Status      ReplayStatus `json:"status"`
	Attempts    int          `json:"attempts"`
	CreatedAt   time.Time    `json:"created_at"`
	DeliveredAt *time.Time   `json:"delivered_at,omitempty"`
}
