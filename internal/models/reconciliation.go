// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package models

import (
	"time"
)

// ReconciliationRun audits one pull cycle against a provider API. Rows are
// immutable and written regardless of whether gaps were found.
type ReconciliationRun struct {
	ID            string `json:"id"`
	IntegrationID string `json:"integration_id"`

	ProviderEventsFound int `json:"provider_events_found"`
	LocalEventsFound    int `json:"local_events_found"`
	GapsDetected        int `json:"gaps_detected"`
	GapsResolved        int `json:"gaps_resolved"`

	RanAt time.Time `json:"ran_at"`
}
