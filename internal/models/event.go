// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventSource records how an event entered the system.
type EventSource string

// Event sources.
const (
	SourceWebhook        EventSource = "webhook"
	SourceReconciliation EventSource = "reconciliation"
)

// Event is a received notification. Rows are immutable once inserted: the
// raw payload bytes are preserved verbatim so provider signatures remain
// verifiable downstream, and the destination always observes a body
// byte-for-byte equal to what the producer sent.
type Event struct {
	ID            string `json:"id"`
	IntegrationID string `json:"integration_id"`
	EventType     string `json:"event_type"`

	// Payload is the raw request body. Stored and forwarded without
	// mutation.
	Payload json.RawMessage `json:"payload"`

	// Headers are the request headers at ingestion time, keys lower-cased.
	Headers map[string]string `json:"headers"`

	SignatureValid bool `json:"signature_valid"`

	// ProviderEventID is the provider-supplied identifier, when the provider
	// sends one. It is the deduplication id used to suppress re-delivery
	// through alternate paths (webhook vs reconciliation).
	ProviderEventID string `json:"provider_event_id,omitempty"`

	Source     EventSource `json:"source"`
	ReceivedAt time.Time   `json:"received_at"`
}

// NewEvent creates an event with a unique ID and receipt timestamp.
func NewEvent(integrationID string, source EventSource) *Event {
	return &Event{
		ID:            uuid.New().String(),
		IntegrationID: integrationID,
		Source:        source,
		ReceivedAt:    time.Now().UTC(),
	}
}

// Validate checks required fields and returns an error if validation fails.
func (e *Event) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Message: "required"}
	}
	if e.IntegrationID == "" {
		return &ValidationError{Field: "integration_id", Message: "required"}
	}
	if e.Source != SourceWebhook && e.Source != SourceReconciliation {
		return &ValidationError{Field: "source", Message: "unknown source"}
	}
	return nil
}

// ValidationError describes a single invalid field on a record.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
