// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

// Package queue implements the durable task queue over Watermill and NATS
// JetStream: an optional embedded broker, stream provisioning, a resilient
// publisher, durable subscribers, and a router with retry and poison-queue
// middleware.
//
// The queue provides at-least-once delivery; handlers pair it with the
// idempotency marker store to get exactly-once-per-step effects.
package queue

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Canonical task topics. NATS subjects are dot-delimited, so the wire names
// use "." where documentation elsewhere writes "/".
const (
	// TopicWebhookReceived carries newly accepted events from ingestion and
	// reconciliation to the delivery worker.
	TopicWebhookReceived = "webhook.received"

	// TopicWebhookRetry carries scheduled retries with their attempt number
	// and per-attempt timeout.
	TopicWebhookRetry = "webhook.retry"

	// TopicCircuitOpened notifies observers that an endpoint's breaker
	// opened.
	TopicCircuitOpened = "endpoint.circuit_opened"

	// TopicReplayStarted triggers the replay engine after an endpoint
	// transitions OPEN -> HALF_OPEN.
	TopicReplayStarted = "endpoint.replay_started"

	// TopicFlowStepCompleted feeds the downstream flow tracker on
	// successful deliveries. Best-effort.
	TopicFlowStepCompleted = "flow.step_completed"

	// TopicPoison receives messages that exhausted router retries.
	TopicPoison = "task.poison"
)

// StreamSubjects are the subject filters the HookWise stream captures.
var StreamSubjects = []string{"webhook.>", "endpoint.>", "flow.>", "task.>"}

// WebhookReceivedTask is the payload for TopicWebhookReceived.
type WebhookReceivedTask struct {
	EventID        string `json:"event_id"`
	IntegrationID  string `json:"integration_id"`
	DestinationURL string `json:"destination_url"`
}

// WebhookRetryTask is the payload for TopicWebhookRetry.
type WebhookRetryTask struct {
	EventID        string `json:"event_id"`
	IntegrationID  string `json:"integration_id"`
	DestinationURL string `json:"destination_url"`
	AttemptNumber  int    `json:"attempt_number"`
	TimeoutMS      int    `json:"timeout_ms"`
}

// CircuitOpenedTask is the payload for TopicCircuitOpened.
type CircuitOpenedTask struct {
	EndpointID    string `json:"endpoint_id"`
	IntegrationID string `json:"integration_id"`
}

// ReplayStartedTask is the payload for TopicReplayStarted.
type ReplayStartedTask struct {
	EndpointID    string `json:"endpoint_id"`
	IntegrationID string `json:"integration_id"`
}

// FlowStepCompletedTask is the payload for TopicFlowStepCompleted.
type FlowStepCompletedTask struct {
	EventID       string `json:"event_id"`
	IntegrationID string `json:"integration_id"`
	EventType     string `json:"event_type,omitempty"`
}

// MarshalTask encodes a task payload for publishing.
func MarshalTask(task interface{}) ([]byte, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return data, nil
}

// UnmarshalTask decodes a task payload into the given struct.
func UnmarshalTask(data []byte, task interface{}) error {
	if err := json.Unmarshal(data, task); err != nil {
		return fmt.Errorf("unmarshal task: %w", err)
	}
	return nil
}
