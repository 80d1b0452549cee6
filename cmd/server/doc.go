// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

// Command server runs the HookWise webhook intermediation service.
//
// HookWise sits between third-party event producers (Stripe, Shopify,
// GitHub) and a customer's application server. It accepts signed event
// notifications, persists them durably, and forwards them to the configured
// destination with aggressive reliability guarantees: the producer always
// observes success, no accepted event is lost, and failing destinations do
// not propagate back-pressure upstream.
//
// The process hosts:
//
//   - The ingestion endpoint (POST /ingest/{integrationID}) with per-provider
//     HMAC verification and a 50 ms fast path
//   - A durable task queue over Watermill and NATS JetStream (embedded
//     broker by default)
//   - The delivery worker with per-error-type retry policies
//   - A per-destination circuit breaker derived from persisted deliveries
//   - The ordered replay engine with adaptive rate control
//   - The health prober driving breaker recovery
//   - Periodic provider reconciliation and the orphan sweeper
//   - The management API and Prometheus metrics
//
// Configuration is layered: built-in defaults, an optional YAML file, and
// environment variables. See internal/config for the full reference.
package main
