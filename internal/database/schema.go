// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

/*
schema.go - Database Schema Management

Tables:
  - integrations: producer configurations (provider, secrets, destination)
  - endpoints: per-integration destination health state (1:1 with integrations)
  - events: immutable received notifications with raw payload and headers
  - deliveries: one row per forwarding attempt; breaker sliding-window source
  - replay_queue: per-endpoint ordered buffer for events parked while OPEN
  - reconciliation_runs: audit rows for provider pull cycles

Schema Strategy:
All columns are defined in the initial CREATE TABLE statements: a single
source of truth for the complete schema and no migrations to run at startup.

Index Strategy:
Indexes cover the delivery pipeline's hot queries: the breaker's last-20
window read, pending replay items by position, provider event id lookups for
dedup and reconciliation, and the orphan sweep.
*/
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// tableCreationQueries holds the CREATE TABLE statements. DuckDB executes
// them one at a time (no multi-statement exec).
var tableCreationQueries = []string{
	`CREATE TABLE IF NOT EXISTS integrations (
		id UUID PRIMARY KEY,
		owner_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		name TEXT,
		signing_secret TEXT NOT NULL,
		destination_url TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		forward_invalid BOOLEAN NOT NULL DEFAULT true,
		reconcile_credential TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS endpoints (
		id UUID PRIMARY KEY,
		integration_id UUID NOT NULL UNIQUE,
		circuit_state TEXT NOT NULL DEFAULT 'closed',
		success_rate DOUBLE NOT NULL DEFAULT 100.0,
		avg_response_time DOUBLE NOT NULL DEFAULT 0.0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		consecutive_successes INTEGER NOT NULL DEFAULT 0,
		consecutive_health_check_successes INTEGER NOT NULL DEFAULT 0,
		last_health_check_at TIMESTAMP,
		state_changed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		integration_id UUID NOT NULL,
		event_type TEXT,
		payload TEXT NOT NULL,
		headers TEXT NOT NULL DEFAULT '{}',
		signature_valid BOOLEAN NOT NULL DEFAULT false,
		provider_event_id TEXT,
		source TEXT NOT NULL DEFAULT 'webhook',
		received_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS deliveries (
		id UUID PRIMARY KEY,
		event_id UUID NOT NULL,
		endpoint_id UUID,
		status TEXT NOT NULL DEFAULT 'pending',
		status_code INTEGER,
		response_time_ms INTEGER,
		response_body TEXT,
		error_type TEXT,
		attempt_number INTEGER NOT NULL DEFAULT 1,
		attempted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		next_retry_at TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS replay_queue (
		id UUID PRIMARY KEY,
		endpoint_id UUID NOT NULL,
		event_id UUID NOT NULL,
		position BIGINT NOT NULL,
		correlation_key TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		delivered_at TIMESTAMP,
		UNIQUE (endpoint_id, position)
	)`,

	`CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id UUID PRIMARY KEY,
		integration_id UUID NOT NULL,
		provider_events_found INTEGER NOT NULL DEFAULT 0,
		local_events_found INTEGER NOT NULL DEFAULT 0,
		gaps_detected INTEGER NOT NULL DEFAULT 0,
		gaps_resolved INTEGER NOT NULL DEFAULT 0,
		ran_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// createIndexes creates indexes for the pipeline's hot queries.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_endpoints_integration ON endpoints(integration_id)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_state ON endpoints(circuit_state)`,

		`CREATE INDEX IF NOT EXISTS idx_events_integration ON events(integration_id, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_provider_id ON events(integration_id, provider_event_id)`,

		// Breaker sliding window: last 20 deliveries for an endpoint.
		`CREATE INDEX IF NOT EXISTS idx_deliveries_endpoint_time ON deliveries(endpoint_id, attempted_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_event ON deliveries(event_id, attempt_number)`,

		// Replay drain: pending items in position order.
		`CREATE INDEX IF NOT EXISTS idx_replay_pending ON replay_queue(endpoint_id, status, position)`,
		`CREATE INDEX IF NOT EXISTS idx_replay_event ON replay_queue(event_id)`,

		`CREATE INDEX IF NOT EXISTS idx_recon_runs_integration ON reconciliation_runs(integration_id, ran_at DESC)`,
	}

	for _, query := range indexes {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}

	return nil
}
