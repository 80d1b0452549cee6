// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

// Package api provides the HTTP surface: the producer-facing ingestion
// endpoint and the management API over integrations, events, deliveries,
// endpoints, and the replay queue.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct and constructor (this file)
//   - handlers_helpers.go: shared response and parsing helpers
//   - handlers_ingest.go: POST /ingest/{integrationID} fast path
//   - handlers_integrations.go: integrations CRUD
//   - handlers_events.go: event and delivery inspection
//   - handlers_replay.go: manual replay and replay queue inspection
//   - handlers_health.go: liveness/readiness/health
package api

import (
	"context"
	"time"

	"github.com/hookwise/hookwise/internal/auth"
	"github.com/hookwise/hookwise/internal/breaker"
	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/database"
)

// TaskPublisher is the slice of the queue publisher the API needs.
type TaskPublisher interface {
	PublishTask(ctx context.Context, topic, msgID string, task interface{}) error
}

// QueueHealth reports the task queue's availability for readiness checks.
type QueueHealth interface {
	IsHealthy(ctx context.Context) bool
}

// Handler contains dependencies for API handlers.
type Handler struct {
	db         *database.DB
	breaker    *breaker.Breaker
	publisher  TaskPublisher
	queue      QueueHealth
	config     *config.Config
	jwtManager *auth.JWTManager
	encryptor  *config.CredentialEncryptor
	startTime  time.Time
}

// NewHandler creates the API handler with all required dependencies.
//
// publisher may be nil in degraded startup (events are still accepted and
// the sweeper redrives them once the queue returns); queue may be nil when
// readiness should not gate on the broker.
func NewHandler(db *database.DB, brk *breaker.Breaker, publisher TaskPublisher, queueHealth QueueHealth, cfg *config.Config, jwtManager *auth.JWTManager, encryptor *config.CredentialEncryptor) *Handler {
	return &Handler{
		db:         db,
		breaker:    brk,
		publisher:  publisher,
		queue:      queueHealth,
		config:     cfg,
		jwtManager: jwtManager,
		encryptor:  encryptor,
		startTime:  time.Now(),
	}
}
