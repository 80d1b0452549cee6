// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hookwise/hookwise/internal/breaker"
	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/idempotency"
	"github.com/hookwise/hookwise/internal/logging"
	"github.com/hookwise/hookwise/internal/metrics"
	"github.com/hookwise/hookwise/internal/models"
	"github.com/hookwise/hookwise/internal/queue"
)

// Prober periodically probes destinations whose circuit is OPEN and feeds
// the outcomes to the breaker. It is the only driver of OPEN -> HALF_OPEN
// recovery.
type Prober struct {
	db        *database.DB
	breaker   *breaker.Breaker
	transport *Transport
	publisher TaskPublisher
	idem      *idempotency.Store
	cfg       config.ProberConfig
}

// NewProber wires the health prober.
func NewProber(db *database.DB, brk *breaker.Breaker, transport *Transport, publisher TaskPublisher, idem *idempotency.Store, cfg config.ProberConfig) *Prober {
	return &Prober{
		db:        db,
		breaker:   brk,
		transport: transport,
		publisher: publisher,
		idem:      idem,
		cfg:       cfg,
	}
}

// Run sweeps OPEN endpoints on the configured interval until the context is
// canceled. Suitable as a supervised service body.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Ctx(ctx).Error().Err(err).Msg("Health probe sweep failed")
			}
		}
	}
}

// Sweep probes every OPEN endpoint once.
func (p *Prober) Sweep(ctx context.Context) error {
	endpoints, err := p.db.EndpointsByState(ctx, models.CircuitOpen)
	if err != nil {
		return fmt.Errorf("list open endpoints: %w", err)
	}

	for _, ep := range endpoints {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.probeEndpoint(ctx, ep); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("endpoint_id", ep.ID).Msg("Health probe failed to record")
		}
	}
	return nil
}

// probeEndpoint issues one probe and records the outcome. On a fresh
// OPEN -> HALF_OPEN transition it emits endpoint.replay_started exactly
// once, guarded by an idempotency marker keyed on the transition instant.
func (p *Prober) probeEndpoint(ctx context.Context, ep *models.Endpoint) error {
	integ, err := p.db.GetIntegration(ctx, ep.IntegrationID)
	if errors.Is(err, database.ErrNotFound) {
		logging.Ctx(ctx).Warn().Str("endpoint_id", ep.ID).Msg("Endpoint without integration, skipping probe")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}

	healthy := p.transport.Probe(ctx, integ.DestinationURL, p.cfg.Timeout)
	metrics.RecordProbe(healthy)

	prev, next, err := p.breaker.RecordHealthCheck(ctx, ep.ID, healthy)
	if err != nil {
		return fmt.Errorf("record health check: %w", err)
	}

	if prev != models.CircuitHalfOpen && next == models.CircuitHalfOpen {
		// The marker pins the emission to this transition, so a crashed
		// prober re-running the sweep cannot start a second drain.
		epAfter, err := p.db.GetEndpoint(ctx, ep.ID)
		if err != nil {
			return fmt.Errorf("reload endpoint: %w", err)
		}
		key := idempotency.ReplayStartKey(ep.ID, epAfter.StateChangedAt.Unix())
		first, err := p.idem.MarkOnce(key)
		if err != nil {
			return fmt.Errorf("idempotency mark: %w", err)
		}
		if !first {
			return nil
		}

		task := queue.ReplayStartedTask{EndpointID: ep.ID, IntegrationID: integ.ID}
		if err := p.publisher.PublishTask(ctx, queue.TopicReplayStarted, key, task); err != nil {
			return fmt.Errorf("publish replay-started: %w", err)
		}
		logging.Ctx(ctx).Info().
			Str("endpoint_id", ep.ID).
			Str("integration_id", integ.ID).
			Msg("Endpoint recovered, replay triggered")
	}

	return nil
}
