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

	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/logging"
	"github.com/hookwise/hookwise/internal/metrics"
	"github.com/hookwise/hookwise/internal/models"
	"github.com/hookwise/hookwise/internal/queue"
)

// sweepBatchLimit bounds one sweep so a large backlog cannot monopolise the
// store.
const sweepBatchLimit = 100

// Sweeper closes the hole between ingestion and the task queue: an event
// whose webhook.received enqueue failed has no delivery and no replay slot,
// and is re-emitted once it is older than the configured minimum age.
type Sweeper struct {
	db        *database.DB
	publisher TaskPublisher
	cfg       config.SweeperConfig
}

// NewSweeper wires the orphan sweeper.
func NewSweeper(db *database.DB, publisher TaskPublisher, cfg config.SweeperConfig) *Sweeper {
	return &Sweeper{db: db, publisher: publisher, cfg: cfg}
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Ctx(ctx).Error().Err(err).Msg("Orphan sweep failed")
			}
		}
	}
}

// Sweep re-emits webhook.received for every orphaned event found. The
// message id is derived from the event, so a sweep racing the original
// enqueue (or another sweep) deduplicates at the broker.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.MinAge)
	orphans, err := s.db.OrphanedEvents(ctx, cutoff, sweepBatchLimit)
	if err != nil {
		return fmt.Errorf("list orphans: %w", err)
	}

	for _, ev := range orphans {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.redrive(ctx, ev); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("event_id", ev.ID).Msg("Failed to redrive orphan")
		}
	}

	if len(orphans) > 0 {
		logging.Ctx(ctx).Info().Int("count", len(orphans)).Msg("Orphaned events redriven")
	}
	return nil
}

// redrive re-emits the webhook.received task for one orphan.
func (s *Sweeper) redrive(ctx context.Context, ev *models.Event) error {
	integ, err := s.db.GetIntegration(ctx, ev.IntegrationID)
	if errors.Is(err, database.ErrNotFound) {
		logging.Ctx(ctx).Warn().Str("event_id", ev.ID).Msg("Orphan's integration vanished, leaving event unforwarded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}

	task := queue.WebhookReceivedTask{
		EventID:        ev.ID,
		IntegrationID:  integ.ID,
		DestinationURL: integ.DestinationURL,
	}
	if err := s.publisher.PublishTask(ctx, queue.TopicWebhookReceived, "received:"+ev.ID, task); err != nil {
		return fmt.Errorf("publish redrive: %w", err)
	}

	metrics.OrphansRedriven.Inc()
	return nil
}
