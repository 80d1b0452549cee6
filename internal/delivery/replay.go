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

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/hookwise/hookwise/internal/breaker"
	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/idempotency"
	"github.com/hookwise/hookwise/internal/logging"
	"github.com/hookwise/hookwise/internal/metrics"
	"github.com/hookwise/hookwise/internal/models"
	"github.com/hookwise/hookwise/internal/queue"
)

// rateTiers are the adaptive replay rates in events per second. The drain
// starts at the lowest tier and advances one tier per five consecutive
// successes; any failure resets to the lowest.
var rateTiers = []int{1, 2, 5, 10}

// Engine drains an endpoint's replay queue after the breaker transitions
// OPEN -> HALF_OPEN, in strict position order with adaptive rate control,
// deduplication, and skip-and-continue semantics.
type Engine struct {
	db        *database.DB
	breaker   *breaker.Breaker
	transport *Transport
	publisher TaskPublisher
	idem      *idempotency.Store
	cfg       config.DeliveryConfig
}

// NewEngine wires the replay engine.
func NewEngine(db *database.DB, brk *breaker.Breaker, transport *Transport, publisher TaskPublisher, idem *idempotency.Store, cfg config.DeliveryConfig) *Engine {
	return &Engine{
		db:        db,
		breaker:   brk,
		transport: transport,
		publisher: publisher,
		idem:      idem,
		cfg:       cfg,
	}
}

// HandleReplayStarted is the queue handler for endpoint.replay_started.
func (e *Engine) HandleReplayStarted(msg *message.Message) error {
	ctx := logging.ContextWithNewCorrelationID(msg.Context())

	var task queue.ReplayStartedTask
	if err := queue.UnmarshalTask(msg.Payload, &task); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("msg_id", msg.UUID).Msg("Malformed replay-started task")
		return nil
	}

	return e.Drain(ctx, task.EndpointID)
}

// Drain processes the endpoint's pending queue until it is empty or the
// breaker reopens. Items are loaded in batches ordered by position; within a
// correlation key this preserves arrival order, and skipped items never
// block later positions.
func (e *Engine) Drain(ctx context.Context, endpointID string) error {
	ep, err := e.db.GetEndpoint(ctx, endpointID)
	if errors.Is(err, database.ErrNotFound) {
		logging.Ctx(ctx).Warn().Str("endpoint_id", endpointID).Msg("Endpoint vanished before replay, terminating")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load endpoint: %w", err)
	}

	integ, err := e.db.GetIntegration(ctx, ep.IntegrationID)
	if errors.Is(err, database.ErrNotFound) {
		logging.Ctx(ctx).Warn().Str("integration_id", ep.IntegrationID).Msg("Integration vanished before replay, terminating")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}

	// Recover items a crashed drain left in delivering.
	if reset, err := e.db.ResetDeliveringReplayItems(ctx, endpointID); err != nil {
		return fmt.Errorf("reset delivering items: %w", err)
	} else if reset > 0 {
		logging.Ctx(ctx).Warn().Int("count", reset).Msg("Recovered in-flight replay items from interrupted drain")
	}

	logging.Ctx(ctx).Info().
		Str("endpoint_id", endpointID).
		Str("integration_id", integ.ID).
		Msg("Replay drain started")

	tierIdx, streak := 0, 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		state, err := e.breaker.CurrentState(ctx, endpointID)
		if err != nil {
			return fmt.Errorf("read circuit state: %w", err)
		}
		if state == models.CircuitOpen {
			logging.Ctx(ctx).Warn().Str("endpoint_id", endpointID).Msg("Circuit reopened, replay aborted")
			return nil
		}

		batch, err := e.db.PendingReplayBatch(ctx, endpointID, e.cfg.ReplayBatchSize)
		if err != nil {
			return fmt.Errorf("load replay batch: %w", err)
		}
		if len(batch) == 0 {
			logging.Ctx(ctx).Info().Str("endpoint_id", endpointID).Msg("Replay drain complete")
			return nil
		}

		for _, item := range batch {
			proceed, err := e.replayItem(ctx, item, integ, &tierIdx, &streak)
			if err != nil {
				return err
			}
			if !proceed {
				return nil // breaker reopened mid-batch
			}
		}
	}
}

// replayItem processes one queue item. Returns proceed=false when the drain
// must stop because the breaker reopened.
func (e *Engine) replayItem(ctx context.Context, item *models.ReplayQueueItem, integ *models.Integration, tierIdx, streak *int) (proceed bool, err error) {
	// Re-check state per item: a reopen mid-batch must stop the drain
	// before the next send.
	state, err := e.breaker.CurrentState(ctx, item.EndpointID)
	if err != nil {
		return false, err
	}
	if state == models.CircuitOpen {
		return false, nil
	}

	ev, err := e.db.GetEvent(ctx, item.EventID)
	if errors.Is(err, database.ErrNotFound) {
		// Event vanished; resolve the slot so it cannot block later items.
		item.Status = models.ReplaySkipped
		if uerr := e.db.UpdateReplayItem(ctx, item); uerr != nil {
			return false, uerr
		}
		metrics.RecordReplayResolved(string(models.ReplaySkipped))
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load event: %w", err)
	}

	// Dedup: if any event sharing this provider event id already reached
	// the destination through another path, resolve without sending.
	duplicate, err := e.db.DeliveredWithProviderEventID(ctx, integ.ID, ev.ProviderEventID)
	if err != nil {
		return false, err
	}
	if duplicate {
		if err := e.db.MarkReplayDelivered(ctx, item, time.Now()); err != nil {
			return false, err
		}
		metrics.RecordReplayResolved(string(models.ReplayDelivered))
		logging.Ctx(ctx).Info().
			Str("event_id", ev.ID).
			Str("provider_event_id", ev.ProviderEventID).
			Msg("Replay item deduplicated without delivery")
		return true, nil
	}

	// Skip budget: items that keep failing step aside so later positions
	// are never starved.
	if item.Attempts >= e.cfg.ReplaySkipBudget {
		item.Status = models.ReplaySkipped
		if err := e.db.UpdateReplayItem(ctx, item); err != nil {
			return false, err
		}
		metrics.RecordReplayResolved(string(models.ReplaySkipped))
		logging.Ctx(ctx).Warn().
			Str("event_id", ev.ID).
			Int("attempts", item.Attempts).
			Msg("Replay item skipped after exhausting attempt budget")
		return true, nil
	}

	item.Status = models.ReplayDelivering
	item.Attempts++
	if err := e.db.UpdateReplayItem(ctx, item); err != nil {
		return false, err
	}

	// Attempt-level idempotency: if this (event, attempt) pair already ran
	// in an interrupted drain, its delivery row may exist. Return the item
	// to pending so the next pass takes a fresh attempt number.
	first, err := e.idem.MarkOnce(idempotency.DeliveryKey(ev.ID, item.Attempts))
	if err != nil {
		return false, fmt.Errorf("idempotency mark: %w", err)
	}
	if !first {
		item.Status = models.ReplayPending
		if err := e.db.UpdateReplayItem(ctx, item); err != nil {
			return false, err
		}
		return true, nil
	}

	// Pace to the current tier. Sub-100ms pauses are noise and skipped.
	tierRate := rateTiers[*tierIdx]
	pause := time.Duration((1000+tierRate-1)/tierRate) * time.Millisecond
	if pause >= 100*time.Millisecond {
		if err := sleepCtx(ctx, pause); err != nil {
			return false, err
		}
	}

	result := e.transport.Deliver(ctx, &Request{
		DestinationURL: integ.DestinationURL,
		EventID:        ev.ID,
		IntegrationID:  integ.ID,
		Payload:        ev.Payload,
		Attempt:        item.Attempts,
		Replay:         true,
		Timeout:        e.cfg.Timeout,
	})

	var cls Classification
	if !result.Success() {
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		cls = Classify(result.StatusCode, errMsg, result.RetryAfter)
	}

	row := buildDeliveryRow(ev.ID, item.EndpointID, item.Attempts, result, Classification{ErrorType: cls.ErrorType})
	if err := e.db.InsertDelivery(ctx, row); err != nil {
		return false, fmt.Errorf("insert delivery: %w", err)
	}
	metrics.RecordDeliveryAttempt(result.Success(), string(cls.ErrorType), time.Duration(result.ResponseTimeMS)*time.Millisecond)

	prev, next, err := e.breaker.RecordDelivery(ctx, item.EndpointID, breaker.Outcome{
		Success:        result.Success(),
		ResponseTimeMS: result.ResponseTimeMS,
		ForceOpen:      cls.ShouldOpenCircuit,
	})
	if err != nil {
		return false, fmt.Errorf("record delivery: %w", err)
	}
	if prev != models.CircuitOpen && next == models.CircuitOpen {
		e.notifyCircuitOpened(ctx, item.EndpointID, integ.ID)
	}

	if result.Success() {
		if err := e.db.MarkReplayDelivered(ctx, item, time.Now()); err != nil {
			return false, err
		}
		metrics.RecordReplayResolved(string(models.ReplayDelivered))

		*streak++
		if *streak >= 5 && *tierIdx < len(rateTiers)-1 {
			*tierIdx++
			*streak = 0
			logging.Ctx(ctx).Info().
				Str("endpoint_id", item.EndpointID).
				Int("rate", rateTiers[*tierIdx]).
				Msg("Replay rate tier advanced")
		}
		return true, nil
	}

	// Failure: back to pending for a later pass, reset to the slowest tier,
	// and stop if the breaker reopened.
	item.Status = models.ReplayPending
	if err := e.db.UpdateReplayItem(ctx, item); err != nil {
		return false, err
	}
	*tierIdx, *streak = 0, 0

	if next == models.CircuitOpen {
		return false, nil
	}
	return true, nil
}

// notifyCircuitOpened mirrors the worker's transition notification.
func (e *Engine) notifyCircuitOpened(ctx context.Context, endpointID, integrationID string) {
	task := queue.CircuitOpenedTask{EndpointID: endpointID, IntegrationID: integrationID}
	if err := e.publisher.PublishTask(ctx, queue.TopicCircuitOpened, uuid.New().String(), task); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("endpoint_id", endpointID).Msg("Failed to publish circuit-opened notification")
	}
}
