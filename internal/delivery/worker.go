// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hookwise/hookwise/internal/breaker"
	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/idempotency"
	"github.com/hookwise/hookwise/internal/logging"
	"github.com/hookwise/hookwise/internal/metrics"
	"github.com/hookwise/hookwise/internal/models"
	"github.com/hookwise/hookwise/internal/queue"
)

// TaskPublisher is the slice of the queue publisher the pipeline needs.
// Accepting the interface keeps handlers testable without a broker.
type TaskPublisher interface {
	PublishTask(ctx context.Context, topic, msgID string, task interface{}) error
}

// Worker consumes webhook.received and webhook.retry tasks: it gates on the
// circuit breaker, posts to the destination, classifies failures, persists
// delivery rows, and schedules per-error-type retries.
type Worker struct {
	db        *database.DB
	breaker   *breaker.Breaker
	transport *Transport
	publisher TaskPublisher
	idem      *idempotency.Store
	cfg       config.DeliveryConfig

	// halfOpenLimiters throttles HALF_OPEN endpoints to one delivery per
	// second each.
	halfOpenLimiters sync.Map
}

// NewWorker wires the delivery worker.
func NewWorker(db *database.DB, brk *breaker.Breaker, transport *Transport, publisher TaskPublisher, idem *idempotency.Store, cfg config.DeliveryConfig) *Worker {
	return &Worker{
		db:        db,
		breaker:   brk,
		transport: transport,
		publisher: publisher,
		idem:      idem,
		cfg:       cfg,
	}
}

// HandleWebhookReceived is the queue handler for webhook.received.
func (w *Worker) HandleWebhookReceived(msg *message.Message) error {
	ctx := logging.ContextWithNewCorrelationID(msg.Context())

	var task queue.WebhookReceivedTask
	if err := queue.UnmarshalTask(msg.Payload, &task); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("msg_id", msg.UUID).Msg("Malformed webhook.received task")
		return nil // malformed payloads cannot succeed on redelivery
	}

	ev, integ, err := w.loadEventAndIntegration(ctx, task.EventID, task.IntegrationID)
	if err != nil {
		return err
	}
	if ev == nil {
		return nil // semantic termination, already logged
	}

	// Per-integration policy: invalid-signature events are stored always but
	// forwarded only when the toggle allows.
	if !ev.SignatureValid && !integ.ForwardInvalid {
		logging.Ctx(ctx).Info().
			Str("event_id", ev.ID).
			Str("integration_id", integ.ID).
			Msg("Skipping forward of invalid-signature event per integration policy")
		return nil
	}

	ep, err := w.db.EnsureEndpoint(ctx, integ.ID)
	if err != nil {
		return fmt.Errorf("ensure endpoint: %w", err)
	}

	state, err := w.breaker.CurrentState(ctx, ep.ID)
	if err != nil {
		return fmt.Errorf("read circuit state: %w", err)
	}

	switch state {
	case models.CircuitOpen:
		// Park for ordered replay instead of hammering a down destination.
		// A redelivered task must not park the same event twice.
		parked, err := w.db.HasReplayItem(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("check replay item: %w", err)
		}
		if parked {
			return nil
		}

		key := CorrelationKey(integ.Provider, ev.Payload)
		position, err := w.breaker.EnqueueForReplay(ctx, ep.ID, ev.ID, key)
		if err != nil {
			return fmt.Errorf("enqueue for replay: %w", err)
		}
		logging.Ctx(ctx).Info().
			Str("event_id", ev.ID).
			Str("endpoint_id", ep.ID).
			Int64("position", position).
			Msg("Circuit open, event queued for replay")
		return nil

	case models.CircuitHalfOpen:
		// Probation: at most one delivery per second per endpoint.
		if err := w.limiterFor(ep.ID).Wait(ctx); err != nil {
			return err
		}
	}

	return w.deliver(ctx, ev, integ, ep, 1, w.cfg.Timeout, true)
}

// HandleWebhookRetry is the queue handler for webhook.retry. It repeats the
// post-classify-record steps with the scheduled attempt number and timeout,
// skipping the retry fan-out: one retry maximum per error bucket.
func (w *Worker) HandleWebhookRetry(msg *message.Message) error {
	ctx := logging.ContextWithNewCorrelationID(msg.Context())

	var task queue.WebhookRetryTask
	if err := queue.UnmarshalTask(msg.Payload, &task); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("msg_id", msg.UUID).Msg("Malformed webhook.retry task")
		return nil
	}

	ev, integ, err := w.loadEventAndIntegration(ctx, task.EventID, task.IntegrationID)
	if err != nil {
		return err
	}
	if ev == nil {
		return nil
	}

	ep, err := w.db.EnsureEndpoint(ctx, integ.ID)
	if err != nil {
		return fmt.Errorf("ensure endpoint: %w", err)
	}

	timeout := w.cfg.Timeout
	if task.TimeoutMS > 0 {
		timeout = time.Duration(task.TimeoutMS) * time.Millisecond
	}
	attempt := task.AttemptNumber
	if attempt < 2 {
		attempt = 2
	}

	return w.deliver(ctx, ev, integ, ep, attempt, timeout, false)
}

// deliver runs one attempt end to end: idempotency gate, POST, classify,
// persist, breaker accounting, transition notifications, and (for first
// attempts) the retry fan-out.
func (w *Worker) deliver(ctx context.Context, ev *models.Event, integ *models.Integration, ep *models.Endpoint, attempt int, timeout time.Duration, fanOut bool) error {
	first, err := w.idem.MarkOnce(idempotency.DeliveryKey(ev.ID, attempt))
	if err != nil {
		return fmt.Errorf("idempotency mark: %w", err)
	}
	if !first {
		logging.Ctx(ctx).Debug().
			Str("event_id", ev.ID).
			Int("attempt", attempt).
			Msg("Attempt already executed, skipping redelivered task")
		return nil
	}

	result := w.transport.Deliver(ctx, &Request{
		DestinationURL: integ.DestinationURL,
		EventID:        ev.ID,
		IntegrationID:  integ.ID,
		Payload:        ev.Payload,
		Attempt:        attempt,
		Timeout:        timeout,
	})

	var cls Classification
	if !result.Success() {
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		cls = Classify(result.StatusCode, errMsg, result.RetryAfter)
	}

	row := buildDeliveryRow(ev.ID, ep.ID, attempt, result, cls)
	if err := w.db.InsertDelivery(ctx, row); err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	metrics.RecordDeliveryAttempt(result.Success(), string(cls.ErrorType), time.Duration(result.ResponseTimeMS)*time.Millisecond)

	prev, next, err := w.breaker.RecordDelivery(ctx, ep.ID, breaker.Outcome{
		Success:        result.Success(),
		ResponseTimeMS: result.ResponseTimeMS,
		ForceOpen:      cls.ShouldOpenCircuit,
	})
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	if prev != models.CircuitOpen && next == models.CircuitOpen {
		w.notifyCircuitOpened(ctx, ep.ID, integ.ID)
	}

	if result.Success() {
		w.notifyFlowStep(ctx, ev, integ, attempt)
		return nil
	}

	if !fanOut {
		return nil
	}
	return w.scheduleRetry(ctx, ev, integ, cls)
}

// scheduleRetry applies the per-error-type retry rules after a failed first
// attempt. The pauses are explicit suspension points; a crash mid-sleep is
// healed by the orphan sweeper.
func (w *Worker) scheduleRetry(ctx context.Context, ev *models.Event, integ *models.Integration, cls Classification) error {
	if !cls.ShouldRetry {
		// ssl / connection_refused: terminal, recovery goes through the
		// health prober.
		return nil
	}

	timeoutMS := int(w.cfg.Timeout.Milliseconds())
	switch cls.ErrorType {
	case models.ErrorTimeout:
		// Retry with a doubled deadline instead of a pause.
		timeoutMS = int(w.cfg.RetryTimeout.Milliseconds())

	case models.ErrorRateLimit:
		delay := cls.RetryDelay
		if delay <= 0 {
			delay = w.cfg.RateLimitFallback
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}

	case models.ErrorServerError:
		// The classifier marks 503s with a pause; the configured backoff
		// keeps the value in one place (and shrinkable for tests).
		if cls.RetryDelay > 0 {
			delay := w.cfg.ServerErrorBackoff
			if delay <= 0 {
				delay = cls.RetryDelay
			}
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		}
	}

	task := queue.WebhookRetryTask{
		EventID:        ev.ID,
		IntegrationID:  integ.ID,
		DestinationURL: integ.DestinationURL,
		AttemptNumber:  2,
		TimeoutMS:      timeoutMS,
	}
	msgID := fmt.Sprintf("retry:%s:2", ev.ID)
	if err := w.publisher.PublishTask(ctx, queue.TopicWebhookRetry, msgID, task); err != nil {
		return fmt.Errorf("publish retry: %w", err)
	}
	return nil
}

// notifyCircuitOpened emits the observer notification for a fresh OPEN
// transition. Best-effort: delivery already succeeded or failed on its own.
func (w *Worker) notifyCircuitOpened(ctx context.Context, endpointID, integrationID string) {
	task := queue.CircuitOpenedTask{EndpointID: endpointID, IntegrationID: integrationID}
	if err := w.publisher.PublishTask(ctx, queue.TopicCircuitOpened, uuid.New().String(), task); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("endpoint_id", endpointID).Msg("Failed to publish circuit-opened notification")
	}
}

// notifyFlowStep feeds the downstream flow tracker. Best-effort.
func (w *Worker) notifyFlowStep(ctx context.Context, ev *models.Event, integ *models.Integration, attempt int) {
	task := queue.FlowStepCompletedTask{EventID: ev.ID, IntegrationID: integ.ID, EventType: ev.EventType}
	msgID := fmt.Sprintf("flow:%s:%d", ev.ID, attempt)
	if err := w.publisher.PublishTask(ctx, queue.TopicFlowStepCompleted, msgID, task); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", ev.ID).Msg("Failed to publish flow step completion")
	}
}

// loadEventAndIntegration resolves the task's records. A missing event or
// integration terminates the task (deleted mid-flight); infrastructure
// errors propagate so the queue retries.
func (w *Worker) loadEventAndIntegration(ctx context.Context, eventID, integrationID string) (*models.Event, *models.Integration, error) {
	ev, err := w.db.GetEvent(ctx, eventID)
	if errors.Is(err, database.ErrNotFound) {
		logging.Ctx(ctx).Warn().Str("event_id", eventID).Msg("Event vanished before delivery, terminating task")
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load event: %w", err)
	}

	integ, err := w.db.GetIntegration(ctx, integrationID)
	if errors.Is(err, database.ErrNotFound) {
		logging.Ctx(ctx).Warn().Str("integration_id", integrationID).Msg("Integration vanished before delivery, terminating task")
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load integration: %w", err)
	}

	return ev, integ, nil
}

// limiterFor returns the per-endpoint half-open limiter (1 token/second).
func (w *Worker) limiterFor(endpointID string) *rate.Limiter {
	if l, ok := w.halfOpenLimiters.Load(endpointID); ok {
		return l.(*rate.Limiter)
	}
	l, _ := w.halfOpenLimiters.LoadOrStore(endpointID, rate.NewLimiter(rate.Limit(1), 1))
	return l.(*rate.Limiter)
}

// buildDeliveryRow assembles the persisted record for one attempt.
func buildDeliveryRow(eventID, endpointID string, attempt int, result *Result, cls Classification) *models.Delivery {
	row := &models.Delivery{
		ID:             uuid.New().String(),
		EventID:        eventID,
		EndpointID:     endpointID,
		StatusCode:     result.StatusCode,
		ResponseTimeMS: result.ResponseTimeMS,
		ResponseBody:   result.Body,
		AttemptNumber:  attempt,
		AttemptedAt:    time.Now().UTC(),
	}

	if result.Success() {
		row.Status = models.DeliveryDelivered
		return row
	}

	row.Status = models.DeliveryFailed
	row.ErrorType = cls.ErrorType
	if cls.ShouldRetry && attempt == 1 {
		next := time.Now().UTC().Add(cls.RetryDelay)
		row.NextRetryAt = &next
	}
	return row
}

// sleepCtx pauses for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
