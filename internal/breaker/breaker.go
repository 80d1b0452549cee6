// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

// Package breaker implements the per-destination circuit breaker.
//
// State is a cell, not a log: every write recomputes the sliding window from
// the last 20 persisted delivery rows plus the incoming one, then stores the
// derived state back on the endpoint row. After a restart the next recorded
// delivery re-derives correct state from the deliveries table alone.
//
// All transitions run under the store's per-endpoint lock; two concurrent
// failures can therefore never double-open the circuit without clearing
// counters.
package breaker

import (
	"context"
	"time"

	"github.com/hookwise/hookwise/internal/cache"
	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/logging"
	"github.com/hookwise/hookwise/internal/metrics"
	"github.com/hookwise/hookwise/internal/models"

	"github.com/google/uuid"
)

// Breaker gates delivery per endpoint and owns replay position allocation.
type Breaker struct {
	db *database.DB

	// stateCache is the hot read path for the half-open throttle; it is
	// refreshed on every recorded outcome and bounded by a short TTL.
	stateCache *cache.LRU
}

// New creates a breaker over the given store.
func New(db *database.DB) *Breaker {
	return &Breaker{
		db:         db,
		stateCache: cache.NewLRU(4096, 30*time.Second),
	}
}

// Outcome is one delivery result fed into the state machine.
type Outcome struct {
	Success        bool
	ResponseTimeMS int

	// ForceOpen short-circuits the window math: ssl and connection-refused
	// classifications trip the breaker regardless of the rolling stats.
	ForceOpen bool
}

// CurrentState returns the endpoint's circuit state, preferring the hot
// cache. Staleness self-corrects on the next RecordDelivery.
func (b *Breaker) CurrentState(ctx context.Context, endpointID string) (models.CircuitState, error) {
	if v, ok := b.stateCache.Get(endpointID); ok {
		return v.(models.CircuitState), nil
	}

	ep, err := b.db.GetEndpoint(ctx, endpointID)
	if err != nil {
		return "", err
	}
	b.stateCache.Set(endpointID, ep.CircuitState)
	return ep.CircuitState, nil
}

// RecordDelivery folds one delivery outcome into the endpoint state machine.
// The delivery row must already be persisted; the window read includes it.
// Returns the state before and after, which callers use to emit transition
// notifications.
func (b *Breaker) RecordDelivery(ctx context.Context, endpointID string, outcome Outcome) (prev, next models.CircuitState, err error) {
	unlock := b.db.LockEndpoint(endpointID)
	defer unlock()

	ep, err := b.db.GetEndpoint(ctx, endpointID)
	if err != nil {
		return "", "", err
	}
	prev = ep.CircuitState

	// Recompute window statistics from the persisted rows. The incoming
	// delivery was inserted before this call, so WindowSize+1 covers the
	// last 20 prior deliveries plus the current one.
	window, err := b.db.RecentDeliveries(ctx, endpointID, WindowSize+1)
	if err != nil {
		return "", "", err
	}
	ep.SuccessRate, ep.AvgResponseTime = windowStats(window)

	// Consecutive counters.
	if outcome.Success {
		ep.ConsecutiveSuccesses++
		ep.ConsecutiveFailures = 0
	} else {
		ep.ConsecutiveFailures++
		ep.ConsecutiveSuccesses = 0
	}

	next = b.nextState(ep, outcome, len(window))
	if next != prev {
		transition(ep, next)
	}

	if err := b.db.UpdateEndpointState(ctx, ep); err != nil {
		return "", "", err
	}
	b.stateCache.Set(endpointID, next)

	if next != prev {
		metrics.RecordCircuitTransition(string(prev), string(next))
		logging.Ctx(ctx).Warn().
			Str("endpoint_id", endpointID).
			Str("from", string(prev)).
			Str("to", string(next)).
			Float64("success_rate", ep.SuccessRate).
			Int("consecutive_failures", ep.ConsecutiveFailures).
			Msg("Circuit state changed")
	}

	return prev, next, nil
}

// nextState applies the transition table to the updated counters and window.
func (b *Breaker) nextState(ep *models.Endpoint, outcome Outcome, windowSize int) models.CircuitState {
	if outcome.ForceOpen && ep.CircuitState != models.CircuitOpen {
		return models.CircuitOpen
	}

	switch ep.CircuitState {
	case models.CircuitClosed:
		if ep.ConsecutiveFailures >= OpenFailureThreshold {
			return models.CircuitOpen
		}
		if windowSize >= MinWindowForRate && ep.SuccessRate < OpenSuccessRate {
			return models.CircuitOpen
		}

	case models.CircuitHalfOpen:
		if ep.ConsecutiveSuccesses >= CloseSuccessThreshold {
			return models.CircuitClosed
		}
		if ep.ConsecutiveFailures >= ReopenFailureThreshold {
			return models.CircuitOpen
		}

	case models.CircuitOpen:
		// Deliveries recorded while OPEN (replay racing a reopen) update
		// statistics only; recovery is driven by health checks.
	}

	return ep.CircuitState
}

// RecordHealthCheck folds one probe outcome into the state machine. Health
// check outcomes are ignored unless the circuit is OPEN.
func (b *Breaker) RecordHealthCheck(ctx context.Context, endpointID string, success bool) (prev, next models.CircuitState, err error) {
	unlock := b.db.LockEndpoint(endpointID)
	defer unlock()

	ep, err := b.db.GetEndpoint(ctx, endpointID)
	if err != nil {
		return "", "", err
	}
	prev = ep.CircuitState
	next = prev

	now := time.Now().UTC()
	ep.LastHealthCheckAt = &now

	if ep.CircuitState == models.CircuitOpen {
		if success {
			ep.ConsecutiveHealthCheckSuccess++
		} else {
			ep.ConsecutiveHealthCheckSuccess = 0
		}

		if ep.ConsecutiveHealthCheckSuccess >= HalfOpenProbeThreshold {
			next = models.CircuitHalfOpen
			transition(ep, next)
		}
	}

	if err := b.db.UpdateEndpointState(ctx, ep); err != nil {
		return "", "", err
	}
	b.stateCache.Set(endpointID, next)

	if next != prev {
		metrics.RecordCircuitTransition(string(prev), string(next))
		logging.Ctx(ctx).Info().
			Str("endpoint_id", endpointID).
			Msg("Circuit half-open after successful probes")
	}

	return prev, next, nil
}

// EnqueueForReplay allocates the next position for an endpoint and parks the
// event in the replay queue. Position allocation is MAX(position)+1 under
// the endpoint lock, so concurrent enqueues are serialised and positions
// stay unique and monotonic.
func (b *Breaker) EnqueueForReplay(ctx context.Context, endpointID, eventID, correlationKey string) (int64, error) {
	unlock := b.db.LockEndpoint(endpointID)
	defer unlock()

	maxPos, err := b.db.MaxReplayPosition(ctx, endpointID)
	if err != nil {
		return 0, err
	}
	position := maxPos + 1

	item := &models.ReplayQueueItem{
		ID:             uuid.New().String(),
		EndpointID:     endpointID,
		EventID:        eventID,
		Position:       position,
		CorrelationKey: correlationKey,
		Status:         models.ReplayPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := b.db.InsertReplayItem(ctx, item); err != nil {
		return 0, err
	}

	metrics.RecordReplayEnqueued()
	return position, nil
}

// NextReplayPosition returns the position the next enqueue would take.
func (b *Breaker) NextReplayPosition(ctx context.Context, endpointID string) (int64, error) {
	maxPos, err := b.db.MaxReplayPosition(ctx, endpointID)
	if err != nil {
		return 0, err
	}
	return maxPos + 1, nil
}

// InvalidateState drops the cached state for an endpoint. Tests and manual
// management operations use this after direct store writes.
func (b *Breaker) InvalidateState(endpointID string) {
	b.stateCache.Remove(endpointID)
}

// transition applies the bookkeeping every state change requires: a fresh
// state_changed_at and a reset of the counters irrelevant to the new state.
func transition(ep *models.Endpoint, next models.CircuitState) {
	ep.CircuitState = next
	ep.StateChangedAt = time.Now().UTC()

	switch next {
	case models.CircuitOpen:
		ep.ConsecutiveSuccesses = 0
		ep.ConsecutiveHealthCheckSuccess = 0
	case models.CircuitHalfOpen:
		ep.ConsecutiveFailures = 0
		ep.ConsecutiveSuccesses = 0
		ep.ConsecutiveHealthCheckSuccess = 0
	case models.CircuitClosed:
		ep.ConsecutiveFailures = 0
		ep.ConsecutiveHealthCheckSuccess = 0
	}
}

// windowStats derives the rolling success percentage and average response
// time from the window rows. An empty window reads as fully healthy.
func windowStats(window []*models.Delivery) (successRate, avgResponseMS float64) {
	if len(window) == 0 {
		return 100.0, 0.0
	}

	var successes, rttSamples, rttTotal int
	for _, d := range window {
		if d.Success() {
			successes++
		}
		if d.ResponseTimeMS > 0 {
			rttSamples++
			rttTotal += d.ResponseTimeMS
		}
	}

	successRate = float64(successes) / float64(len(window)) * 100.0
	if rttSamples > 0 {
		avgResponseMS = float64(rttTotal) / float64(rttSamples)
	}
	return successRate, avgResponseMS
}
