// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/logging"
	"github.com/hookwise/hookwise/internal/queue"
)

// replayRequest is the manual replay payload.
type replayRequest struct {
	EventIDs []string `json:"event_ids" validate:"required,min=1,max=100,dive,required"`
}

// replayResult reports per-event scheduling outcomes.
type replayResult struct {
	Scheduled []string          `json:"scheduled"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Replay handles POST /api/v1/replay: operator-triggered re-delivery of
// specific events. Each event is scheduled as a fresh attempt (one past its
// latest recorded attempt) so the idempotency markers of completed attempts
// do not swallow it.
func (h *Handler) Replay(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req replayRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "Failed to parse request JSON", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}
	if h.publisher == nil {
		respondError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Task queue is not available", nil)
		return
	}

	result := &replayResult{Failed: map[string]string{}}
	for _, eventID := range req.EventIDs {
		if err := h.scheduleManualReplay(r, eventID); err != nil {
			result.Failed[eventID] = err.Error()
			continue
		}
		result.Scheduled = append(result.Scheduled, eventID)
	}
	if len(result.Failed) == 0 {
		result.Failed = nil
	}

	logging.Ctx(r.Context()).Info().
		Int("scheduled", len(result.Scheduled)).
		Int("failed", len(result.Failed)).
		Msg("Manual replay requested")

	respondSuccess(w, http.StatusAccepted, result, start)
}

// scheduleManualReplay emits one webhook.retry task for the event's next
// attempt number.
func (h *Handler) scheduleManualReplay(r *http.Request, eventID string) error {
	ev, err := h.db.GetEvent(r.Context(), eventID)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("event not found")
	}
	if err != nil {
		return err
	}

	integ, err := h.db.GetIntegration(r.Context(), ev.IntegrationID)
	if err != nil {
		return err
	}

	deliveries, err := h.db.ListDeliveriesByEvent(r.Context(), ev.ID)
	if err != nil {
		return err
	}
	attempt := 1
	for _, d := range deliveries {
		if d.AttemptNumber >= attempt {
			attempt = d.AttemptNumber + 1
		}
	}

	task := queue.WebhookRetryTask{
		EventID:        ev.ID,
		IntegrationID:  integ.ID,
		DestinationURL: integ.DestinationURL,
		AttemptNumber:  attempt,
	}
	msgID := fmt.Sprintf("retry:%s:%d", ev.ID, attempt)
	return h.publisher.PublishTask(r.Context(), queue.TopicWebhookRetry, msgID, task)
}

// GetEndpointState handles GET /api/v1/integrations/{id}/endpoint: the
// breaker state dashboards surface verbatim.
func (h *Handler) GetEndpointState(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	integrationID := chi.URLParam(r, "id")

	ep, err := h.db.GetEndpointByIntegration(r.Context(), integrationID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "ENDPOINT_NOT_FOUND", "No endpoint for integration", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load endpoint", err)
		return
	}

	respondSuccess(w, http.StatusOK, ep, start)
}

// ListReplayQueue handles GET /api/v1/integrations/{id}/replay-queue.
func (h *Handler) ListReplayQueue(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	integrationID := chi.URLParam(r, "id")
	limit, offset := h.pageParams(r)

	ep, err := h.db.GetEndpointByIntegration(r.Context(), integrationID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "ENDPOINT_NOT_FOUND", "No endpoint for integration", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load endpoint", err)
		return
	}

	items, err := h.db.ListReplayItems(r.Context(), ep.ID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to list replay queue", err)
		return
	}

	respondSuccess(w, http.StatusOK, items, start)
}
