// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/logging"
	"github.com/hookwise/hookwise/internal/metrics"
	"github.com/hookwise/hookwise/internal/models"
	"github.com/hookwise/hookwise/internal/queue"
	"github.com/hookwise/hookwise/internal/signature"
)

// maxIngestBody bounds how much a producer can post in one notification.
const maxIngestBody = 5 << 20 // 5MB

// Ingest handles incoming provider webhook notifications.
// POST /ingest/{integrationID}
//
// The fast path does exactly two blocking things: the event insert and the
// local hand-off to the task queue. Signature verification failures do NOT
// reject the request; the event is stored with signature_valid=false so a
// misconfigured secret can be diagnosed from the persisted payload.
//
// Responses:
//   - 200 {"received":true} on accept (including invalid signatures)
//   - 404 on unknown integration
//   - 409 when the integration is paused or errored
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	integrationID := chi.URLParam(r, "integrationID")

	integ, err := h.db.GetIntegration(r.Context(), integrationID)
	if errors.Is(err, database.ErrNotFound) {
		metrics.IngestRejected.WithLabelValues("not_found").Inc()
		respondError(w, http.StatusNotFound, "INTEGRATION_NOT_FOUND", "Unknown integration", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load integration", err)
		return
	}
	if !integ.Active() {
		metrics.IngestRejected.WithLabelValues("inactive").Inc()
		respondError(w, http.StatusConflict, "INTEGRATION_INACTIVE", "Integration is not active", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		metrics.IngestRejected.WithLabelValues("bad_body").Inc()
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body", err)
		return
	}
	defer r.Body.Close()

	headers := lowercaseHeaders(r.Header)

	verifier := signature.ForProvider(integ.Provider)
	var sig signature.Result
	if verifier != nil {
		sig = verifier.Verify(body, headers, integ.SigningSecret)
	}

	ev := models.NewEvent(integ.ID, models.SourceWebhook)
	ev.EventType = sig.EventType
	ev.ProviderEventID = sig.ProviderEventID
	ev.SignatureValid = sig.Valid
	ev.Headers = headers
	ev.Payload = normalizePayload(body)

	if err := h.db.InsertEvent(r.Context(), ev); err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to persist event", err)
		return
	}

	if !sig.Valid {
		logging.Ctx(r.Context()).Warn().
			Str("integration_id", integ.ID).
			Str("event_id", ev.ID).
			Str("provider", string(integ.Provider)).
			Msg("Stored event with invalid signature")
	}

	// Hand off to the queue without holding the response: a failed enqueue
	// is logged and healed by the orphan sweeper, the producer still sees
	// success because the event is durable.
	h.enqueueDelivery(ev, integ)

	metrics.RecordIngest(string(integ.Provider), sig.Valid, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}

// enqueueDelivery publishes the webhook.received task asynchronously. The
// message id is derived from the event so the sweeper's redrive deduplicates
// at the broker.
func (h *Handler) enqueueDelivery(ev *models.Event, integ *models.Integration) {
	if h.publisher == nil {
		return
	}

	task := queue.WebhookReceivedTask{
		EventID:        ev.ID,
		IntegrationID:  integ.ID,
		DestinationURL: integ.DestinationURL,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.publisher.PublishTask(ctx, queue.TopicWebhookReceived, "received:"+ev.ID, task); err != nil {
			logging.Error().Err(err).
				Str("event_id", ev.ID).
				Msg("Failed to enqueue delivery task, sweeper will redrive")
		}
	}()
}

// lowercaseHeaders flattens request headers into a lower-cased key map.
// Multi-valued headers keep their first value, matching what providers send.
func lowercaseHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(key)] = values[0]
	}
	return out
}

// normalizePayload returns the body unchanged when it is valid JSON, and
// wraps it as {"raw": "<body>"} otherwise so the stored payload is always a
// structured blob. The stored form is what gets forwarded, byte-for-byte.
func normalizePayload(body []byte) json.RawMessage {
	if json.Valid(body) && len(body) > 0 {
		return json.RawMessage(body)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(body)})
	if err != nil {
		return json.RawMessage(`{"raw":""}`)
	}
	return json.RawMessage(wrapped)
}
