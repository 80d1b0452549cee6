// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/models"
)

// eventDetail is the inspection view of one event: the record plus every
// delivery attempt in order.
type eventDetail struct {
	Event      *models.Event      `json:"event"`
	Deliveries []*models.Delivery `json:"deliveries"`
}

// GetEvent handles GET /api/v1/events/{id}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	ev, err := h.db.GetEvent(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "EVENT_NOT_FOUND", "Unknown event", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load event", err)
		return
	}

	deliveries, err := h.db.ListDeliveriesByEvent(r.Context(), ev.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load deliveries", err)
		return
	}

	respondSuccess(w, http.StatusOK, &eventDetail{Event: ev, Deliveries: deliveries}, start)
}

// ListEvents handles GET /api/v1/integrations/{id}/events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	integrationID := chi.URLParam(r, "id")
	limit, offset := h.pageParams(r)

	events, err := h.db.ListEventsByIntegration(r.Context(), integrationID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to list events", err)
		return
	}

	respondSuccess(w, http.StatusOK, events, start)
}

// ListReconciliationRuns handles GET /api/v1/integrations/{id}/reconciliation-runs.
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	integrationID := chi.URLParam(r, "id")
	limit, _ := h.pageParams(r)

	runs, err := h.db.ListReconciliationRuns(r.Context(), integrationID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to list reconciliation runs", err)
		return
	}

	respondSuccess(w, http.StatusOK, runs, start)
}
