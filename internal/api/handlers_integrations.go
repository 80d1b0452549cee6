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
	"github.com/google/uuid"

	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/models"
)

// integrationRequest is the create/update payload for an integration.
type integrationRequest struct {
	OwnerID        string `json:"owner_id" validate:"required"`
	Provider       string `json:"provider" validate:"required,oneof=stripe shopify github"`
	Name           string `json:"name"`
	SigningSecret  string `json:"signing_secret" validate:"required,min=8"`
	DestinationURL string `json:"destination_url" validate:"required,url"`
	Status         string `json:"status" validate:"omitempty,oneof=active paused error"`
	ForwardInvalid *bool  `json:"forward_invalid"`

	// ReconcileCredential, when present, is encrypted before storage.
	ReconcileCredential string `json:"reconcile_credential"`
}

// CreateIntegration handles POST /api/v1/integrations.
func (h *Handler) CreateIntegration(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req integrationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "Failed to parse request JSON", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	now := time.Now().UTC()
	in := &models.Integration{
		ID:             uuid.New().String(),
		OwnerID:        req.OwnerID,
		Provider:       models.Provider(req.Provider),
		Name:           req.Name,
		SigningSecret:  req.SigningSecret,
		DestinationURL: req.DestinationURL,
		Status:         models.IntegrationActive,
		ForwardInvalid: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Status != "" {
		in.Status = models.IntegrationStatus(req.Status)
	}
	if req.ForwardInvalid != nil {
		in.ForwardInvalid = *req.ForwardInvalid
	}

	if req.ReconcileCredential != "" {
		encrypted, err := h.encryptor.Encrypt(req.ReconcileCredential)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "ENCRYPTION_ERROR", "Failed to encrypt credential", err)
			return
		}
		in.ReconcileCredential = encrypted
	}

	if err := h.db.InsertIntegration(r.Context(), in); err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to create integration", err)
		return
	}

	// Provision the endpoint eagerly so health state exists before the
	// first event arrives.
	if _, err := h.db.EnsureEndpoint(r.Context(), in.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to create endpoint", err)
		return
	}

	respondSuccess(w, http.StatusCreated, in, start)
}

// GetIntegration handles GET /api/v1/integrations/{id}.
func (h *Handler) GetIntegration(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	in, err := h.db.GetIntegration(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "INTEGRATION_NOT_FOUND", "Unknown integration", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load integration", err)
		return
	}

	respondSuccess(w, http.StatusOK, in, start)
}

// ListIntegrations handles GET /api/v1/integrations.
func (h *Handler) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit, offset := h.pageParams(r)

	list, err := h.db.ListIntegrations(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to list integrations", err)
		return
	}

	respondSuccess(w, http.StatusOK, list, start)
}

// UpdateIntegration handles PUT /api/v1/integrations/{id}.
func (h *Handler) UpdateIntegration(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	in, err := h.db.GetIntegration(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "INTEGRATION_NOT_FOUND", "Unknown integration", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load integration", err)
		return
	}

	var req integrationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "Failed to parse request JSON", err)
		return
	}

	if req.Name != "" {
		in.Name = req.Name
	}
	if req.SigningSecret != "" {
		in.SigningSecret = req.SigningSecret
	}
	if req.DestinationURL != "" {
		in.DestinationURL = req.DestinationURL
	}
	if req.Status != "" {
		status := models.IntegrationStatus(req.Status)
		switch status {
		case models.IntegrationActive, models.IntegrationPaused, models.IntegrationError:
			in.Status = status
		default:
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown status", nil)
			return
		}
	}
	if req.ForwardInvalid != nil {
		in.ForwardInvalid = *req.ForwardInvalid
	}
	if req.ReconcileCredential != "" {
		encrypted, err := h.encryptor.Encrypt(req.ReconcileCredential)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "ENCRYPTION_ERROR", "Failed to encrypt credential", err)
			return
		}
		in.ReconcileCredential = encrypted
	}

	if err := h.db.UpdateIntegration(r.Context(), in); err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to update integration", err)
		return
	}

	// Drop the hot circuit-state cache: a changed destination or status
	// should not be judged against the old destination's health.
	if ep, err := h.db.GetEndpointByIntegration(r.Context(), in.ID); err == nil {
		h.breaker.InvalidateState(ep.ID)
	}

	respondSuccess(w, http.StatusOK, in, start)
}

// DeleteIntegration handles DELETE /api/v1/integrations/{id}. Integrations
// that events still reference cannot be deleted.
func (h *Handler) DeleteIntegration(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	err := h.db.DeleteIntegration(r.Context(), id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "INTEGRATION_NOT_FOUND", "Unknown integration", nil)
		return
	case errors.Is(err, database.ErrIntegrationReferenced):
		respondError(w, http.StatusConflict, "INTEGRATION_REFERENCED", "Integration has events and cannot be deleted", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to delete integration", err)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]bool{"deleted": true}, start)
}
