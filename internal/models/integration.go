// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

// Package models defines the persisted records and API envelopes shared by
// the ingestion path, the delivery pipeline, and the management API.
//
// Enumerations use stable string tags so rows remain readable in the store
// and unambiguous across releases.
package models

import (
	"time"
)

// Provider identifies the third-party event producer an integration speaks.
type Provider string

// Supported providers.
const (
	ProviderStripe  Provider = "stripe"
	ProviderShopify Provider = "shopify"
	ProviderGitHub  Provider = "github"
)

// Valid reports whether p is a known provider tag.
func (p Provider) Valid() bool {
	switch p {
	case ProviderStripe, ProviderShopify, ProviderGitHub:
		return true
	}
	return false
}

// IntegrationStatus is the lifecycle state of an integration.
type IntegrationStatus string

// Integration lifecycle states.
const (
	IntegrationActive IntegrationStatus = "active"
	IntegrationPaused IntegrationStatus = "paused"
	IntegrationError  IntegrationStatus = "error"
)

// Integration is a producer configuration: which provider signs the incoming
// notifications, and which destination receives them.
//
// The signing secret authenticates inbound webhooks; the reconciliation
// credential (optional, stored AES-256-GCM encrypted) authenticates outbound
// pulls against the provider API. An integration cannot be deleted while
// events reference it.
type Integration struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"owner_id"`
	Provider       Provider          `json:"provider"`
	Name           string            `json:"name,omitempty"`
	SigningSecret  string            `json:"-"` // never serialized to API responses
	DestinationURL string            `json:"destination_url"`
	Status         IntegrationStatus `json:"status"`

	// ForwardInvalid controls whether events whose signature failed
	// verification are still forwarded to the destination. The event is
	// stored either way with its durable signature_valid flag.
	ForwardInvalid bool `json:"forward_invalid"`

	// ReconcileCredential is the encrypted provider API credential used by
	// the reconciliation puller. Empty disables reconciliation.
	ReconcileCredential string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the integration accepts and forwards events.
func (i *Integration) Active() bool {
	return i.Status == IntegrationActive
}
