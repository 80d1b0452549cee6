// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package delivery

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/hookwise/hookwise/internal/models"
)

// CorrelationKey derives the string that groups related events of one
// business object for ordered replay. Keys are hints, not identity: dedup
// uses the provider event id, never the correlation key.
//
// Returns "" when no key applies (unparseable payload, missing fields,
// unknown provider).
func CorrelationKey(provider models.Provider, payload []byte) string {
	switch provider {
	case models.ProviderStripe:
		return stripeCorrelationKey(payload)
	case models.ProviderShopify:
		return shopifyCorrelationKey(payload)
	case models.ProviderGitHub:
		return githubCorrelationKey(payload)
	default:
		return ""
	}
}

// stripeCorrelationKey prefers the customer on the event's object, falling
// back to the object id.
func stripeCorrelationKey(payload []byte) string {
	var body struct {
		Data struct {
			Object struct {
				Customer string `json:"customer"`
				ID       string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}

	if body.Data.Object.Customer != "" {
		return "stripe:customer:" + body.Data.Object.Customer
	}
	if body.Data.Object.ID != "" {
		return "stripe:object:" + body.Data.Object.ID
	}
	return ""
}

// shopifyCorrelationKey prefers the top-level order id, falling back to the
// top-level resource id. Shopify ids are numeric, so fields decode as raw
// numbers.
func shopifyCorrelationKey(payload []byte) string {
	var body struct {
		OrderID json.Number `json:"order_id"`
		ID      json.Number `json:"id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}

	if body.OrderID.String() != "" {
		return "shopify:order:" + body.OrderID.String()
	}
	if body.ID.String() != "" {
		return "shopify:resource:" + body.ID.String()
	}
	return ""
}

// githubCorrelationKey groups by repository.
func githubCorrelationKey(payload []byte) string {
	var body struct {
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}

	if body.Repository.FullName != "" {
		return fmt.Sprintf("github:repo:%s", body.Repository.FullName)
	}
	return ""
}
