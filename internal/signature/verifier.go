// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

// Package signature verifies provider webhook signatures and extracts the
// provider-level event identity from incoming requests.
//
// A failed verification never rejects a request at ingestion: the event is
// stored with signature_valid=false so a misconfigured secret can be
// diagnosed from the persisted payload. Verifiers therefore report validity
// rather than returning errors for mismatches.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/hookwise/hookwise/internal/models"
)

// Result is the outcome of verifying one inbound request.
type Result struct {
	// Valid is true when the signature matched the integration's secret.
	Valid bool

	// EventType is the provider's event type string ("invoice.paid",
	// "orders/create", "push", ...). Empty when the provider sent none.
	EventType string

	// ProviderEventID is the provider-supplied event identifier used for
	// deduplication. Empty when the provider sent none.
	ProviderEventID string
}

// Verifier checks one provider's signature scheme.
//
// Headers must be lower-cased by the caller; body is the raw request body
// exactly as received.
type Verifier interface {
	Verify(body []byte, headers map[string]string, secret string) Result
}

// ForProvider returns the verifier for a provider tag, or nil for unknown
// providers.
func ForProvider(p models.Provider) Verifier {
	switch p {
	case models.ProviderStripe:
		return &StripeVerifier{}
	case models.ProviderShopify:
		return &ShopifyVerifier{}
	case models.ProviderGitHub:
		return &GitHubVerifier{}
	default:
		return nil
	}
}

// hmacSHA256 computes the HMAC-SHA256 of message under key.
func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// constantTimeEqual compares two byte slices without leaking timing.
func constantTimeEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
