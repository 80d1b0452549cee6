// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package signature

import (
	"encoding/hex"
	"strings"
)

const (
	githubSignatureHeader = "x-hub-signature-256"
	githubEventHeader     = "x-github-event"
	githubDeliveryHeader  = "x-github-delivery"

	githubSignaturePrefix = "sha256="
)

// GitHubVerifier verifies GitHub-style signatures: "sha256=<hex>" of the
// HMAC-SHA256 over the raw body. Event type and delivery id ride in their
// own headers.
type GitHubVerifier struct{}

// Verify implements Verifier.
func (v *GitHubVerifier) Verify(body []byte, headers map[string]string, secret string) Result {
	res := Result{
		EventType:       headers[githubEventHeader],
		ProviderEventID: headers[githubDeliveryHeader],
	}

	supplied := headers[githubSignatureHeader]
	if !strings.HasPrefix(supplied, githubSignaturePrefix) || secret == "" {
		return res
	}

	decoded, err := hex.DecodeString(strings.TrimPrefix(supplied, githubSignaturePrefix))
	if err != nil {
		return res
	}

	expected := hmacSHA256([]byte(secret), body)
	res.Valid = constantTimeEqual(decoded, expected)
	return res
}
