// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package signature

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	// stripeSignatureHeader carries the timestamp and one or more v1
	// signatures: t=<unix>,v1=<hex>[,v1=<hex>...].
	stripeSignatureHeader = "stripe-signature"

	// stripeTimestampTolerance bounds |now - t| to defeat replay of old
	// signed payloads.
	stripeTimestampTolerance = 300 * time.Second
)

// StripeVerifier verifies Stripe-style signatures: HMAC-SHA256 over
// "<t>.<raw-body>", hex encoded, with a 5-minute timestamp tolerance.
//
// Now is overridable for tests; the zero value uses the wall clock.
type StripeVerifier struct {
	Now func() time.Time
}

// stripeEnvelope is the subset of the Stripe event body the verifier reads
// for identity extraction.
type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Verify implements Verifier.
func (v *StripeVerifier) Verify(body []byte, headers map[string]string, secret string) Result {
	res := Result{}

	// Identity comes from the payload regardless of signature validity.
	var envelope stripeEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		res.EventType = envelope.Type
		res.ProviderEventID = envelope.ID
	}

	header := headers[stripeSignatureHeader]
	if header == "" || secret == "" {
		return res
	}

	timestamp, candidates := parseStripeHeader(header)
	if timestamp == 0 || len(candidates) == 0 {
		return res
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	age := now.Unix() - timestamp
	if age < 0 {
		age = -age
	}
	if age > int64(stripeTimestampTolerance/time.Second) {
		return res
	}

	signed := strconv.FormatInt(timestamp, 10) + "."
	expected := hmacSHA256([]byte(secret), append([]byte(signed), body...))

	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if constantTimeEqual(decoded, expected) {
			res.Valid = true
			return res
		}
	}

	return res
}

// parseStripeHeader splits "t=...,v1=...,v1=..." into the timestamp and the
// list of v1 signature candidates. A malformed timestamp yields 0.
func parseStripeHeader(header string) (int64, []string) {
	var timestamp int64
	var candidates []string

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				timestamp = ts
			}
		case "v1":
			candidates = append(candidates, value)
		}
	}

	return timestamp, candidates
}
