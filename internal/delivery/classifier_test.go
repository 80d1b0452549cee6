// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package delivery

import (
	"testing"
	"time"

	"github.com/hookwise/hookwise/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errMsg     string
		retryAfter string
		wantType   models.ErrorType
		wantRetry  bool
		wantDelay  time.Duration
		wantOpen   bool
	}{
		{
			name:      "context deadline is timeout",
			errMsg:    "context deadline exceeded (Client.Timeout exceeded)",
			wantType:  models.ErrorTimeout,
			wantRetry: true,
		},
		{
			name:      "aborted request is timeout",
			errMsg:    "request aborted",
			wantType:  models.ErrorTimeout,
			wantRetry: true,
		},
		{
			name:     "tls handshake is ssl and opens circuit",
			errMsg:   "tls: failed to verify certificate",
			wantType: models.ErrorSSL,
			wantOpen: true,
		},
		{
			name:     "connection refused opens circuit",
			errMsg:   "dial tcp 127.0.0.1:9: connect: connection refused",
			wantType: models.ErrorConnectionRefused,
			wantOpen: true,
		},
		{
			name:     "dns failure opens circuit",
			errMsg:   "lookup nope.invalid: no such host",
			wantType: models.ErrorConnectionRefused,
			wantOpen: true,
		},
		{
			name:       "429 honours retry-after",
			statusCode: 429,
			retryAfter: "7",
			wantType:   models.ErrorRateLimit,
			wantRetry:  true,
			wantDelay:  7 * time.Second,
		},
		{
			name:       "429 without header falls back to 60s",
			statusCode: 429,
			wantType:   models.ErrorRateLimit,
			wantRetry:  true,
			wantDelay:  60 * time.Second,
		},
		{
			name:       "503 retries after 30s",
			statusCode: 503,
			wantType:   models.ErrorServerError,
			wantRetry:  true,
			wantDelay:  30 * time.Second,
		},
		{
			name:       "500 retries immediately",
			statusCode: 500,
			wantType:   models.ErrorServerError,
			wantRetry:  true,
		},
		{
			name:       "404 is unknown",
			statusCode: 404,
			wantType:   models.ErrorUnknown,
			wantRetry:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.statusCode, tt.errMsg, tt.retryAfter)
			if got.ErrorType != tt.wantType {
				t.Errorf("ErrorType = %s, want %s", got.ErrorType, tt.wantType)
			}
			if got.ShouldRetry != tt.wantRetry {
				t.Errorf("ShouldRetry = %v, want %v", got.ShouldRetry, tt.wantRetry)
			}
			if got.RetryDelay != tt.wantDelay {
				t.Errorf("RetryDelay = %v, want %v", got.RetryDelay, tt.wantDelay)
			}
			if got.ShouldOpenCircuit != tt.wantOpen {
				t.Errorf("ShouldOpenCircuit = %v, want %v", got.ShouldOpenCircuit, tt.wantOpen)
			}
		})
	}
}

func TestClassify_RuleOrder(t *testing.T) {
	// A timeout message with a 503 status must classify as timeout: message
	// rules precede status rules.
	got := Classify(503, "request timeout", "")
	if got.ErrorType != models.ErrorTimeout {
		t.Errorf("Expected message rule to win, got %s", got.ErrorType)
	}
}
