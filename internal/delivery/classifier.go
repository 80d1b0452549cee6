// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package delivery

import (
	"strconv"
	"strings"
	"time"

	"github.com/hookwise/hookwise/internal/models"
)

// Classification is the decision derived from one failed attempt: the error
// taxonomy tag plus what the worker should do about it.
type Classification struct {
	ErrorType   models.ErrorType
	ShouldRetry bool

	// RetryDelay is the wait before the retry, when the rule specifies one.
	// Zero means retry without an extra pause (or, for timeout, with a
	// doubled deadline instead).
	RetryDelay time.Duration

	// ShouldOpenCircuit forces the breaker open regardless of the rolling
	// window: the failure mode (TLS, refused connection) will not heal by
	// retrying individual events.
	ShouldOpenCircuit bool
}

// Classify maps a transport outcome onto the error taxonomy. Rules apply in
// order; the first match wins. Callers invoke it only for failed attempts.
func Classify(statusCode int, transportErr string, retryAfter string) Classification {
	msg := strings.ToLower(transportErr)

	switch {
	case containsAny(msg, "abort", "timeout", "deadline exceeded"):
		// Caller retries with a doubled deadline instead of a pause.
		return Classification{ErrorType: models.ErrorTimeout, ShouldRetry: true}

	case containsAny(msg, "ssl", "tls", "certificate"):
		return Classification{ErrorType: models.ErrorSSL, ShouldOpenCircuit: true}

	case containsAny(msg, "econnrefused", "enotfound", "connection refused", "no such host"):
		return Classification{ErrorType: models.ErrorConnectionRefused, ShouldOpenCircuit: true}

	case statusCode == 429:
		return Classification{
			ErrorType:   models.ErrorRateLimit,
			ShouldRetry: true,
			RetryDelay:  parseRetryAfter(retryAfter),
		}

	case statusCode == 503:
		return Classification{
			ErrorType:   models.ErrorServerError,
			ShouldRetry: true,
			RetryDelay:  30 * time.Second,
		}

	case statusCode >= 500:
		return Classification{ErrorType: models.ErrorServerError, ShouldRetry: true}

	default:
		return Classification{ErrorType: models.ErrorUnknown, ShouldRetry: true}
	}
}

// parseRetryAfter converts a Retry-After header (delta-seconds form) into a
// duration, defaulting to 60 s when absent or unparseable.
func parseRetryAfter(header string) time.Duration {
	if header != "" {
		if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 60 * time.Second
}

// containsAny reports whether s contains any of the substrings.
func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
