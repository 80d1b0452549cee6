// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestInitAndLog(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf, Timestamp: true})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Str("component", "test").Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("Missing message: %s", out)
	}
	if !strings.Contains(out, `"component":"test"`) {
		t.Errorf("Missing field: %s", out)
	}
	if !strings.Contains(out, `"level":"info"`) {
		t.Errorf("Missing level: %s", out)
	}
}

func TestCtx_CarriesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	ctx := ContextWithCorrelationID(context.Background(), "abcd1234")
	Ctx(ctx).Info().Msg("with correlation")

	if !strings.Contains(buf.String(), `"correlation_id":"abcd1234"`) {
		t.Errorf("Correlation id not propagated: %s", buf.String())
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain value", "plain value"},
		{"line\nbreak", "line\\x0abreak"},
		{"tab\there", "tab\\x09here"},
		{"del\x7fchar", "del\\x7fchar"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if CorrelationIDFromContext(ctx) != "" {
		t.Error("Empty context should carry no id")
	}

	ctx = ContextWithNewCorrelationID(ctx)
	id := CorrelationIDFromContext(ctx)
	if len(id) != 8 {
		t.Errorf("Correlation id length = %d, want 8", len(id))
	}
}
