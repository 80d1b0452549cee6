// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTransport_Deliver_Headers(t *testing.T) {
	var captured http.Header
	var capturedBody string

	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Clone()
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		capturedBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer dest.Close()

	payload := `{"hello":"world"}`
	tr := NewTransport("https://hooks.example.com")
	result := tr.Deliver(context.Background(), &Request{
		DestinationURL: dest.URL,
		EventID:        "ev-1",
		IntegrationID:  "int-1",
		Payload:        []byte(payload),
		Attempt:        2,
		Replay:         true,
		Timeout:        5 * time.Second,
	})

	if !result.Success() {
		t.Fatalf("Expected success, got status=%d err=%v", result.StatusCode, result.Err)
	}
	if capturedBody != payload {
		t.Errorf("Body mutated in flight: %q", capturedBody)
	}
	if got := captured.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := captured.Get(HeaderEventID); got != "ev-1" {
		t.Errorf("%s = %q", HeaderEventID, got)
	}
	if got := captured.Get(HeaderIntegrationID); got != "int-1" {
		t.Errorf("%s = %q", HeaderIntegrationID, got)
	}
	if got := captured.Get(HeaderRetryCount); got != "1" {
		t.Errorf("%s = %q, want 1", HeaderRetryCount, got)
	}
	if got := captured.Get(HeaderReplay); got != "true" {
		t.Errorf("%s = %q, want true", HeaderReplay, got)
	}
	if _, err := time.Parse(time.RFC3339, captured.Get(HeaderTimestamp)); err != nil {
		t.Errorf("%s not RFC3339: %v", HeaderTimestamp, err)
	}
}

func TestTransport_Deliver_FirstAttemptOmitsRetryHeader(t *testing.T) {
	var captured http.Header
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Clone()
	}))
	defer dest.Close()

	tr := NewTransport("")
	tr.Deliver(context.Background(), &Request{
		DestinationURL: dest.URL,
		EventID:        "ev-1",
		IntegrationID:  "int-1",
		Payload:        []byte(`{}`),
		Attempt:        1,
	})

	if captured.Get(HeaderRetryCount) != "" {
		t.Error("First attempt must not carry the retry-count header")
	}
	if captured.Get(HeaderReplay) != "" {
		t.Error("Non-replay attempt must not carry the replay header")
	}
}

func TestTransport_Deliver_TruncatesBodyAndCapturesRetryAfter(t *testing.T) {
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer dest.Close()

	tr := NewTransport("")
	result := tr.Deliver(context.Background(), &Request{
		DestinationURL: dest.URL,
		EventID:        "ev-1",
		IntegrationID:  "int-1",
		Payload:        []byte(`{}`),
		Attempt:        1,
	})

	if result.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", result.StatusCode)
	}
	if result.RetryAfter != "7" {
		t.Errorf("RetryAfter = %q", result.RetryAfter)
	}
	if len(result.Body) != 1024 {
		t.Errorf("Body length = %d, want 1024", len(result.Body))
	}
}

func TestTransport_Deliver_Timeout(t *testing.T) {
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer dest.Close()

	tr := NewTransport("")
	result := tr.Deliver(context.Background(), &Request{
		DestinationURL: dest.URL,
		EventID:        "ev-1",
		IntegrationID:  "int-1",
		Payload:        []byte(`{}`),
		Attempt:        1,
		Timeout:        50 * time.Millisecond,
	})

	if result.Err == nil {
		t.Fatal("Expected transport error on timeout")
	}
	cls := Classify(0, result.Err.Error(), "")
	if cls.ErrorType != "timeout" {
		t.Errorf("Timeout error classified as %s", cls.ErrorType)
	}
}

func TestTransport_Probe(t *testing.T) {
	t.Run("healthy HEAD", func(t *testing.T) {
		dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer dest.Close()

		if !NewTransport("").Probe(context.Background(), dest.URL, time.Second) {
			t.Error("Expected healthy probe")
		}
	})

	t.Run("HEAD rejected, GET accepted", func(t *testing.T) {
		dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer dest.Close()

		if !NewTransport("").Probe(context.Background(), dest.URL, time.Second) {
			t.Error("Expected GET fallback to succeed")
		}
	})

	t.Run("both rejected", func(t *testing.T) {
		dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer dest.Close()

		if NewTransport("").Probe(context.Background(), dest.URL, time.Second) {
			t.Error("Expected unhealthy probe")
		}
	})
}
