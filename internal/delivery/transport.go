// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

// Package delivery implements the outbound half of the pipeline: the HTTP
// transport, the failure classifier, the delivery worker consuming queue
// tasks, the ordered replay engine, the health prober, and the orphan
// sweeper.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hookwise/hookwise/internal/models"
)

// Outbound headers stamped on every forwarded event.
const (
	HeaderEventID       = "X-HookWise-Event-ID"
	HeaderTimestamp     = "X-HookWise-Timestamp"
	HeaderIntegrationID = "X-HookWise-Integration-ID"
	HeaderRetryCount    = "X-HookWise-Retry-Count"
	HeaderReplay        = "X-HookWise-Replay"
)

// Request describes one forwarding attempt.
type Request struct {
	DestinationURL string
	EventID        string
	IntegrationID  string

	// Payload is the stored raw event body, forwarded byte-for-byte.
	Payload []byte

	// Attempt is 1-based; attempts beyond the first carry the retry-count
	// header.
	Attempt int

	// Replay marks items drained from the replay queue.
	Replay bool

	// Timeout is the per-attempt deadline.
	Timeout time.Duration
}

// Result captures the destination's response, or the transport failure.
type Result struct {
	StatusCode     int
	Body           string // truncated to models.MaxResponseBody
	ResponseTimeMS int
	RetryAfter     string // raw Retry-After header, when present

	// Err is the transport-level error (timeout, TLS, refused connection).
	// Nil when any HTTP response was received.
	Err error
}

// Success reports whether the destination acknowledged with a 2xx.
func (r *Result) Success() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport posts events to destinations with explicit deadlines and
// response capture.
type Transport struct {
	client    *http.Client
	publicURL string
}

// NewTransport creates a transport. publicURL identifies this deployment in
// the User-Agent; the per-request timeout comes from each Request.
func NewTransport(publicURL string) *Transport {
	return &Transport{
		// Timeouts are enforced per request via context so retries can
		// extend the deadline without a second client.
		client:    &http.Client{},
		publicURL: publicURL,
	}
}

// Deliver posts the payload to the destination and captures the response.
// Transport-level failures land in Result.Err; HTTP responses of any status
// are not errors at this layer.
func (t *Transport) Deliver(ctx context.Context, req *Request) *Result {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.DestinationURL, bytes.NewReader(req.Payload))
	if err != nil {
		return &Result{Err: fmt.Errorf("build request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderEventID, req.EventID)
	httpReq.Header.Set(HeaderTimestamp, time.Now().UTC().Format(time.RFC3339))
	httpReq.Header.Set(HeaderIntegrationID, req.IntegrationID)
	if req.Attempt > 1 {
		httpReq.Header.Set(HeaderRetryCount, strconv.Itoa(req.Attempt-1))
	}
	if req.Replay {
		httpReq.Header.Set(HeaderReplay, "true")
	}
	if t.publicURL != "" {
		httpReq.Header.Set("User-Agent", "HookWise/1.0 (+"+t.publicURL+")")
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	elapsed := time.Since(start)

	result := &Result{ResponseTimeMS: int(elapsed.Milliseconds())}
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.RetryAfter = resp.Header.Get("Retry-After")

	body, _ := io.ReadAll(io.LimitReader(resp.Body, models.MaxResponseBody))
	result.Body = string(body)

	return result
}

// Probe issues a health check against a destination: HEAD first, falling
// back to GET when HEAD is not honoured with a 2xx. Any 2xx is success.
func (t *Transport) Probe(ctx context.Context, destinationURL string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if ok := t.probeMethod(ctx, http.MethodHead, destinationURL); ok {
		return true
	}
	return t.probeMethod(ctx, http.MethodGet, destinationURL)
}

// probeMethod issues a single probe request and reports 2xx.
func (t *Transport) probeMethod(ctx context.Context, method, url string) bool {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
