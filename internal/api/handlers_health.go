// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package api

import (
	"net/http"
	"time"
)

// healthStatus is the health endpoint payload.
type healthStatus struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Database      string `json:"database"`
	Queue         string `json:"queue"`
}

// HealthLive handles GET /api/v1/health/live: process liveness only.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "alive"}, time.Now())
}

// HealthReady handles GET /api/v1/health/ready: the server is ready when the
// store answers and the task queue stream is reachable.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if err := h.db.Conn().PingContext(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database is not reachable", err)
		return
	}
	if h.queue != nil && !h.queue.IsHealthy(r.Context()) {
		respondError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Task queue is not reachable", nil)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]string{"status": "ready"}, start)
}

// Health handles GET /api/v1/health: the composite status dashboards poll.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	status := healthStatus{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Database:      "ok",
		Queue:         "ok",
	}

	if err := h.db.Conn().PingContext(r.Context()); err != nil {
		status.Status = "degraded"
		status.Database = "unreachable"
	}
	if h.queue != nil && !h.queue.IsHealthy(r.Context()) {
		status.Status = "degraded"
		status.Queue = "unreachable"
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondSuccess(w, code, status, start)
}
