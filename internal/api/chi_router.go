// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the HTTP surface from a handler and middleware set.
type Router struct {
	handler    *Handler
	middleware *ChiMiddleware
}

// NewRouter creates the router.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// SetupChi configures all HTTP routes using the Chi router.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	// Producer-facing ingestion path. No bearer auth: the provider
	// signature is the authentication, and the 50 ms budget leaves no room
	// for more.
	r.Route("/ingest", func(r chi.Router) {
		r.Use(router.middleware.RateLimitIngest())
		r.Post("/{integrationID}", router.handler.Ingest)
	})

	// Health endpoints: unauthenticated, for orchestrators and monitors.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// Prometheus metrics.
	r.Handle("/metrics", promhttp.Handler())

	// Management API: authenticated, rate limited.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(router.middleware.Authenticate)

		r.Route("/integrations", func(r chi.Router) {
			r.Post("/", router.handler.CreateIntegration)
			r.Get("/", router.handler.ListIntegrations)
			r.Get("/{id}", router.handler.GetIntegration)
			r.Put("/{id}", router.handler.UpdateIntegration)
			r.Delete("/{id}", router.handler.DeleteIntegration)

			r.Get("/{id}/events", router.handler.ListEvents)
			r.Get("/{id}/endpoint", router.handler.GetEndpointState)
			r.Get("/{id}/replay-queue", router.handler.ListReplayQueue)
			r.Get("/{id}/reconciliation-runs", router.handler.ListReconciliationRuns)
		})

		r.Get("/events/{id}", router.handler.GetEvent)
		r.Post("/replay", router.handler.Replay)
	})

	return r
}
