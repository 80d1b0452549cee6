// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/hookwise/hookwise/internal/auth"
	"github.com/hookwise/hookwise/internal/logging"
)

// ChiMiddlewareConfig holds middleware settings derived from the security
// configuration.
type ChiMiddlewareConfig struct {
	CORSOrigins       []string
	RateLimitReqs     int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// ChiMiddleware bundles the configured middleware constructors.
type ChiMiddleware struct {
	config     ChiMiddlewareConfig
	jwtManager *auth.JWTManager
}

// NewChiMiddleware creates the middleware set.
func NewChiMiddleware(cfg ChiMiddlewareConfig, jwtManager *auth.JWTManager) *ChiMiddleware {
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 300
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &ChiMiddleware{config: cfg, jwtManager: jwtManager}
}

// CORS returns the CORS middleware for the configured origins.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   m.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// RateLimit returns the standard per-IP rate limiter for management routes.
func (m *ChiMiddleware) RateLimit() func(http.Handler) http.Handler {
	if m.config.RateLimitDisabled {
		return passthrough
	}
	return httprate.LimitByIP(m.config.RateLimitReqs, m.config.RateLimitWindow)
}

// RateLimitIngest returns a permissive limiter for the producer-facing
// ingestion path. Producers burst; the limit only guards against abuse.
func (m *ChiMiddleware) RateLimitIngest() func(http.Handler) http.Handler {
	if m.config.RateLimitDisabled {
		return passthrough
	}
	return httprate.LimitByIP(m.config.RateLimitReqs*10, m.config.RateLimitWindow)
}

// Authenticate requires a valid bearer token on management routes. When no
// JWT manager is configured (development), requests pass through.
func (m *ChiMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.jwtManager == nil {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "MISSING_TOKEN", "Authorization bearer token required", nil)
			return
		}

		if _, err := m.jwtManager.Verify(token); err != nil {
			respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Token verification failed", err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequestIDWithLogging stamps each request with an id, propagates it through
// the context for correlated logs, and echoes it as X-Request-ID.
func RequestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.GenerateRequestID()
			}

			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APISecurityHeaders sets the standard security headers on API responses.
func APISecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}

// passthrough is the disabled-middleware identity.
func passthrough(next http.Handler) http.Handler {
	return next
}
