// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hookwise/hookwise/internal/api"
	"github.com/hookwise/hookwise/internal/auth"
	"github.com/hookwise/hookwise/internal/breaker"
	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/delivery"
	"github.com/hookwise/hookwise/internal/idempotency"
	"github.com/hookwise/hookwise/internal/logging"
	"github.com/hookwise/hookwise/internal/reconcile"
	"github.com/hookwise/hookwise/internal/supervisor"
	"github.com/hookwise/hookwise/internal/supervisor/services"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
}

// run wires the process: config -> logging -> stores -> queue -> pipeline
// services -> HTTP -> supervision tree, then blocks until a signal arrives.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Int("port", cfg.Server.Port).
		Msg("HookWise starting")

	// Durable stores.
	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Database close failed")
		}
	}()

	idem, err := idempotency.Open(cfg.Idempotency.Path, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer func() {
		if err := idem.Close(); err != nil {
			logging.Error().Err(err).Msg("Idempotency store close failed")
		}
	}()

	// Secrets.
	var encryptor *config.CredentialEncryptor
	var jwtManager *auth.JWTManager
	if cfg.Security.Secret != "" {
		encryptor, err = config.NewCredentialEncryptor(cfg.Security.Secret)
		if err != nil {
			return fmt.Errorf("create credential encryptor: %w", err)
		}

		jwtSecret := cfg.Security.JWTSecret
		if jwtSecret == "" {
			jwtSecret = cfg.Security.Secret
		}
		jwtManager, err = auth.NewJWTManager(jwtSecret, cfg.Security.SessionTimeout)
		if err != nil {
			return fmt.Errorf("create jwt manager: %w", err)
		}
	} else {
		logging.Warn().Msg("No SECRET configured: management auth and credential encryption disabled (development only)")
		encryptor, _ = config.NewCredentialEncryptor("hookwise-development-secret")
	}

	// Pipeline core.
	brk := breaker.New(db)
	transport := delivery.NewTransport(cfg.Server.PublicURL)

	queueComponents, err := InitQueue(cfg, db, brk, transport, idem)
	if err != nil {
		return fmt.Errorf("initialize task queue: %w", err)
	}

	publisher := queueComponents.Publisher()
	prober := delivery.NewProber(db, brk, transport, publisher, idem, cfg.Prober)
	sweeper := delivery.NewSweeper(db, publisher, cfg.Sweeper)
	reconciler := reconcile.NewReconciler(db, publisher, encryptor, cfg.Reconcile)

	// HTTP surface.
	handler := api.NewHandler(db, brk, publisher, queueHealthAdapter{queueComponents}, cfg, jwtManager, encryptor)
	mw := api.NewChiMiddleware(api.ChiMiddlewareConfig{
		CORSOrigins:       cfg.Security.CORSOrigins,
		RateLimitReqs:     cfg.Security.RateLimitReqs,
		RateLimitWindow:   cfg.Security.RateLimitWindow,
		RateLimitDisabled: cfg.Security.RateLimitDisabled,
	}, jwtManager)
	router := api.NewRouter(handler, mw)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	// Supervision tree.
	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("create supervision tree: %w", err)
	}

	tree.AddDataService(services.NewSweeperService(sweeper))
	tree.AddMessagingService(services.NewRouterService(queueComponents.Router()))
	tree.AddMessagingService(services.NewProberService(prober))
	if cfg.Reconcile.Enabled {
		tree.AddMessagingService(services.NewReconcilerService(reconciler))
	}
	tree.AddAPIService(services.NewHTTPServerService(httpServer, 15*time.Second))

	// Run until a termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("HookWise ready")
	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervision tree exited")
	}

	// Drain the queue stack after the tree stops consuming.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queueComponents.Shutdown(shutdownCtx)

	logging.Info().Msg("HookWise stopped")
	return nil
}

// queueHealthAdapter exposes the stream initializer as the API's queue
// health probe.
type queueHealthAdapter struct {
	components *QueueComponents
}

// IsHealthy reports whether the task stream is reachable.
func (a queueHealthAdapter) IsHealthy(ctx context.Context) bool {
	if a.components == nil || a.components.Stream() == nil {
		return false
	}
	return a.components.Stream().IsHealthy(ctx)
}
