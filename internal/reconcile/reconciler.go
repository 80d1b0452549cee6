// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

// Package reconcile closes webhook gaps by periodically pulling event
// listings from provider APIs and comparing them against locally stored
// provider event ids. Missing events are synthesised (source =
// reconciliation) and fed into the normal delivery pipeline.
//
// Provider API calls run behind a gobreaker circuit so a degraded provider
// API cannot stall every cycle.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/logging"
	"github.com/hookwise/hookwise/internal/metrics"
	"github.com/hookwise/hookwise/internal/models"
	"github.com/hookwise/hookwise/internal/queue"
)

// TaskPublisher is the slice of the queue publisher the reconciler needs.
type TaskPublisher interface {
	PublishTask(ctx context.Context, topic, msgID string, task interface{}) error
}

// ProviderEvent is one event as listed by a provider API.
type ProviderEvent struct {
	ID        string
	Type      string
	CreatedAt time.Time
	Payload   json.RawMessage
}

// providerClient pulls an integration's events from its provider API.
type providerClient interface {
	ListEvents(ctx context.Context, credential string, since, until time.Time) ([]ProviderEvent, error)
}

// Reconciler runs the periodic pull cycle over every active integration
// whose reconciliation credential is set.
type Reconciler struct {
	db        *database.DB
	publisher TaskPublisher
	encryptor *config.CredentialEncryptor
	cfg       config.ReconcileConfig

	clients  map[models.Provider]providerClient
	breakers map[models.Provider]*gobreaker.CircuitBreaker[[]ProviderEvent]
}

// NewReconciler wires the reconciler. GitHub has no reconciliation path, so
// only Stripe and Shopify get clients.
func NewReconciler(db *database.DB, publisher TaskPublisher, encryptor *config.CredentialEncryptor, cfg config.ReconcileConfig) *Reconciler {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	r := &Reconciler{
		db:        db,
		publisher: publisher,
		encryptor: encryptor,
		cfg:       cfg,
		clients: map[models.Provider]providerClient{
			models.ProviderStripe:  newStripeClient(cfg.StripeAPIBase, cfg.PageSize, httpClient),
			models.ProviderShopify: newShopifyClient(cfg.ShopifyAPIBase, cfg.PageSize, httpClient),
		},
		breakers: make(map[models.Provider]*gobreaker.CircuitBreaker[[]ProviderEvent]),
	}

	for provider := range r.clients {
		r.breakers[provider] = gobreaker.NewCircuitBreaker[[]ProviderEvent](gobreaker.Settings{
			Name:    "reconcile-" + string(provider),
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}

	return r
}

// Run executes reconciliation cycles on the configured interval until the
// context is canceled. Suitable as a supervised service body.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Cycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Ctx(ctx).Error().Err(err).Msg("Reconciliation cycle failed")
			}
		}
	}
}

// Cycle reconciles every eligible integration once.
func (r *Reconciler) Cycle(ctx context.Context) error {
	integrations, err := r.db.ActiveIntegrationsWithCredential(ctx)
	if err != nil {
		return fmt.Errorf("list integrations: %w", err)
	}

	for _, integ := range integrations {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.ReconcileIntegration(ctx, integ); err != nil {
			logging.Ctx(ctx).Error().Err(err).
				Str("integration_id", integ.ID).
				Str("provider", string(integ.Provider)).
				Msg("Integration reconciliation failed")
		}
	}
	return nil
}

// ReconcileIntegration pulls one integration's provider events, fills any
// gaps, and persists the audit row. The run row is written regardless of
// whether gaps were found.
func (r *Reconciler) ReconcileIntegration(ctx context.Context, integ *models.Integration) error {
	client, ok := r.clients[integ.Provider]
	if !ok {
		// GitHub and unknown providers have no reconciliation path.
		return nil
	}

	credential, err := r.encryptor.Decrypt(integ.ReconcileCredential)
	if err != nil {
		return fmt.Errorf("decrypt credential: %w", err)
	}

	until := time.Now().UTC()
	since := until.Add(-r.cfg.Lookback)

	providerEvents, err := r.breakers[integ.Provider].Execute(func() ([]ProviderEvent, error) {
		return client.ListEvents(ctx, credential, since, until)
	})
	if err != nil {
		return fmt.Errorf("list provider events: %w", err)
	}

	localIDs, err := r.db.LocalProviderEventIDs(ctx, integ.ID, since)
	if err != nil {
		return fmt.Errorf("list local ids: %w", err)
	}

	run := &models.ReconciliationRun{
		ID:                  uuid.New().String(),
		IntegrationID:       integ.ID,
		ProviderEventsFound: len(providerEvents),
		LocalEventsFound:    len(localIDs),
		RanAt:               until,
	}

	for _, pe := range providerEvents {
		if _, seen := localIDs[pe.ID]; seen {
			continue
		}
		run.GapsDetected++

		if err := r.fillGap(ctx, integ, pe); err != nil {
			metrics.RecordReconciliationGap(string(integ.Provider), false)
			logging.Ctx(ctx).Error().Err(err).
				Str("integration_id", integ.ID).
				Str("provider_event_id", pe.ID).
				Msg("Failed to fill reconciliation gap")
			continue
		}
		run.GapsResolved++
		metrics.RecordReconciliationGap(string(integ.Provider), true)
	}

	if err := r.db.InsertReconciliationRun(ctx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if run.GapsDetected > 0 {
		logging.Ctx(ctx).Info().
			Str("integration_id", integ.ID).
			Int("gaps_detected", run.GapsDetected).
			Int("gaps_resolved", run.GapsResolved).
			Msg("Reconciliation gaps processed")
	}
	return nil
}

// fillGap synthesises the missing event and feeds it into the delivery
// pipeline. Synthesised events carry signature_valid=true and no headers:
// they came from the provider's own API, not a signed request.
func (r *Reconciler) fillGap(ctx context.Context, integ *models.Integration, pe ProviderEvent) error {
	ev := models.NewEvent(integ.ID, models.SourceReconciliation)
	ev.EventType = pe.Type
	ev.ProviderEventID = pe.ID
	ev.SignatureValid = true
	ev.Headers = map[string]string{}
	ev.Payload = pe.Payload
	if len(ev.Payload) == 0 {
		ev.Payload = json.RawMessage("{}")
	}

	if err := r.db.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	task := queue.WebhookReceivedTask{
		EventID:        ev.ID,
		IntegrationID:  integ.ID,
		DestinationURL: integ.DestinationURL,
	}
	if err := r.publisher.PublishTask(ctx, queue.TopicWebhookReceived, "received:"+ev.ID, task); err != nil {
		// The event is safe; the orphan sweeper will redrive it.
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", ev.ID).Msg("Enqueue failed for reconciled event, sweeper will redrive")
	}
	return nil
}
