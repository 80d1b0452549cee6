// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package delivery

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hookwise/hookwise/internal/breaker"
	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/idempotency"
	"github.com/hookwise/hookwise/internal/models"
)

// publishedTask records one fake publish.
type publishedTask struct {
	Topic string
	MsgID string
	Task  interface{}
}

// fakePublisher captures tasks instead of touching a broker.
type fakePublisher struct {
	mu    sync.Mutex
	tasks []publishedTask
}

func (f *fakePublisher) PublishTask(_ context.Context, topic, msgID string, task interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, publishedTask{Topic: topic, MsgID: msgID, Task: task})
	return nil
}

// byTopic returns the captured tasks for a topic.
func (f *fakePublisher) byTopic(topic string) []publishedTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedTask
	for _, task := range f.tasks {
		if task.Topic == topic {
			out = append(out, task)
		}
	}
	return out
}

// pipelineEnv is one fully wired delivery pipeline over throwaway stores.
type pipelineEnv struct {
	db        *database.DB
	breaker   *breaker.Breaker
	idem      *idempotency.Store
	transport *Transport
	publisher *fakePublisher
	cfg       config.DeliveryConfig
	integ     *models.Integration
	endpoint  *models.Endpoint
}

// newPipelineEnv seeds an active integration pointing at destinationURL.
// Backoffs are shrunk so retry paths run in test time.
func newPipelineEnv(t *testing.T, destinationURL string) *pipelineEnv {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "pipeline.duckdb"),
		MaxMemory: "512MB",
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	idem, err := idempotency.Open(filepath.Join(t.TempDir(), "idem"), time.Hour)
	if err != nil {
		t.Fatalf("open idempotency store: %v", err)
	}
	t.Cleanup(func() { _ = idem.Close() })

	now := time.Now().UTC()
	integ := &models.Integration{
		ID:             uuid.New().String(),
		OwnerID:        "owner-1",
		Provider:       models.ProviderStripe,
		SigningSecret:  "whsec_test",
		DestinationURL: destinationURL,
		Status:         models.IntegrationActive,
		ForwardInvalid: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.InsertIntegration(context.Background(), integ); err != nil {
		t.Fatalf("insert integration: %v", err)
	}
	ep, err := db.EnsureEndpoint(context.Background(), integ.ID)
	if err != nil {
		t.Fatalf("ensure endpoint: %v", err)
	}

	return &pipelineEnv{
		db:        db,
		breaker:   breaker.New(db),
		idem:      idem,
		transport: NewTransport(""),
		publisher: &fakePublisher{},
		cfg: config.DeliveryConfig{
			Timeout:            2 * time.Second,
			RetryTimeout:       4 * time.Second,
			ServerErrorBackoff: 10 * time.Millisecond,
			RateLimitFallback:  10 * time.Millisecond,
			ReplayBatchSize:    10,
			ReplaySkipBudget:   3,
		},
		integ:    integ,
		endpoint: ep,
	}
}

// worker builds the delivery worker over the env.
func (e *pipelineEnv) worker() *Worker {
	return NewWorker(e.db, e.breaker, e.transport, e.publisher, e.idem, e.cfg)
}

// engine builds the replay engine over the env.
func (e *pipelineEnv) engine() *Engine {
	return NewEngine(e.db, e.breaker, e.transport, e.publisher, e.idem, e.cfg)
}

// seedEvent inserts one stored webhook event.
func (e *pipelineEnv) seedEvent(t *testing.T, payload string, providerEventID string) *models.Event {
	t.Helper()

	ev := &models.Event{
		ID:              uuid.New().String(),
		IntegrationID:   e.integ.ID,
		EventType:       "invoice.paid",
		Payload:         json.RawMessage(payload),
		Headers:         map[string]string{"content-type": "application/json"},
		SignatureValid:  true,
		ProviderEventID: providerEventID,
		Source:          models.SourceWebhook,
		ReceivedAt:      time.Now().UTC(),
	}
	if err := e.db.InsertEvent(context.Background(), ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return ev
}

// endpointState reloads the endpoint row.
func (e *pipelineEnv) endpointState(t *testing.T) *models.Endpoint {
	t.Helper()
	ep, err := e.db.GetEndpoint(context.Background(), e.endpoint.ID)
	if err != nil {
		t.Fatalf("get endpoint: %v", err)
	}
	return ep
}
