// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hookwise/hookwise/internal/breaker"
	"github.com/hookwise/hookwise/internal/models"
)

// forceOpen trips the endpoint's breaker so items can be parked.
func forceOpen(t *testing.T, env *pipelineEnv) {
	t.Helper()
	ev := env.seedEvent(t, `{}`, "")
	if err := env.db.InsertDelivery(context.Background(), &models.Delivery{
		ID: uuid.New().String(), EventID: ev.ID, EndpointID: env.endpoint.ID,
		Status: models.DeliveryFailed, StatusCode: 503,
		ErrorType: models.ErrorServerError, AttemptNumber: 1,
		AttemptedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert delivery: %v", err)
	}
	if _, _, err := env.breaker.RecordDelivery(context.Background(), env.endpoint.ID,
		breaker.Outcome{Success: false, ResponseTimeMS: 100, ForceOpen: true}); err != nil {
		t.Fatalf("record delivery: %v", err)
	}
}

// halfOpen walks the endpoint OPEN -> HALF_OPEN via probe successes.
func halfOpen(t *testing.T, env *pipelineEnv) {
	t.Helper()
	for i := 0; i < 3; i++ {
		if _, _, err := env.breaker.RecordHealthCheck(context.Background(), env.endpoint.ID, true); err != nil {
			t.Fatalf("record health check: %v", err)
		}
	}
	if env.endpointState(t).CircuitState != models.CircuitHalfOpen {
		t.Fatal("Setup failed to reach half_open")
	}
}

// park enqueues an event at the next replay position.
func park(t *testing.T, env *pipelineEnv, payload, providerEventID, key string) *models.Event {
	t.Helper()
	ev := env.seedEvent(t, payload, providerEventID)
	if _, err := env.breaker.EnqueueForReplay(context.Background(), env.endpoint.ID, ev.ID, key); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return ev
}

func TestEngine_DrainsInPositionOrder(t *testing.T) {
	var mu sync.Mutex
	var receivedIDs []string

	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		receivedIDs = append(receivedIDs, r.Header.Get(HeaderEventID))
		mu.Unlock()
		if r.Header.Get(HeaderReplay) != "true" {
			t.Error("Replay delivery missing replay header")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer dest.Close()

	env := newPipelineEnv(t, dest.URL)
	forceOpen(t, env)

	var parked []*models.Event
	for i := 0; i < 8; i++ {
		parked = append(parked, park(t, env, fmt.Sprintf(`{"seq":%d}`, i), "", "key-1"))
	}

	halfOpen(t, env)

	if err := env.engine().Drain(context.Background(), env.endpoint.ID); err != nil {
		t.Fatalf("drain: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(receivedIDs) != 8 {
		t.Fatalf("Destination received %d events, want 8", len(receivedIDs))
	}
	for i, id := range receivedIDs {
		if id != parked[i].ID {
			t.Fatalf("Out of order at %d: got %s want %s", i, id, parked[i].ID)
		}
	}

	// All items resolved, delivered_at ascending with position.
	items, err := env.db.ListReplayItems(context.Background(), env.endpoint.ID, 100, 0)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	var last time.Time
	for _, item := range items {
		if item.Status != models.ReplayDelivered {
			t.Errorf("Item at position %d status = %s", item.Position, item.Status)
			continue
		}
		if item.DeliveredAt == nil {
			t.Errorf("Item at position %d missing delivered_at", item.Position)
			continue
		}
		if item.DeliveredAt.Before(last) {
			t.Errorf("delivered_at regressed at position %d", item.Position)
		}
		last = *item.DeliveredAt
	}
}

func TestEngine_DedupSkipsDeliveredProviderEventID(t *testing.T) {
	var calls int
	var mu sync.Mutex
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer dest.Close()

	env := newPipelineEnv(t, dest.URL)

	// A previously delivered event with the shared provider id.
	deliveredEv := env.seedEvent(t, `{"id":"evt_X"}`, "evt_X")
	if err := env.db.InsertDelivery(context.Background(), &models.Delivery{
		ID: uuid.New().String(), EventID: deliveredEv.ID, EndpointID: env.endpoint.ID,
		Status: models.DeliveryDelivered, StatusCode: 200, AttemptNumber: 1,
		AttemptedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert delivery: %v", err)
	}

	forceOpen(t, env)
	park(t, env, `{"id":"evt_X"}`, "evt_X", "")
	halfOpen(t, env)

	if err := env.engine().Drain(context.Background(), env.endpoint.ID); err != nil {
		t.Fatalf("drain: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("Deduplicated item still hit the destination %d times", calls)
	}

	items, _ := env.db.ListReplayItems(context.Background(), env.endpoint.ID, 100, 0)
	if len(items) != 1 || items[0].Status != models.ReplayDelivered {
		t.Errorf("Items = %+v", items)
	}
}

func TestEngine_SkipBudget(t *testing.T) {
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer dest.Close()

	env := newPipelineEnv(t, dest.URL)
	forceOpen(t, env)
	exhausted := park(t, env, `{"n":1}`, "", "")
	fresh := park(t, env, `{"n":2}`, "", "")
	_ = fresh

	// Exhaust the first item's budget directly.
	items, _ := env.db.PendingReplayBatch(context.Background(), env.endpoint.ID, 10)
	items[0].Attempts = env.cfg.ReplaySkipBudget
	if err := env.db.UpdateReplayItem(context.Background(), items[0]); err != nil {
		t.Fatalf("update item: %v", err)
	}

	halfOpen(t, env)
	if err := env.engine().Drain(context.Background(), env.endpoint.ID); err != nil {
		t.Fatalf("drain: %v", err)
	}

	final, _ := env.db.ListReplayItems(context.Background(), env.endpoint.ID, 100, 0)
	byEvent := map[string]models.ReplayStatus{}
	for _, item := range final {
		byEvent[item.EventID] = item.Status
	}
	if byEvent[exhausted.ID] != models.ReplaySkipped {
		t.Errorf("Exhausted item status = %s, want skipped", byEvent[exhausted.ID])
	}
	if byEvent[fresh.ID] != models.ReplayDelivered {
		t.Errorf("Fresh item status = %s, want delivered (skip must not block later positions)", byEvent[fresh.ID])
	}
}

func TestEngine_StopsWhenBreakerReopens(t *testing.T) {
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer dest.Close()

	env := newPipelineEnv(t, dest.URL)
	forceOpen(t, env)
	park(t, env, `{"n":1}`, "", "")

	// Still OPEN: the drain must do nothing.
	if err := env.engine().Drain(context.Background(), env.endpoint.ID); err != nil {
		t.Fatalf("drain: %v", err)
	}

	items, _ := env.db.PendingReplayBatch(context.Background(), env.endpoint.ID, 10)
	if len(items) != 1 {
		t.Errorf("Open-circuit drain consumed items: %d pending", len(items))
	}
}
