// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/models"
)

// newTestDB opens a throwaway store under t.TempDir.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(&config.DatabaseConfig{
		Path:                   filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory:              "512MB",
		Threads:                2,
		PreserveInsertionOrder: true,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close test database: %v", err)
		}
	})
	return db
}

// seedIntegration inserts a minimal active integration.
func seedIntegration(t *testing.T, db *DB) *models.Integration {
	t.Helper()

	now := time.Now().UTC()
	in := &models.Integration{
		ID:             uuid.New().String(),
		OwnerID:        "owner-1",
		Provider:       models.ProviderStripe,
		SigningSecret:  "whsec_test",
		DestinationURL: "https://destination.example.com/hooks",
		Status:         models.IntegrationActive,
		ForwardInvalid: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.InsertIntegration(context.Background(), in); err != nil {
		t.Fatalf("insert integration: %v", err)
	}
	return in
}

// seedEvent inserts one webhook event for the integration.
func seedEvent(t *testing.T, db *DB, integrationID, providerEventID string, receivedAt time.Time) *models.Event {
	t.Helper()

	ev := &models.Event{
		ID:              uuid.New().String(),
		IntegrationID:   integrationID,
		EventType:       "invoice.paid",
		Payload:         json.RawMessage(`{"id":"` + providerEventID + `"}`),
		Headers:         map[string]string{"content-type": "application/json"},
		SignatureValid:  true,
		ProviderEventID: providerEventID,
		Source:          models.SourceWebhook,
		ReceivedAt:      receivedAt,
	}
	if err := db.InsertEvent(context.Background(), ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return ev
}

func TestEventRoundTrip(t *testing.T) {
	db := newTestDB(t)
	in := seedIntegration(t, db)

	ev := seedEvent(t, db, in.ID, "evt_1", time.Now().UTC())

	got, err := db.GetEvent(context.Background(), ev.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if string(got.Payload) != string(ev.Payload) {
		t.Errorf("Payload mutated: %s != %s", got.Payload, ev.Payload)
	}
	if got.Headers["content-type"] != "application/json" {
		t.Errorf("Headers lost: %v", got.Headers)
	}
	if got.ProviderEventID != "evt_1" {
		t.Errorf("ProviderEventID = %s", got.ProviderEventID)
	}
	if !got.SignatureValid {
		t.Error("SignatureValid lost")
	}
	if got.Source != models.SourceWebhook {
		t.Errorf("Source = %s", got.Source)
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetEvent(context.Background(), uuid.New().String())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestIntegrationDelete_BlockedWhileReferenced(t *testing.T) {
	db := newTestDB(t)
	in := seedIntegration(t, db)
	seedEvent(t, db, in.ID, "evt_1", time.Now().UTC())

	err := db.DeleteIntegration(context.Background(), in.ID)
	if !errors.Is(err, ErrIntegrationReferenced) {
		t.Errorf("Expected ErrIntegrationReferenced, got %v", err)
	}
}

func TestEnsureEndpoint_Singleton(t *testing.T) {
	db := newTestDB(t)
	in := seedIntegration(t, db)

	first, err := db.EnsureEndpoint(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("ensure endpoint: %v", err)
	}
	if first.CircuitState != models.CircuitClosed {
		t.Errorf("New endpoint state = %s, want closed", first.CircuitState)
	}

	second, err := db.EnsureEndpoint(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("ensure endpoint again: %v", err)
	}
	if second.ID != first.ID {
		t.Error("EnsureEndpoint created a second endpoint for the integration")
	}
}

func TestReplayQueue_PositionOrdering(t *testing.T) {
	db := newTestDB(t)
	in := seedIntegration(t, db)
	ep, err := db.EnsureEndpoint(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("ensure endpoint: %v", err)
	}

	for i := int64(1); i <= 5; i++ {
		ev := seedEvent(t, db, in.ID, "", time.Now().UTC())
		item := &models.ReplayQueueItem{
			ID:         uuid.New().String(),
			EndpointID: ep.ID,
			EventID:    ev.ID,
			Position:   i,
			Status:     models.ReplayPending,
			CreatedAt:  time.Now().UTC(),
		}
		if err := db.InsertReplayItem(context.Background(), item); err != nil {
			t.Fatalf("insert replay item: %v", err)
		}
	}

	batch, err := db.PendingReplayBatch(context.Background(), ep.ID, 3)
	if err != nil {
		t.Fatalf("pending batch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("Batch size = %d, want 3", len(batch))
	}
	for i, item := range batch {
		if item.Position != int64(i+1) {
			t.Errorf("Batch[%d].Position = %d, want %d", i, item.Position, i+1)
		}
	}

	maxPos, err := db.MaxReplayPosition(context.Background(), ep.ID)
	if err != nil {
		t.Fatalf("max position: %v", err)
	}
	if maxPos != 5 {
		t.Errorf("MaxReplayPosition = %d, want 5", maxPos)
	}
}

func TestDeliveredWithProviderEventID(t *testing.T) {
	db := newTestDB(t)
	in := seedIntegration(t, db)
	ep, _ := db.EnsureEndpoint(context.Background(), in.ID)

	ev := seedEvent(t, db, in.ID, "evt_shared", time.Now().UTC())
	delivered, err := db.DeliveredWithProviderEventID(context.Background(), in.ID, "evt_shared")
	if err != nil {
		t.Fatalf("dedup lookup: %v", err)
	}
	if delivered {
		t.Error("No delivery yet, expected false")
	}

	d := &models.Delivery{
		ID:            uuid.New().String(),
		EventID:       ev.ID,
		EndpointID:    ep.ID,
		Status:        models.DeliveryDelivered,
		StatusCode:    200,
		AttemptNumber: 1,
		AttemptedAt:   time.Now().UTC(),
	}
	if err := db.InsertDelivery(context.Background(), d); err != nil {
		t.Fatalf("insert delivery: %v", err)
	}

	delivered, err = db.DeliveredWithProviderEventID(context.Background(), in.ID, "evt_shared")
	if err != nil {
		t.Fatalf("dedup lookup: %v", err)
	}
	if !delivered {
		t.Error("Expected delivered=true after a delivered row")
	}

	// Empty ids never deduplicate.
	delivered, err = db.DeliveredWithProviderEventID(context.Background(), in.ID, "")
	if err != nil {
		t.Fatalf("dedup lookup: %v", err)
	}
	if delivered {
		t.Error("Empty provider event id must not deduplicate")
	}
}

func TestOrphanedEvents(t *testing.T) {
	db := newTestDB(t)
	in := seedIntegration(t, db)
	ep, _ := db.EnsureEndpoint(context.Background(), in.ID)

	old := time.Now().UTC().Add(-5 * time.Minute)

	orphan := seedEvent(t, db, in.ID, "evt_orphan", old)
	deliveredEv := seedEvent(t, db, in.ID, "evt_done", old)
	queuedEv := seedEvent(t, db, in.ID, "evt_queued", old)
	fresh := seedEvent(t, db, in.ID, "evt_fresh", time.Now().UTC())

	_ = fresh

	if err := db.InsertDelivery(context.Background(), &models.Delivery{
		ID: uuid.New().String(), EventID: deliveredEv.ID, EndpointID: ep.ID,
		Status: models.DeliveryDelivered, StatusCode: 200, AttemptNumber: 1,
		AttemptedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert delivery: %v", err)
	}

	if err := db.InsertReplayItem(context.Background(), &models.ReplayQueueItem{
		ID: uuid.New().String(), EndpointID: ep.ID, EventID: queuedEv.ID,
		Position: 1, Status: models.ReplayPending, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert replay item: %v", err)
	}

	cutoff := time.Now().UTC().Add(-time.Minute)
	orphans, err := db.OrphanedEvents(context.Background(), cutoff, 100)
	if err != nil {
		t.Fatalf("orphaned events: %v", err)
	}

	if len(orphans) != 1 {
		t.Fatalf("Orphans = %d, want 1", len(orphans))
	}
	if orphans[0].ID != orphan.ID {
		t.Errorf("Wrong orphan: %s", orphans[0].ID)
	}
}

func TestRecentDeliveries_WindowOrder(t *testing.T) {
	db := newTestDB(t)
	in := seedIntegration(t, db)
	ep, _ := db.EnsureEndpoint(context.Background(), in.ID)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		ev := seedEvent(t, db, in.ID, "", base)
		if err := db.InsertDelivery(context.Background(), &models.Delivery{
			ID: uuid.New().String(), EventID: ev.ID, EndpointID: ep.ID,
			Status: models.DeliveryDelivered, StatusCode: 200, AttemptNumber: 1,
			ResponseTimeMS: 100,
			AttemptedAt:    base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("insert delivery: %v", err)
		}
	}

	window, err := db.RecentDeliveries(context.Background(), ep.ID, 21)
	if err != nil {
		t.Fatalf("recent deliveries: %v", err)
	}
	if len(window) != 21 {
		t.Fatalf("Window = %d, want 21", len(window))
	}
	for i := 1; i < len(window); i++ {
		if window[i].AttemptedAt.After(window[i-1].AttemptedAt) {
			t.Fatal("Window not ordered newest first")
		}
	}
}
