// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package reconcile

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/models"
	"github.com/hookwise/hookwise/internal/queue"
)

// fakePublisher captures tasks instead of touching a broker.
type fakePublisher struct {
	mu    sync.Mutex
	tasks []struct {
		Topic string
		MsgID string
		Task  interface{}
	}
}

func (f *fakePublisher) PublishTask(_ context.Context, topic, msgID string, task interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, struct {
		Topic string
		MsgID string
		Task  interface{}
	}{topic, msgID, task})
	return nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "reconcile.duckdb"),
		MaxMemory: "512MB",
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// seedStripeIntegration stores an integration with an encrypted credential.
func seedStripeIntegration(t *testing.T, db *database.DB, enc *config.CredentialEncryptor, apiKey string) *models.Integration {
	t.Helper()

	encrypted, err := enc.Encrypt(apiKey)
	if err != nil {
		t.Fatalf("encrypt credential: %v", err)
	}

	now := time.Now().UTC()
	in := &models.Integration{
		ID:                  uuid.New().String(),
		OwnerID:             "owner-1",
		Provider:            models.ProviderStripe,
		SigningSecret:       "whsec_test",
		DestinationURL:      "https://destination.example.com/hooks",
		Status:              models.IntegrationActive,
		ForwardInvalid:      true,
		ReconcileCredential: encrypted,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := db.InsertIntegration(context.Background(), in); err != nil {
		t.Fatalf("insert integration: %v", err)
	}
	return in
}

func TestReconciler_FillsGaps(t *testing.T) {
	// Fake Stripe API: two pages of events, evt_1 and evt_2 then evt_3.
	var authSeen string
	stripe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authSeen = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Query().Get("starting_after") == "evt_2" {
			fmt.Fprint(w, `{"data":[{"id":"evt_3","type":"invoice.paid","created":1700000300,"data":{"object":{"id":"in_3"}}}],"has_more":false}`)
			return
		}
		fmt.Fprint(w, `{"data":[
			{"id":"evt_1","type":"invoice.paid","created":1700000100,"data":{"object":{"id":"in_1"}}},
			{"id":"evt_2","type":"invoice.paid","created":1700000200,"data":{"object":{"id":"in_2"}}}
		],"has_more":true}`)
	}))
	defer stripe.Close()

	db := newTestDB(t)
	enc, _ := config.NewCredentialEncryptor("a-sufficiently-long-master-secret")
	pub := &fakePublisher{}

	in := seedStripeIntegration(t, db, enc, "sk_test_123")

	// evt_2 already arrived via webhook; evt_1 and evt_3 are gaps.
	known := models.NewEvent(in.ID, models.SourceWebhook)
	known.ProviderEventID = "evt_2"
	known.SignatureValid = true
	known.Headers = map[string]string{}
	known.Payload = []byte(`{"id":"evt_2"}`)
	if err := db.InsertEvent(context.Background(), known); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	rec := NewReconciler(db, pub, enc, config.ReconcileConfig{
		Enabled:       true,
		Interval:      time.Minute,
		Lookback:      24 * time.Hour,
		StripeAPIBase: stripe.URL,
		PageSize:      2,
		Timeout:       5 * time.Second,
	})

	if err := rec.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if authSeen != "Bearer sk_test_123" {
		t.Errorf("Authorization = %q; decrypted credential not used", authSeen)
	}

	runs, err := db.ListReconciliationRuns(context.Background(), in.ID, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Runs = %d, want 1", len(runs))
	}
	run := runs[0]
	if run.ProviderEventsFound != 3 {
		t.Errorf("ProviderEventsFound = %d, want 3", run.ProviderEventsFound)
	}
	if run.LocalEventsFound != 1 {
		t.Errorf("LocalEventsFound = %d, want 1", run.LocalEventsFound)
	}
	if run.GapsDetected != 2 || run.GapsResolved != 2 {
		t.Errorf("Gaps = %d/%d, want 2/2", run.GapsDetected, run.GapsResolved)
	}

	// Synthesised events exist with reconciliation source and valid flag.
	ids, err := db.LocalProviderEventIDs(context.Background(), in.ID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("local ids: %v", err)
	}
	for _, want := range []string{"evt_1", "evt_2", "evt_3"} {
		if _, ok := ids[want]; !ok {
			t.Errorf("Missing provider event id %s after reconciliation", want)
		}
	}

	events, _ := db.ListEventsByIntegration(context.Background(), in.ID, 100, 0)
	synthesised := 0
	for _, ev := range events {
		if ev.Source == models.SourceReconciliation {
			synthesised++
			if !ev.SignatureValid {
				t.Error("Synthesised event must carry signature_valid=true")
			}
			if len(ev.Headers) != 0 {
				t.Error("Synthesised event must carry empty headers")
			}
		}
	}
	if synthesised != 2 {
		t.Errorf("Synthesised events = %d, want 2", synthesised)
	}

	// Each gap emitted one delivery task.
	pub.mu.Lock()
	defer pub.mu.Unlock()
	received := 0
	for _, task := range pub.tasks {
		if task.Topic == queue.TopicWebhookReceived {
			received++
		}
	}
	if received != 2 {
		t.Errorf("webhook.received emissions = %d, want 2", received)
	}
}

func TestReconciler_RunRowWrittenWithoutGaps(t *testing.T) {
	stripe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[],"has_more":false}`)
	}))
	defer stripe.Close()

	db := newTestDB(t)
	enc, _ := config.NewCredentialEncryptor("a-sufficiently-long-master-secret")
	in := seedStripeIntegration(t, db, enc, "sk_test_123")

	rec := NewReconciler(db, &fakePublisher{}, enc, config.ReconcileConfig{
		Enabled:       true,
		Interval:      time.Minute,
		Lookback:      time.Hour,
		StripeAPIBase: stripe.URL,
		PageSize:      100,
		Timeout:       5 * time.Second,
	})

	if err := rec.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	runs, _ := db.ListReconciliationRuns(context.Background(), in.ID, 10)
	if len(runs) != 1 {
		t.Fatalf("Runs = %d, want 1 even without gaps", len(runs))
	}
	if runs[0].GapsDetected != 0 || runs[0].GapsResolved != 0 {
		t.Errorf("Gaps = %+v, want zero", runs[0])
	}
}

func TestReconciler_SkipsIntegrationsWithoutCredential(t *testing.T) {
	db := newTestDB(t)
	enc, _ := config.NewCredentialEncryptor("a-sufficiently-long-master-secret")

	now := time.Now().UTC()
	in := &models.Integration{
		ID: uuid.New().String(), OwnerID: "owner-1",
		Provider: models.ProviderStripe, SigningSecret: "whsec_test",
		DestinationURL: "https://destination.example.com/hooks",
		Status:         models.IntegrationActive,
		CreatedAt:      now, UpdatedAt: now,
	}
	if err := db.InsertIntegration(context.Background(), in); err != nil {
		t.Fatalf("insert integration: %v", err)
	}

	rec := NewReconciler(db, &fakePublisher{}, enc, config.ReconcileConfig{
		Enabled:  true,
		Interval: time.Minute,
		Lookback: time.Hour,
		Timeout:  time.Second,
	})

	if err := rec.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	runs, _ := db.ListReconciliationRuns(context.Background(), in.ID, 10)
	if len(runs) != 0 {
		t.Errorf("Credential-less integration reconciled: %d runs", len(runs))
	}
}

func TestParseLinkNext(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{`<https://shop.example.com/admin/api/orders.json?page_info=abc>; rel="next"`, "https://shop.example.com/admin/api/orders.json?page_info=abc"},
		{`<https://a>; rel="previous", <https://b>; rel="next"`, "https://b"},
		{`<https://a>; rel="previous"`, ""},
		{``, ""},
	}

	for _, tt := range tests {
		if got := parseLinkNext(tt.header); got != tt.want {
			t.Errorf("parseLinkNext(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
