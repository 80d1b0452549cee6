// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package breaker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/models"
)

// testEnv is one breaker over a throwaway store with a seeded endpoint.
type testEnv struct {
	db       *database.DB
	breaker  *Breaker
	endpoint *models.Endpoint
	integ    *models.Integration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "breaker.duckdb"),
		MaxMemory: "512MB",
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	now := time.Now().UTC()
	integ := &models.Integration{
		ID:             uuid.New().String(),
		OwnerID:        "owner-1",
		Provider:       models.ProviderStripe,
		SigningSecret:  "whsec_test",
		DestinationURL: "https://destination.example.com/hooks",
		Status:         models.IntegrationActive,
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

	return &testEnv{db: db, breaker: New(db), endpoint: ep, integ: integ}
}

// recordAttempt persists a delivery row then feeds the outcome to the
// breaker, mirroring the worker's sequence.
func (e *testEnv) recordAttempt(t *testing.T, success bool, rttMS int, forceOpen bool) (prev, next models.CircuitState) {
	t.Helper()

	ev := &models.Event{
		ID:            uuid.New().String(),
		IntegrationID: e.integ.ID,
		Payload:       json.RawMessage(`{}`),
		Headers:       map[string]string{},
		Source:        models.SourceWebhook,
		ReceivedAt:    time.Now().UTC(),
	}
	if err := e.db.InsertEvent(context.Background(), ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	status := models.DeliveryDelivered
	code := 200
	if !success {
		status = models.DeliveryFailed
		code = 503
	}
	if err := e.db.InsertDelivery(context.Background(), &models.Delivery{
		ID: uuid.New().String(), EventID: ev.ID, EndpointID: e.endpoint.ID,
		Status: status, StatusCode: code, ResponseTimeMS: rttMS,
		AttemptNumber: 1, AttemptedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert delivery: %v", err)
	}

	prev, next, err := e.breaker.RecordDelivery(context.Background(), e.endpoint.ID, Outcome{
		Success:        success,
		ResponseTimeMS: rttMS,
		ForceOpen:      forceOpen,
	})
	if err != nil {
		t.Fatalf("record delivery: %v", err)
	}
	return prev, next
}

func (e *testEnv) state(t *testing.T) *models.Endpoint {
	t.Helper()
	ep, err := e.db.GetEndpoint(context.Background(), e.endpoint.ID)
	if err != nil {
		t.Fatalf("get endpoint: %v", err)
	}
	return ep
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	env := newTestEnv(t)

	for i := 1; i <= 4; i++ {
		_, next := env.recordAttempt(t, false, 100, false)
		if next != models.CircuitClosed {
			t.Fatalf("After %d failures state = %s, want closed", i, next)
		}
	}

	prev, next := env.recordAttempt(t, false, 100, false)
	if prev != models.CircuitClosed || next != models.CircuitOpen {
		t.Fatalf("5th failure: %s -> %s, want closed -> open", prev, next)
	}

	ep := env.state(t)
	if ep.ConsecutiveSuccesses != 0 || ep.ConsecutiveHealthCheckSuccess != 0 {
		t.Error("Open transition must reset success and health-check counters")
	}
	if ep.StateChangedAt.IsZero() {
		t.Error("StateChangedAt not updated")
	}
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 4; i++ {
		env.recordAttempt(t, false, 100, false)
	}
	env.recordAttempt(t, true, 100, false)

	// Four more failures: the streak restarted, so still closed.
	for i := 0; i < 4; i++ {
		_, next := env.recordAttempt(t, false, 100, false)
		if next == models.CircuitOpen {
			ep := env.state(t)
			// The success-rate rule may legitimately trip once the window
			// fills with failures; only the streak rule is under test here.
			if ep.ConsecutiveFailures < OpenFailureThreshold && ep.SuccessRate >= OpenSuccessRate {
				t.Fatalf("Opened without meeting either threshold: failures=%d rate=%.1f", ep.ConsecutiveFailures, ep.SuccessRate)
			}
			return
		}
	}
}

func TestBreaker_ForceOpen(t *testing.T) {
	env := newTestEnv(t)

	prev, next := env.recordAttempt(t, false, 100, true)
	if prev != models.CircuitClosed || next != models.CircuitOpen {
		t.Fatalf("Force open: %s -> %s, want closed -> open", prev, next)
	}
}

func TestBreaker_HealthCheckRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.recordAttempt(t, false, 100, true) // open the circuit

	// Health checks are ignored outside OPEN; these drive recovery.
	for i := 1; i <= 2; i++ {
		_, next, err := env.breaker.RecordHealthCheck(context.Background(), env.endpoint.ID, true)
		if err != nil {
			t.Fatalf("record health check: %v", err)
		}
		if next != models.CircuitOpen {
			t.Fatalf("After %d probes state = %s, want open", i, next)
		}
	}

	prev, next, err := env.breaker.RecordHealthCheck(context.Background(), env.endpoint.ID, true)
	if err != nil {
		t.Fatalf("record health check: %v", err)
	}
	if prev != models.CircuitOpen || next != models.CircuitHalfOpen {
		t.Fatalf("3rd probe: %s -> %s, want open -> half_open", prev, next)
	}

	ep := env.state(t)
	if ep.ConsecutiveFailures != 0 || ep.ConsecutiveSuccesses != 0 {
		t.Error("Half-open transition must reset failure/success counters")
	}
}

func TestBreaker_HealthCheckFailureResetsStreak(t *testing.T) {
	env := newTestEnv(t)
	env.recordAttempt(t, false, 100, true)

	env.breaker.RecordHealthCheck(context.Background(), env.endpoint.ID, true)
	env.breaker.RecordHealthCheck(context.Background(), env.endpoint.ID, true)
	env.breaker.RecordHealthCheck(context.Background(), env.endpoint.ID, false)

	ep := env.state(t)
	if ep.ConsecutiveHealthCheckSuccess != 0 {
		t.Errorf("Probe failure must reset the streak, got %d", ep.ConsecutiveHealthCheckSuccess)
	}
	if ep.CircuitState != models.CircuitOpen {
		t.Errorf("State = %s, want open", ep.CircuitState)
	}
}

func TestBreaker_HealthCheckIgnoredWhenClosed(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 5; i++ {
		prev, next, err := env.breaker.RecordHealthCheck(context.Background(), env.endpoint.ID, true)
		if err != nil {
			t.Fatalf("record health check: %v", err)
		}
		if prev != models.CircuitClosed || next != models.CircuitClosed {
			t.Fatalf("Closed endpoint moved on health check: %s -> %s", prev, next)
		}
	}

	ep := env.state(t)
	if ep.ConsecutiveHealthCheckSuccess != 0 {
		t.Error("Health checks must not accumulate outside OPEN")
	}
}

func TestBreaker_HalfOpenToClosed(t *testing.T) {
	env := newTestEnv(t)
	env.recordAttempt(t, false, 100, true)
	for i := 0; i < 3; i++ {
		env.breaker.RecordHealthCheck(context.Background(), env.endpoint.ID, true)
	}
	if env.state(t).CircuitState != models.CircuitHalfOpen {
		t.Fatal("Setup failed to reach half_open")
	}

	var next models.CircuitState
	for i := 1; i <= 10; i++ {
		_, next = env.recordAttempt(t, true, 100, false)
		if i < 10 && next != models.CircuitHalfOpen {
			t.Fatalf("After %d successes state = %s, want half_open", i, next)
		}
	}
	if next != models.CircuitClosed {
		t.Fatalf("After 10 successes state = %s, want closed", next)
	}
}

func TestBreaker_HalfOpenReopens(t *testing.T) {
	env := newTestEnv(t)
	env.recordAttempt(t, false, 100, true)
	for i := 0; i < 3; i++ {
		env.breaker.RecordHealthCheck(context.Background(), env.endpoint.ID, true)
	}

	env.recordAttempt(t, false, 100, false)
	prev, next := env.recordAttempt(t, false, 100, false)
	if prev != models.CircuitHalfOpen || next != models.CircuitOpen {
		t.Fatalf("2nd probation failure: %s -> %s, want half_open -> open", prev, next)
	}
}

func TestBreaker_ReplayPositions(t *testing.T) {
	env := newTestEnv(t)

	for want := int64(1); want <= 3; want++ {
		ev := &models.Event{
			ID:            uuid.New().String(),
			IntegrationID: env.integ.ID,
			Payload:       json.RawMessage(`{}`),
			Headers:       map[string]string{},
			Source:        models.SourceWebhook,
			ReceivedAt:    time.Now().UTC(),
		}
		if err := env.db.InsertEvent(context.Background(), ev); err != nil {
			t.Fatalf("insert event: %v", err)
		}

		pos, err := env.breaker.EnqueueForReplay(context.Background(), env.endpoint.ID, ev.ID, "key-1")
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if pos != want {
			t.Errorf("Position = %d, want %d", pos, want)
		}
	}

	next, err := env.breaker.NextReplayPosition(context.Background(), env.endpoint.ID)
	if err != nil {
		t.Fatalf("next position: %v", err)
	}
	if next != 4 {
		t.Errorf("NextReplayPosition = %d, want 4", next)
	}
}

func TestWindowStats(t *testing.T) {
	tests := []struct {
		name     string
		window   []*models.Delivery
		wantRate float64
		wantRTT  float64
	}{
		{
			name:     "empty window reads healthy",
			window:   nil,
			wantRate: 100.0,
			wantRTT:  0.0,
		},
		{
			name: "half successes",
			window: []*models.Delivery{
				{Status: models.DeliveryDelivered, ResponseTimeMS: 100},
				{Status: models.DeliveryFailed, ResponseTimeMS: 300},
			},
			wantRate: 50.0,
			wantRTT:  200.0,
		},
		{
			name: "zero rtt rows excluded from average",
			window: []*models.Delivery{
				{Status: models.DeliveryDelivered, ResponseTimeMS: 100},
				{Status: models.DeliveryFailed},
			},
			wantRate: 50.0,
			wantRTT:  100.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, rtt := windowStats(tt.window)
			if rate != tt.wantRate {
				t.Errorf("successRate = %.1f, want %.1f", rate, tt.wantRate)
			}
			if rtt != tt.wantRTT {
				t.Errorf("avgResponseMS = %.1f, want %.1f", rtt, tt.wantRTT)
			}
		})
	}
}
