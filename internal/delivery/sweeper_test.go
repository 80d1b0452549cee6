// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/models"
	"github.com/hookwise/hookwise/internal/queue"
)

func TestSweeper_RedrivesOrphans(t *testing.T) {
	env := newPipelineEnv(t, "https://destination.example.com/hooks")
	sweeper := NewSweeper(env.db, env.publisher, config.SweeperConfig{
		Interval: time.Minute,
		MinAge:   time.Minute,
	})

	// An orphan: stored over a minute ago, never delivered, never parked.
	orphan := env.seedEvent(t, `{"id":"evt_orphan"}`, "evt_orphan")
	backdate(t, env, orphan.ID, time.Now().UTC().Add(-5*time.Minute))

	// A fresh event: too young to redrive.
	env.seedEvent(t, `{"id":"evt_fresh"}`, "evt_fresh")

	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	redriven := env.publisher.byTopic(queue.TopicWebhookReceived)
	if len(redriven) != 1 {
		t.Fatalf("Redriven = %d, want 1", len(redriven))
	}
	task := redriven[0].Task.(queue.WebhookReceivedTask)
	if task.EventID != orphan.ID {
		t.Errorf("Redrove %s, want %s", task.EventID, orphan.ID)
	}
	if redriven[0].MsgID != "received:"+orphan.ID {
		t.Errorf("MsgID = %s; redrive must reuse the original id for broker dedup", redriven[0].MsgID)
	}
}

func TestSweeper_LeavesParkedEventsAlone(t *testing.T) {
	env := newPipelineEnv(t, "https://destination.example.com/hooks")
	sweeper := NewSweeper(env.db, env.publisher, config.SweeperConfig{
		Interval: time.Minute,
		MinAge:   time.Minute,
	})

	forceOpen(t, env)
	parked := park(t, env, `{"id":"evt_parked"}`, "", "")
	backdate(t, env, parked.ID, time.Now().UTC().Add(-5*time.Minute))

	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	for _, task := range env.publisher.byTopic(queue.TopicWebhookReceived) {
		if task.Task.(queue.WebhookReceivedTask).EventID == parked.ID {
			t.Error("Sweeper redrove a replay-parked event")
		}
	}

	items, _ := env.db.PendingReplayBatch(context.Background(), env.endpoint.ID, 10)
	if len(items) != 1 || items[0].Status != models.ReplayPending {
		t.Errorf("Parked item disturbed: %+v", items)
	}
}

// backdate rewrites an event's received_at; the sweeper only looks at age.
func backdate(t *testing.T, env *pipelineEnv, eventID string, to time.Time) {
	t.Helper()
	if _, err := env.db.Conn().ExecContext(context.Background(),
		`UPDATE events SET received_at = ? WHERE id = ?`, to, eventID); err != nil {
		t.Fatalf("backdate: %v", err)
	}
}
