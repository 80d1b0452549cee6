// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/hookwise/hookwise/internal/models"
)

// OrphanedEvents returns events older than cutoff that have neither a
// delivery attempt nor a replay queue slot. These are the holes left when
// ingestion persisted the event but the task enqueue failed; the sweeper
// re-emits them.
//
// Events with a replay item are excluded: they were deliberately parked by
// the breaker and the replay engine owns them.
func (db *DB) OrphanedEvents(ctx context.Context, cutoff time.Time, limit int) ([]*models.Event, error) {
	stmt, err := db.prepared(ctx, selectEvent+` WHERE received_at < ?
		AND id NOT IN (SELECT event_id FROM deliveries)
		AND id NOT IN (SELECT event_id FROM replay_queue)
		ORDER BY received_at ASC LIMIT ?`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("orphaned events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
