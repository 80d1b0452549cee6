// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hookwise/hookwise/internal/models"
)

// MaxReplayPosition returns the highest allocated position for an endpoint,
// or 0 when the queue is empty. Callers must hold the endpoint lock when
// allocating the next position from this value.
func (db *DB) MaxReplayPosition(ctx context.Context, endpointID string) (int64, error) {
	stmt, err := db.prepared(ctx, `SELECT COALESCE(MAX(position), 0) FROM replay_queue WHERE endpoint_id = ?`)
	if err != nil {
		return 0, err
	}

	var position int64
	if err := stmt.QueryRowContext(ctx, endpointID).Scan(&position); err != nil {
		return 0, fmt.Errorf("max replay position: %w", err)
	}
	return position, nil
}

// InsertReplayItem persists a queue item at an already-allocated position.
func (db *DB) InsertReplayItem(ctx context.Context, item *models.ReplayQueueItem) error {
	stmt, err := db.prepared(ctx, `INSERT INTO replay_queue
		(id, endpoint_id, event_id, position, correlation_key, status, attempts, created_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx,
		item.ID, item.EndpointID, item.EventID, item.Position,
		nullString(item.CorrelationKey), string(item.Status), item.Attempts,
		item.CreatedAt.UTC(), nullTime(item.DeliveredAt))
	if err != nil {
		return fmt.Errorf("insert replay item: %w", err)
	}
	return nil
}

// PendingReplayBatch returns up to limit pending items for an endpoint in
// ascending position order.
func (db *DB) PendingReplayBatch(ctx context.Context, endpointID string, limit int) ([]*models.ReplayQueueItem, error) {
	stmt, err := db.prepared(ctx, selectReplayItem+` WHERE endpoint_id = ? AND status = 'pending'
		ORDER BY position ASC LIMIT ?`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("pending replay batch: %w", err)
	}
	defer rows.Close()

	var out []*models.ReplayQueueItem
	for rows.Next() {
		item, err := scanReplayItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListReplayItems returns all queue items for an endpoint in position order.
func (db *DB) ListReplayItems(ctx context.Context, endpointID string, limit, offset int) ([]*models.ReplayQueueItem, error) {
	stmt, err := db.prepared(ctx, selectReplayItem+` WHERE endpoint_id = ?
		ORDER BY position ASC LIMIT ? OFFSET ?`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, endpointID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list replay items: %w", err)
	}
	defer rows.Close()

	var out []*models.ReplayQueueItem
	for rows.Next() {
		item, err := scanReplayItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// HasReplayItem reports whether an event already occupies a replay slot.
// The orphan sweeper excludes such events; the replay engine owns them.
func (db *DB) HasReplayItem(ctx context.Context, eventID string) (bool, error) {
	stmt, err := db.prepared(ctx, `SELECT COUNT(*) FROM replay_queue WHERE event_id = ?`)
	if err != nil {
		return false, err
	}

	var count int
	if err := stmt.QueryRowContext(ctx, eventID).Scan(&count); err != nil {
		return false, fmt.Errorf("count replay items: %w", err)
	}
	return count > 0, nil
}

// ResetDeliveringReplayItems returns items stuck in delivering back to
// pending. A drain interrupted by a crash leaves its in-flight item in
// delivering; the next drain calls this first so the item is retried (its
// attempts counter, already incremented, still feeds the skip budget).
func (db *DB) ResetDeliveringReplayItems(ctx context.Context, endpointID string) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE replay_queue SET status = 'pending' WHERE endpoint_id = ? AND status = 'delivering'`,
		endpointID)
	if err != nil {
		return 0, fmt.Errorf("reset delivering items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateReplayItem writes back an item's status, attempts, and delivery
// timestamp.
func (db *DB) UpdateReplayItem(ctx context.Context, item *models.ReplayQueueItem) error {
	stmt, err := db.prepared(ctx, `UPDATE replay_queue SET
		status = ?, attempts = ?, delivered_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}

	res, err := stmt.ExecContext(ctx,
		string(item.Status), item.Attempts, nullTime(item.DeliveredAt), item.ID)
	if err != nil {
		return fmt.Errorf("update replay item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReplayDelivered transitions an item to delivered with the given
// timestamp.
func (db *DB) MarkReplayDelivered(ctx context.Context, item *models.ReplayQueueItem, at time.Time) error {
	item.Status = models.ReplayDelivered
	t := at.UTC()
	item.DeliveredAt = &t
	return db.UpdateReplayItem(ctx, item)
}

// CountPendingReplay returns how many items remain pending for an endpoint.
func (db *DB) CountPendingReplay(ctx context.Context, endpointID string) (int, error) {
	stmt, err := db.prepared(ctx, `SELECT COUNT(*) FROM replay_queue WHERE endpoint_id = ? AND status = 'pending'`)
	if err != nil {
		return 0, err
	}

	var count int
	if err := stmt.QueryRowContext(ctx, endpointID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending replay: %w", err)
	}
	return count, nil
}

const selectReplayItem = `SELECT id, endpoint_id, event_id, position,
	COALESCE(correlation_key, ''), status, attempts, created_at, delivered_at
	FROM replay_queue`

// scanReplayItem maps one row onto a model.
func scanReplayItem(row rowScanner) (*models.ReplayQueueItem, error) {
	item := &models.ReplayQueueItem{}
	var status string
	var deliveredAt sql.NullTime
	err := row.Scan(&item.ID, &item.EndpointID, &item.EventID, &item.Position,
		&item.CorrelationKey, &status, &item.Attempts, &item.CreatedAt, &deliveredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan replay item: %w", err)
	}
	item.Status = models.ReplayStatus(status)
	if deliveredAt.Valid {
		t := deliveredAt.Time
		item.DeliveredAt = &t
	}
	return item, nil
}
