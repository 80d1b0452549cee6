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

	"github.com/hookwise/hookwise/internal/models"
)

// InsertDelivery appends one delivery attempt row.
func (db *DB) InsertDelivery(ctx context.Context, d *models.Delivery) error {
	stmt, err := db.prepared(ctx, `INSERT INTO deliveries
		(id, event_id, endpoint_id, status, status_code, response_time_ms,
		 response_body, error_type, attempt_number, attempted_at, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	var statusCode, responseTime interface{}
	if d.StatusCode != 0 {
		statusCode = d.StatusCode
	}
	if d.ResponseTimeMS != 0 {
		responseTime = d.ResponseTimeMS
	}

	_, err = stmt.ExecContext(ctx,
		d.ID, d.EventID, nullString(d.EndpointID), string(d.Status),
		statusCode, responseTime, nullString(d.ResponseBody),
		nullString(string(d.ErrorType)), d.AttemptNumber, d.AttemptedAt.UTC(),
		nullTime(d.NextRetryAt))
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// RecentDeliveries returns the newest deliveries for an endpoint, newest
// first, capped at limit. The breaker reads its sliding window through this.
func (db *DB) RecentDeliveries(ctx context.Context, endpointID string, limit int) ([]*models.Delivery, error) {
	stmt, err := db.prepared(ctx, selectDelivery+` WHERE endpoint_id = ?
		ORDER BY attempted_at DESC, attempt_number DESC LIMIT ?`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent deliveries: %w", err)
	}
	defer rows.Close()

	var out []*models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListDeliveriesByEvent returns all attempts for an event ordered by attempt
// number.
func (db *DB) ListDeliveriesByEvent(ctx context.Context, eventID string) ([]*models.Delivery, error) {
	stmt, err := db.prepared(ctx, selectDelivery+` WHERE event_id = ? ORDER BY attempt_number`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []*models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// HasDelivery reports whether any delivery row exists for an event.
func (db *DB) HasDelivery(ctx context.Context, eventID string) (bool, error) {
	stmt, err := db.prepared(ctx, `SELECT COUNT(*) FROM deliveries WHERE event_id = ?`)
	if err != nil {
		return false, err
	}

	var count int
	if err := stmt.QueryRowContext(ctx, eventID).Scan(&count); err != nil {
		return false, fmt.Errorf("count deliveries: %w", err)
	}
	return count > 0, nil
}

const selectDelivery = `SELECT id, event_id, COALESCE(endpoint_id, ''), status,
	status_code, response_time_ms, COALESCE(response_body, ''),
	COALESCE(error_type, ''), attempt_number, attempted_at, next_retry_at
	FROM deliveries`

// scanDelivery maps one row onto a model.
func scanDelivery(row rowScanner) (*models.Delivery, error) {
	d := &models.Delivery{}
	var status, errorType string
	var statusCode, responseTime sql.NullInt64
	var nextRetry sql.NullTime
	err := row.Scan(&d.ID, &d.EventID, &d.EndpointID, &status, &statusCode,
		&responseTime, &d.ResponseBody, &errorType, &d.AttemptNumber,
		&d.AttemptedAt, &nextRetry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	d.Status = models.DeliveryStatus(status)
	d.ErrorType = models.ErrorType(errorType)
	if statusCode.Valid {
		d.StatusCode = int(statusCode.Int64)
	}
	if responseTime.Valid {
		d.ResponseTimeMS = int(responseTime.Int64)
	}
	if nextRetry.Valid {
		t := nextRetry.Time
		d.NextRetryAt = &t
	}
	return d, nil
}
