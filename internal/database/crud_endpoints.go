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

	"github.com/google/uuid"

	"github.com/hookwise/hookwise/internal/models"
)

// EnsureEndpoint returns the endpoint for an integration, creating it in
// CLOSED state on first use. Creation races are resolved by the unique
// integration_id constraint plus a re-read.
func (db *DB) EnsureEndpoint(ctx context.Context, integrationID string) (*models.Endpoint, error) {
	ep, err := db.GetEndpointByIntegration(ctx, integrationID)
	if err == nil {
		return ep, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	ep = &models.Endpoint{
		ID:             uuid.New().String(),
		IntegrationID:  integrationID,
		CircuitState:   models.CircuitClosed,
		SuccessRate:    100.0,
		StateChangedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = db.conn.ExecContext(ctx, `INSERT INTO endpoints
		(id, integration_id, circuit_state, success_rate, avg_response_time,
		 consecutive_failures, consecutive_successes, consecutive_health_check_successes,
		 state_changed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?, ?, ?)`,
		ep.ID, ep.IntegrationID, string(ep.CircuitState), ep.SuccessRate,
		ep.AvgResponseTime, now, now, now)
	if err != nil {
		// Lost a creation race; the surviving row wins.
		if existing, gerr := db.GetEndpointByIntegration(ctx, integrationID); gerr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("insert endpoint: %w", err)
	}

	return ep, nil
}

// GetEndpoint loads one endpoint by id.
func (db *DB) GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	stmt, err := db.prepared(ctx, selectEndpoint+` WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	return scanEndpoint(stmt.QueryRowContext(ctx, id))
}

// GetEndpointByIntegration loads the endpoint owned by an integration.
func (db *DB) GetEndpointByIntegration(ctx context.Context, integrationID string) (*models.Endpoint, error) {
	stmt, err := db.prepared(ctx, selectEndpoint+` WHERE integration_id = ?`)
	if err != nil {
		return nil, err
	}
	return scanEndpoint(stmt.QueryRowContext(ctx, integrationID))
}

// EndpointsByState lists endpoints in the given circuit state. The prober
// uses this to enumerate OPEN endpoints each sweep.
func (db *DB) EndpointsByState(ctx context.Context, state models.CircuitState) ([]*models.Endpoint, error) {
	stmt, err := db.prepared(ctx, selectEndpoint+` WHERE circuit_state = ? ORDER BY state_changed_at`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, string(state))
	if err != nil {
		return nil, fmt.Errorf("list endpoints by state: %w", err)
	}
	defer rows.Close()

	var out []*models.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// UpdateEndpointState writes back the full mutable endpoint state. Callers
// must hold the endpoint lock for the read-modify-write to be atomic.
func (db *DB) UpdateEndpointState(ctx context.Context, ep *models.Endpoint) error {
	stmt, err := db.prepared(ctx, `UPDATE endpoints SET
		circuit_state = ?, success_rate = ?, avg_response_time = ?,
		consecutive_failures = ?, consecutive_successes = ?,
		consecutive_health_check_successes = ?, last_health_check_at = ?,
		state_changed_at = ?, updated_at = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := stmt.ExecContext(ctx,
		string(ep.CircuitState), ep.SuccessRate, ep.AvgResponseTime,
		ep.ConsecutiveFailures, ep.ConsecutiveSuccesses, ep.ConsecutiveHealthCheckSuccess,
		nullTime(ep.LastHealthCheckAt), ep.StateChangedAt.UTC(), now, ep.ID)
	if err != nil {
		return fmt.Errorf("update endpoint state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	ep.UpdatedAt = now
	return nil
}

const selectEndpoint = `SELECT id, integration_id, circuit_state, success_rate,
	avg_response_time, consecutive_failures, consecutive_successes,
	consecutive_health_check_successes, last_health_check_at,
	state_changed_at, created_at, updated_at
	FROM endpoints`

// scanEndpoint maps one row onto a model.
func scanEndpoint(row rowScanner) (*models.Endpoint, error) {
	ep := &models.Endpoint{}
	var state string
	var lastProbe sql.NullTime
	err := row.Scan(&ep.ID, &ep.IntegrationID, &state, &ep.SuccessRate,
		&ep.AvgResponseTime, &ep.ConsecutiveFailures, &ep.ConsecutiveSuccesses,
		&ep.ConsecutiveHealthCheckSuccess, &lastProbe,
		&ep.StateChangedAt, &ep.CreatedAt, &ep.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan endpoint: %w", err)
	}
	ep.CircuitState = models.CircuitState(state)
	if lastProbe.Valid {
		t := lastProbe.Time
		ep.LastHealthCheckAt = &t
	}
	return ep, nil
}
