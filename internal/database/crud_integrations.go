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

// Store-level sentinel errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrIntegrationReferenced is returned when deleting an integration that
	// events still reference.
	ErrIntegrationReferenced = errors.New("integration has events and cannot be deleted")
)

// InsertIntegration persists a new integration.
func (db *DB) InsertIntegration(ctx context.Context, in *models.Integration) error {
	stmt, err := db.prepared(ctx, `INSERT INTO integrations
		(id, owner_id, provider, name, signing_secret, destination_url, status, forward_invalid, reconcile_credential, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx,
		in.ID, in.OwnerID, string(in.Provider), nullString(in.Name), in.SigningSecret,
		in.DestinationURL, string(in.Status), in.ForwardInvalid,
		nullString(in.ReconcileCredential), in.CreatedAt.UTC(), in.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert integration: %w", err)
	}
	return nil
}

// GetIntegration loads one integration by id.
func (db *DB) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	stmt, err := db.prepared(ctx, `SELECT id, owner_id, provider, COALESCE(name, ''),
		signing_secret, destination_url, status, forward_invalid,
		COALESCE(reconcile_credential, ''), created_at, updated_at
		FROM integrations WHERE id = ?`)
	if err != nil {
		return nil, err
	}

	return scanIntegration(stmt.QueryRowContext(ctx, id))
}

// ListIntegrations returns integrations ordered by creation time.
func (db *DB) ListIntegrations(ctx context.Context, limit, offset int) ([]*models.Integration, error) {
	stmt, err := db.prepared(ctx, `SELECT id, owner_id, provider, COALESCE(name, ''),
		signing_secret, destination_url, status, forward_invalid,
		COALESCE(reconcile_credential, ''), created_at, updated_at
		FROM integrations ORDER BY created_at DESC LIMIT ? OFFSET ?`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var out []*models.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// ActiveIntegrationsWithCredential returns active integrations whose
// reconciliation credential is set. The reconciler iterates these each cycle.
func (db *DB) ActiveIntegrationsWithCredential(ctx context.Context) ([]*models.Integration, error) {
	stmt, err := db.prepared(ctx, `SELECT id, owner_id, provider, COALESCE(name, ''),
		signing_secret, destination_url, status, forward_invalid,
		COALESCE(reconcile_credential, ''), created_at, updated_at
		FROM integrations
		WHERE status = 'active' AND reconcile_credential IS NOT NULL AND reconcile_credential != ''
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reconcilable integrations: %w", err)
	}
	defer rows.Close()

	var out []*models.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// UpdateIntegration persists mutable integration fields.
func (db *DB) UpdateIntegration(ctx context.Context, in *models.Integration) error {
	stmt, err := db.prepared(ctx, `UPDATE integrations SET
		name = ?, signing_secret = ?, destination_url = ?, status = ?,
		forward_invalid = ?, reconcile_credential = ?, updated_at = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}

	res, err := stmt.ExecContext(ctx,
		nullString(in.Name), in.SigningSecret, in.DestinationURL, string(in.Status),
		in.ForwardInvalid, nullString(in.ReconcileCredential), time.Now().UTC(), in.ID)
	if err != nil {
		return fmt.Errorf("update integration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteIntegration removes an integration. Integrations that events still
// reference cannot be deleted.
func (db *DB) DeleteIntegration(ctx context.Context, id string) error {
	var count int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE integration_id = ?`, id).Scan(&count); err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	if count > 0 {
		return ErrIntegrationReferenced
	}

	res, err := db.conn.ExecContext(ctx, `DELETE FROM integrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	_, err = db.conn.ExecContext(ctx, `DELETE FROM endpoints WHERE integration_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanIntegration maps one row onto a model.
func scanIntegration(row rowScanner) (*models.Integration, error) {
	in := &models.Integration{}
	var provider, status string
	err := row.Scan(&in.ID, &in.OwnerID, &provider, &in.Name, &in.SigningSecret,
		&in.DestinationURL, &status, &in.ForwardInvalid, &in.ReconcileCredential,
		&in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan integration: %w", err)
	}
	in.Provider = models.Provider(provider)
	in.Status = models.IntegrationStatus(status)
	return in, nil
}
