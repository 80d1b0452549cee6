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

	"github.com/goccy/go-json"

	"github.com/hookwise/hookwise/internal/models"
)

// InsertEvent appends an immutable event row. The payload is stored exactly
// as received; headers are serialized as a JSON object with lower-cased keys.
func (db *DB) InsertEvent(ctx context.Context, ev *models.Event) error {
	headers, err := json.Marshal(ev.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	stmt, err := db.prepared(ctx, `INSERT INTO events
		(id, integration_id, event_type, payload, headers, signature_valid, provider_event_id, source, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx,
		ev.ID, ev.IntegrationID, nullString(ev.EventType), string(ev.Payload),
		string(headers), ev.SignatureValid, nullString(ev.ProviderEventID),
		string(ev.Source), ev.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent loads one event by id.
func (db *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	stmt, err := db.prepared(ctx, selectEvent+` WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	return scanEvent(stmt.QueryRowContext(ctx, id))
}

// ListEventsByIntegration returns events newest first.
func (db *DB) ListEventsByIntegration(ctx context.Context, integrationID string, limit, offset int) ([]*models.Event, error) {
	stmt, err := db.prepared(ctx, selectEvent+` WHERE integration_id = ?
		ORDER BY received_at DESC LIMIT ? OFFSET ?`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, integrationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
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

// LocalProviderEventIDs returns the set of non-null provider event ids seen
// for an integration since the given time. Reconciliation diffs this set
// against the provider's listing.
func (db *DB) LocalProviderEventIDs(ctx context.Context, integrationID string, since time.Time) (map[string]struct{}, error) {
	stmt, err := db.prepared(ctx, `SELECT provider_event_id FROM events
		WHERE integration_id = ? AND received_at >= ? AND provider_event_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, integrationID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list provider event ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan provider event id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// DeliveredWithProviderEventID reports whether any event sharing the given
// provider event id on the same integration already has a delivered
// delivery. The replay engine uses this as its dedup check.
func (db *DB) DeliveredWithProviderEventID(ctx context.Context, integrationID, providerEventID string) (bool, error) {
	if providerEventID == "" {
		return false, nil
	}

	stmt, err := db.prepared(ctx, `SELECT COUNT(*)
		FROM deliveries d
		JOIN events e ON e.id = d.event_id
		WHERE e.integration_id = ? AND e.provider_event_id = ? AND d.status = 'delivered'`)
	if err != nil {
		return false, err
	}

	var count int
	if err := stmt.QueryRowContext(ctx, integrationID, providerEventID).Scan(&count); err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return count > 0, nil
}

const selectEvent = `SELECT id, integration_id, COALESCE(event_type, ''), payload,
	headers, signature_valid, COALESCE(provider_event_id, ''), source, received_at
	FROM events`

// scanEvent maps one row onto a model.
func scanEvent(row rowScanner) (*models.Event, error) {
	ev := &models.Event{}
	var payload, headers, source string
	err := row.Scan(&ev.ID, &ev.IntegrationID, &ev.EventType, &payload, &headers,
		&ev.SignatureValid, &ev.ProviderEventID, &source, &ev.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	ev.Payload = json.RawMessage(payload)
	ev.Source = models.EventSource(source)
	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &ev.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	return ev, nil
}
