// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package database

import (
	"context"
	"fmt"

	"github.com/hookwise/hookwise/internal/models"
)

// InsertReconciliationRun appends one immutable audit row for a pull cycle.
func (db *DB) InsertReconciliationRun(ctx context.Context, run *models.ReconciliationRun) error {
	stmt, err := db.prepared(ctx, `INSERT INTO reconciliation_runs
		(id, integration_id, provider_events_found, local_events_found, gaps_detected, gaps_resolved, ran_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx,
		run.ID, run.IntegrationID, run.ProviderEventsFound, run.LocalEventsFound,
		run.GapsDetected, run.GapsResolved, run.RanAt.UTC())
	if err != nil {
		return fmt.Errorf("insert reconciliation run: %w", err)
	}
	return nil
}

// ListReconciliationRuns returns an integration's runs, newest first.
func (db *DB) ListReconciliationRuns(ctx context.Context, integrationID string, limit int) ([]*models.ReconciliationRun, error) {
	stmt, err := db.prepared(ctx, `SELECT id, integration_id, provider_events_found,
		local_events_found, gaps_detected, gaps_resolved, ran_at
		FROM reconciliation_runs WHERE integration_id = ?
		ORDER BY ran_at DESC LIMIT ?`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, integrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation runs: %w", err)
	}
	defer rows.Close()

	var out []*models.ReconciliationRun
	for rows.Next() {
		run := &models.ReconciliationRun{}
		if err := rows.Scan(&run.ID, &run.IntegrationID, &run.ProviderEventsFound,
			&run.LocalEventsFound, &run.GapsDetected, &run.GapsResolved, &run.RanAt); err != nil {
			return nil, fmt.Errorf("scan reconciliation run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
