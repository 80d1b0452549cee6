// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

// Package idempotency provides the per-step marker store that turns the task
// queue's at-least-once delivery into exactly-once effects.
//
// Markers are keyed by what a step must not repeat — a delivery attempt is
// keyed (event_id, attempt_number) — and persisted in Badger so redelivered
// tasks after a crash still see the marker. Entries expire after a TTL well
// beyond the queue's redelivery horizon.
package idempotency

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Store is a Badger-backed set of first-run markers.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Open creates or opens the marker store at path.
func Open(path string, ttl time.Duration) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Badger's own logger is too chatty for this use

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Store{db: db, ttl: ttl}, nil
}

// MarkOnce records the key and reports whether this call was the first.
// The check-and-set runs in one transaction, so two concurrent callers with
// the same key cannot both observe first=true.
func (s *Store) MarkOnce(key string) (first bool, err error) {
	err = s.db.Update(func(txn *badger.Txn) error {
		_, getErr := txn.Get([]byte(key))
		if getErr == nil {
			return nil // already marked
		}
		if !errors.Is(getErr, badger.ErrKeyNotFound) {
			return getErr
		}

		entry := badger.NewEntry([]byte(key), []byte{1}).WithTTL(s.ttl)
		if setErr := txn.SetEntry(entry); setErr != nil {
			return setErr
		}
		first = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", key, err)
	}
	return first, nil
}

// Seen reports whether the key is already marked without writing.
func (s *Store) Seen(key string) (bool, error) {
	var seen bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, getErr := txn.Get([]byte(key))
		if getErr == nil {
			seen = true
			return nil
		}
		if errors.Is(getErr, badger.ErrKeyNotFound) {
			return nil
		}
		return getErr
	})
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	return seen, nil
}

// DeliveryKey builds the marker key for one delivery attempt.
func DeliveryKey(eventID string, attempt int) string {
	return fmt.Sprintf("delivery:%s:%d", eventID, attempt)
}

// ReplayStartKey builds the marker key for one replay-started emission.
func ReplayStartKey(endpointID string, stateChangedAtUnix int64) string {
	return fmt.Sprintf("replay-start:%s:%d", endpointID, stateChangedAtUnix)
}

// Close releases the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}
