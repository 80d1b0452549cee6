// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m, err := NewJWTManager("test-signing-secret", time.Hour)
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}

	token, err := m.Issue("owner-42")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.OwnerID != "owner-42" {
		t.Errorf("OwnerID = %s", claims.OwnerID)
	}
}

func TestJWTManager_RejectsForgedToken(t *testing.T) {
	m1, _ := NewJWTManager("secret-one", time.Hour)
	m2, _ := NewJWTManager("secret-two", time.Hour)

	token, _ := m1.Issue("owner-1")
	if _, err := m2.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTManager_RejectsExpiredToken(t *testing.T) {
	m, _ := NewJWTManager("test-signing-secret", time.Hour)

	// Issue with a manager whose lifetime already elapsed.
	short, _ := NewJWTManager("test-signing-secret", time.Nanosecond)
	token, _ := short.Issue("owner-1")
	time.Sleep(5 * time.Millisecond)

	if _, err := m.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Expected ErrExpiredToken, got %v", err)
	}
}

func TestNewJWTManager_EmptySecret(t *testing.T) {
	if _, err := NewJWTManager("", time.Hour); err == nil {
		t.Error("Expected empty secret to be rejected")
	}
}
