// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package services

import (
	"context"
)

// Loop is any component exposing a context-bound Run method. The health
// prober, reconciler, orphan sweeper, and queue router all satisfy it.
// Accepting the interface avoids importing their packages here and keeps
// the wrappers testable with stubs.
type Loop interface {
	Run(ctx context.Context) error
}

// LoopService wraps a Run loop as a supervised service.
type LoopService struct {
	loop Loop
	name string
}

// NewLoopService wraps an arbitrary loop under the given service name.
func NewLoopService(name string, loop Loop) *LoopService {
	return &LoopService{loop: loop, name: name}
}

// NewProberService wraps the health prober.
func NewProberService(p Loop) *LoopService {
	return &LoopService{loop: p, name: "health-prober"}
}

// NewReconcilerService wraps the reconciliation puller.
func NewReconcilerService(r Loop) *LoopService {
	return &LoopService{loop: r, name: "reconciler"}
}

// NewSweeperService wraps the orphan sweeper.
func NewSweeperService(s Loop) *LoopService {
	return &LoopService{loop: s, name: "orphan-sweeper"}
}

// NewRouterService wraps the Watermill queue router.
func NewRouterService(r Loop) *LoopService {
	return &LoopService{loop: r, name: "queue-router"}
}

// Serve implements suture.Service.
func (s *LoopService) Serve(ctx context.Context) error {
	return s.loop.Run(ctx)
}

// String implements fmt.Stringer; suture uses it to identify the service in
// log messages.
func (s *LoopService) String() string {
	return s.name
}
