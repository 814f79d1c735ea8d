// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gate

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lagunalabs/tidewarden/services/decision"
)

// ConfirmationStatus is the lifecycle state of a queued action.
type ConfirmationStatus string

const (
	StatusPending  ConfirmationStatus = "pending"
	StatusApproved ConfirmationStatus = "approved"
	StatusRejected ConfirmationStatus = "rejected"
	StatusExpired  ConfirmationStatus = "expired"
)

// Terminal reports whether the status can never change again.
func (s ConfirmationStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// PendingConfirmation is one action awaiting human approval. Created by
// the gate; mutated only by an external confirmation signal or by
// expiry.
type PendingConfirmation struct {
	ID         string             `json:"id"`
	Action     decision.Action    `json:"action"`
	Reason     string             `json:"reason"`
	CreatedAt  time.Time          `json:"created_at"`
	ExpiresAt  time.Time          `json:"expires_at"`
	Status     ConfirmationStatus `json:"status"`
	ResolvedAt time.Time          `json:"resolved_at,omitempty"`
}

// ErrConfirmationNotFound is returned when resolving an unknown id.
var ErrConfirmationNotFound = fmt.Errorf("confirmation not found")

// ErrConfirmationClosed is returned when resolving a confirmation that
// already reached a terminal state (including expiry).
var ErrConfirmationClosed = fmt.Errorf("confirmation already resolved or expired")

// ConfirmationStore holds queued actions across cycle boundaries.
//
// # Thread Safety
//
// A single mutex guards the map; it is held only for the read-modify-
// write, never across a network call, so an operator approving from the
// API mid-cycle cannot deadlock the control loop.
type ConfirmationStore struct {
	mu      sync.Mutex
	pending map[string]*PendingConfirmation
}

// NewConfirmationStore returns an empty store.
func NewConfirmationStore() *ConfirmationStore {
	return &ConfirmationStore{pending: make(map[string]*PendingConfirmation)}
}

// Add queues an action until deadline and returns the new record.
func (s *ConfirmationStore) Add(action decision.Action, reason string, now, deadline time.Time) *PendingConfirmation {
	pc := &PendingConfirmation{
		ID:        uuid.NewString(),
		Action:    action,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: deadline,
		Status:    StatusPending,
	}
	s.mu.Lock()
	s.pending[pc.ID] = pc
	s.mu.Unlock()
	return pc
}

// Get returns a copy of the confirmation with the given id.
func (s *ConfirmationStore) Get(id string) (PendingConfirmation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.pending[id]
	if !ok {
		return PendingConfirmation{}, false
	}
	return *pc, true
}

// List returns copies of all confirmations, newest first.
func (s *ConfirmationStore) List() []PendingConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingConfirmation, 0, len(s.pending))
	for _, pc := range s.pending {
		out = append(out, *pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Resolve applies an external approve/reject signal. An expired or
// already-terminal confirmation cannot be resolved; expiry is checked
// against now first, so a late approval of an expired confirmation
// fails rather than executing.
func (s *ConfirmationStore) Resolve(id string, approve bool, now time.Time) (PendingConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, ok := s.pending[id]
	if !ok {
		return PendingConfirmation{}, fmt.Errorf("%w: %s", ErrConfirmationNotFound, id)
	}
	if pc.Status.Terminal() {
		return *pc, ErrConfirmationClosed
	}
	if !now.Before(pc.ExpiresAt) {
		pc.Status = StatusExpired
		pc.ResolvedAt = now
		return *pc, ErrConfirmationClosed
	}

	if approve {
		pc.Status = StatusApproved
	} else {
		pc.Status = StatusRejected
	}
	pc.ResolvedAt = now
	return *pc, nil
}

// ExpireDue transitions every pending confirmation past its deadline to
// expired and returns the newly expired records. Called once per cycle.
func (s *ConfirmationStore) ExpireDue(now time.Time) []PendingConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []PendingConfirmation
	for _, pc := range s.pending {
		if pc.Status == StatusPending && !now.Before(pc.ExpiresAt) {
			pc.Status = StatusExpired
			pc.ResolvedAt = now
			expired = append(expired, *pc)
		}
	}
	return expired
}

// Prune drops terminal confirmations older than keep, bounding memory.
func (s *ConfirmationStore) Prune(now time.Time, keep time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, pc := range s.pending {
		if pc.Status.Terminal() && !pc.ResolvedAt.IsZero() && now.Sub(pc.ResolvedAt) > keep {
			delete(s.pending, id)
			n++
		}
	}
	return n
}
