// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gate

import (
	"sync"
	"time"

	"github.com/lagunalabs/tidewarden/services/decision"
)

// globalKey is the bucket used when the limiter is not per-kind.
const globalKey = decision.ActionKind("*")

// RateWindow counts auto-executed actions in a trailing window. It is
// mutated only by the gate at approval time, under its own lock, so an
// asynchronous confirmation resolution can never race a cycle.
type RateWindow struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	perKind bool
	events  map[decision.ActionKind][]time.Time
}

// NewRateWindow builds a limiter. window <= 0 defaults to one hour;
// limit <= 0 means unlimited. perKind buckets counts by action kind
// instead of globally.
func NewRateWindow(limit int, window time.Duration, perKind bool) *RateWindow {
	if window <= 0 {
		window = time.Hour
	}
	return &RateWindow{
		window:  window,
		limit:   limit,
		perKind: perKind,
		events:  make(map[decision.ActionKind][]time.Time),
	}
}

func (r *RateWindow) key(kind decision.ActionKind) decision.ActionKind {
	if r.perKind {
		return kind
	}
	return globalKey
}

// AtLimit reports whether another auto-execution of kind at now would
// exceed the limit.
func (r *RateWindow) AtLimit(kind decision.ActionKind, now time.Time) bool {
	if r.limit <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prune(r.key(kind), now)) >= r.limit
}

// Record counts one approved auto-execution. Called only after the gate
// decides AUTO_EXECUTE.
func (r *RateWindow) Record(kind decision.ActionKind, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(kind)
	r.events[k] = append(r.prune(k, now), now)
}

// Count returns the current trailing-window count for kind.
func (r *RateWindow) Count(kind decision.ActionKind, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prune(r.key(kind), now))
}

// prune drops events older than the window. Caller holds the lock.
func (r *RateWindow) prune(key decision.ActionKind, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	events := r.events[key]
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.events[key] = kept
	return kept
}
