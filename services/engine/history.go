// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import "sync"

// ringBuffer is a fixed-size circular buffer. When full, the oldest item
// is overwritten. Not safe for concurrent use; History synchronizes.
type ringBuffer[T any] struct {
	data  []T
	head  int
	tail  int
	count int
	cap   int
	full  bool
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &ringBuffer[T]{data: make([]T, capacity), cap: capacity}
}

func (r *ringBuffer[T]) push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % r.cap
	if r.full {
		r.tail = (r.tail + 1) % r.cap
	} else {
		r.count++
		if r.count == r.cap {
			r.full = true
		}
	}
}

// items returns oldest to newest.
func (r *ringBuffer[T]) items() []T {
	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.data[(r.tail+i)%r.cap])
	}
	return out
}

// History keeps the most recent cycle outcomes in memory for the status
// endpoint, without a store round-trip.
//
// # Thread Safety
//
// Safe for concurrent use.
type History struct {
	mu  sync.Mutex
	buf *ringBuffer[CycleOutcome]
}

// NewHistory creates a History bounded at capacity outcomes.
func NewHistory(capacity int) *History {
	return &History{buf: newRingBuffer[CycleOutcome](capacity)}
}

// Add records one cycle outcome.
func (h *History) Add(o CycleOutcome) {
	h.mu.Lock()
	h.buf.push(o)
	h.mu.Unlock()
}

// Recent returns outcomes oldest to newest.
func (h *History) Recent() []CycleOutcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.items()
}
