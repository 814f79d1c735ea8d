// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package snapshot defines the point-in-time view of the monitored
// installation and the Source that produces it.
//
// A Snapshot is an immutable entity-id → typed value map owned by the
// cycle that fetched it. Downstream components read it; nothing mutates
// it; it is discarded once the cycle's record is persisted.
package snapshot

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ValueKind discriminates the typed observation for an entity.
type ValueKind int

const (
	// KindNumber is a numeric reading (temperature, sound level, minutes).
	KindNumber ValueKind = iota

	// KindBool is an on/off observation (pump relay, failure flag).
	KindBool

	// KindEnum is a named state (active mode, hvac action).
	KindEnum
)

// String returns "number", "bool", "enum", or "unknown".
func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Value is one typed observation. Exactly one of Number, Bool, or Enum is
// meaningful, selected by Kind.
type Value struct {
	Kind   ValueKind `json:"kind"`
	Number float64   `json:"number,omitempty"`
	Bool   bool      `json:"bool,omitempty"`
	Enum   string    `json:"enum,omitempty"`
}

// NumberValue constructs a numeric Value.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: n} }

// BoolValue constructs a boolean Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// EnumValue constructs an enum-string Value.
func EnumValue(s string) Value { return Value{Kind: KindEnum, Enum: s} }

// String renders the value for logs and the snapshot summary.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	case KindBool:
		if v.Bool {
			return "on"
		}
		return "off"
	case KindEnum:
		return v.Enum
	default:
		return "?"
	}
}

// Snapshot is an immutable mapping of entity-id to observed value plus the
// time the observation set was taken.
//
// # Thread Safety
//
// A Snapshot is never mutated after construction, so it is safe to share
// across goroutines. Constructors copy the entity map they are given.
type Snapshot struct {
	taken    time.Time
	entities map[string]Value
}

// New builds a Snapshot from an entity map. The map is copied so later
// mutation by the caller cannot leak into the cycle.
func New(taken time.Time, entities map[string]Value) *Snapshot {
	copied := make(map[string]Value, len(entities))
	for id, v := range entities {
		copied[id] = v
	}
	return &Snapshot{taken: taken, entities: copied}
}

// Taken returns when the snapshot was observed.
func (s *Snapshot) Taken() time.Time { return s.taken }

// Len returns the number of observed entities.
func (s *Snapshot) Len() int { return len(s.entities) }

// Value returns the raw typed value for an entity.
func (s *Snapshot) Value(entityID string) (Value, bool) {
	v, ok := s.entities[entityID]
	return v, ok
}

// Number returns a numeric reading. The second result is false when the
// entity is absent or not numeric.
func (s *Snapshot) Number(entityID string) (float64, bool) {
	v, ok := s.entities[entityID]
	if !ok || v.Kind != KindNumber {
		return 0, false
	}
	return v.Number, true
}

// Bool returns a boolean observation. Absent or non-boolean entities
// report (false, false).
func (s *Snapshot) Bool(entityID string) (bool, bool) {
	v, ok := s.entities[entityID]
	if !ok || v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// On reports whether a boolean entity is present and on. This is the
// common read for flags where "absent" and "off" are handled identically.
func (s *Snapshot) On(entityID string) bool {
	b, ok := s.Bool(entityID)
	return ok && b
}

// Enum returns a named state. Absent or non-enum entities report ("", false).
func (s *Snapshot) Enum(entityID string) (string, bool) {
	v, ok := s.entities[entityID]
	if !ok || v.Kind != KindEnum {
		return "", false
	}
	return v.Enum, true
}

// EntityIDs returns the sorted ids of all observed entities.
func (s *Snapshot) EntityIDs() []string {
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary returns a compact entity → rendered-value map for the persisted
// DecisionRecord and for model prompts.
func (s *Snapshot) Summary() map[string]string {
	out := make(map[string]string, len(s.entities))
	for id, v := range s.entities {
		out[id] = v.String()
	}
	return out
}

// ParseState converts a raw textual state (as reported by the control
// surface API) into a typed Value: numeric when it parses as a float,
// on/off/true/false as booleans, anything else as an enum.
func ParseState(raw string) Value {
	switch raw {
	case "on", "true":
		return BoolValue(true)
	case "off", "false":
		return BoolValue(false)
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return NumberValue(n)
	}
	return EnumValue(raw)
}

// ErrUnavailable is returned by a Source when the installation state
// cannot be read this cycle. The engine treats it as "no issues
// detectable": the cycle ends early, logged, without escalation.
var ErrUnavailable = fmt.Errorf("snapshot source unavailable")
