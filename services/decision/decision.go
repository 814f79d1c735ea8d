// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package decision implements the tiered escalation engine: a fixed-order
// chain of stages (deterministic rules, local model, remote model) that
// produces exactly one Decision per cycle at the lowest tier able to
// settle it.
package decision

import (
	"time"

	"github.com/google/uuid"

	"github.com/lagunalabs/tidewarden/services/analyzer"
	"github.com/lagunalabs/tidewarden/services/snapshot"
)

// Tier identifies which stage settled a cycle, ordered by cost.
type Tier string

const (
	TierRuleBased Tier = "RULE_BASED"
	TierLocal     Tier = "LOCAL"
	TierCloud     Tier = "CLOUD"
)

// CatalogVersion is bumped whenever the action-kind catalog changes. It
// is persisted with every DecisionRecord so old records stay
// interpretable.
const CatalogVersion = 1

// ActionKind enumerates the closed action catalog. Model responses that
// name a kind outside this set are rejected as malformed.
type ActionKind string

const (
	// ActionEmergencyStop shuts down pump and heater immediately. The
	// only critical-safety kind: it bypasses confirmation entirely.
	ActionEmergencyStop ActionKind = "EMERGENCY_STOP"

	// ActionStartHeat enables the heater (freeze protection).
	ActionStartHeat ActionKind = "START_HEAT"

	// ActionStopHeat disables the heater.
	ActionStopHeat ActionKind = "STOP_HEAT"

	// ActionForceRestartMode cycles the active mode off and on to rerun
	// its startup sequence.
	ActionForceRestartMode ActionKind = "FORCE_RESTART_MODE"

	// ActionClearLock clears a stuck startup sequence lock.
	ActionClearLock ActionKind = "CLEAR_LOCK"

	// ActionSetSetpoint changes the heater target temperature.
	// Params: "setpoint_f" (float).
	ActionSetSetpoint ActionKind = "SET_SETPOINT"

	// ActionNotify sends an operator notification. Params: "message".
	ActionNotify ActionKind = "NOTIFY"
)

// knownKinds is the catalog membership set.
var knownKinds = map[ActionKind]struct{}{
	ActionEmergencyStop:    {},
	ActionStartHeat:        {},
	ActionStopHeat:         {},
	ActionForceRestartMode: {},
	ActionClearLock:        {},
	ActionSetSetpoint:      {},
	ActionNotify:           {},
}

// KnownKind reports whether k is in the versioned catalog.
func KnownKind(k ActionKind) bool {
	_, ok := knownKinds[k]
	return ok
}

// CriticalSafety reports whether the kind is a safety action that must
// never wait on a human.
func CriticalSafety(k ActionKind) bool {
	return k == ActionEmergencyStop
}

// Action is one recommended operation. Immutable once created; only the
// executor touches external state, and only after gating.
type Action struct {
	Kind    ActionKind     `json:"kind"`
	Targets []string       `json:"targets,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

// NotifyAction builds an operator notification action.
func NotifyAction(message string) Action {
	return Action{Kind: ActionNotify, Params: map[string]any{"message": message}}
}

// Decision is the single outcome of one cycle. An empty Actions slice
// means "no action" (monitor only).
type Decision struct {
	ID         string    `json:"id"`
	Tier       Tier      `json:"tier"`
	Confidence float64   `json:"confidence"`
	Actions    []Action  `json:"actions,omitempty"`
	Rationale  string    `json:"rationale"`
	CostUSD    float64   `json:"cost_usd"`
	Degraded   bool      `json:"degraded,omitempty"`
	Model      string    `json:"model,omitempty"`
	ProducedAt time.Time `json:"produced_at"`
}

// newDecision stamps identity and time; confidence is clamped by the
// router before the decision leaves the package.
func newDecision(tier Tier, confidence float64, rationale string, actions ...Action) *Decision {
	return &Decision{
		ID:         uuid.NewString(),
		Tier:       tier,
		Confidence: confidence,
		Actions:    actions,
		Rationale:  rationale,
		ProducedAt: time.Now().UTC(),
	}
}

// Input is everything a stage may consult for one cycle.
type Input struct {
	Snapshot *snapshot.Snapshot
	Issues   []analyzer.Issue
}
