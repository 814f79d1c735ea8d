// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package safety vetoes recommended actions that would violate the
// installation's hard physical invariants.
//
// The rule set is fixed at compile time. There is deliberately no
// configuration hook, no tier override, and no operator bypass: every
// action from every tier passes through the same five rules every cycle.
// A veto is a normal outcome, not an error.
package safety

import (
	"fmt"
	"time"

	"github.com/lagunalabs/tidewarden/services/analyzer"
	"github.com/lagunalabs/tidewarden/services/decision"
	"github.com/lagunalabs/tidewarden/services/snapshot"
)

// Verdict is the per-action outcome. Computed fresh every cycle, never
// cached, never persisted as an override.
type Verdict struct {
	Action  decision.Action `json:"action"`
	Allowed bool            `json:"allowed"`
	Reason  string          `json:"reason,omitempty"`
}

// alwaysAllowed actions bypass the lock and mesh rules: an emergency
// stop must never be blocked by a stuck startup sequence, and a
// notification touches no equipment.
var alwaysAllowed = map[decision.ActionKind]bool{
	decision.ActionEmergencyStop: true,
	decision.ActionNotify:        true,
}

// valveControl actions move valves through the mesh radio network.
var valveControl = map[decision.ActionKind]bool{
	decision.ActionForceRestartMode: true,
}

// heatEnable actions turn the heater on.
var heatEnable = map[decision.ActionKind]bool{
	decision.ActionStartHeat: true,
}

// Validator applies the fixed invariant set.
//
// The only tunable is the lock-clearing allowance: CLEAR_LOCK is
// permitted through an active sequence lock only once the lock has been
// held at least that long, so a healthy in-progress startup cannot be
// interrupted.
type Validator struct {
	lockClearAllowance time.Duration
}

// New builds a Validator. allowance <= 0 defaults to 10 minutes, the
// maximum legitimate startup sequence duration.
func New(lockClearAllowance time.Duration) *Validator {
	if lockClearAllowance <= 0 {
		lockClearAllowance = 10 * time.Minute
	}
	return &Validator{lockClearAllowance: lockClearAllowance}
}

// Validate returns exactly one Verdict per input action, in order. It is
// pure and total: it inspects only the snapshot and threaded mode-state,
// and it never fails.
func (v *Validator) Validate(snap *snapshot.Snapshot, state analyzer.ModeState, actions []decision.Action) []Verdict {
	verdicts := make([]Verdict, len(actions))
	for i, a := range actions {
		verdicts[i] = v.check(snap, state, a)
	}
	return verdicts
}

// Allowed filters the actions with an allowing verdict, preserving order.
func Allowed(verdicts []Verdict) []decision.Action {
	var out []decision.Action
	for _, vd := range verdicts {
		if vd.Allowed {
			out = append(out, vd.Action)
		}
	}
	return out
}

func (v *Validator) check(snap *snapshot.Snapshot, state analyzer.ModeState, a decision.Action) Verdict {
	allow := Verdict{Action: a, Allowed: true}

	// Heating with a failed temperature sensor risks running the heater
	// blind.
	if heatEnable[a.Kind] && snap.On(analyzer.EntitySensorFailure) {
		return deny(a, "sensor failure reported; heating is blocked")
	}

	if snap.On(analyzer.EntitySequenceLock) && !alwaysAllowed[a.Kind] {
		if a.Kind == decision.ActionClearLock {
			held := state.LockHeldFor(snap.Taken())
			if held >= v.lockClearAllowance {
				return allow
			}
			return deny(a, fmt.Sprintf(
				"sequence lock held only %s; clearing allowed after %s",
				held.Round(time.Second), v.lockClearAllowance))
		}
		return deny(a, "startup sequence lock active")
	}

	// Heat-enable implies valve movement (the heater loop valves must be
	// positioned first), so it falls under the mesh rule too.
	if valveControl[a.Kind] || heatEnable[a.Kind] {
		if online, ok := snap.Bool(analyzer.EntityMeshOnline); ok && !online {
			return deny(a, "mesh radio network offline; valve control unavailable")
		}
	}

	if a.Kind == decision.ActionSetSetpoint {
		setpoint, ok := numberParam(a.Params, "setpoint_f")
		if !ok {
			return deny(a, "setpoint action missing setpoint_f parameter")
		}
		if setpoint < analyzer.TempFreezeF || setpoint > analyzer.TempOverheatF {
			return deny(a, fmt.Sprintf("setpoint %.1f F outside hard range %.0f-%.0f F",
				setpoint, analyzer.TempFreezeF, analyzer.TempOverheatF))
		}
	}

	// The heater must never run dry.
	if heatEnable[a.Kind] && !snap.On(analyzer.EntityPump) {
		return deny(a, "no pump-running confirmation; heater would run dry")
	}

	return allow
}

func deny(a decision.Action, reason string) Verdict {
	return Verdict{Action: a, Allowed: false, Reason: reason}
}

// numberParam reads a numeric parameter that may arrive as float64 or
// int depending on the JSON decoder that produced it.
func numberParam(params map[string]any, key string) (float64, bool) {
	raw, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
