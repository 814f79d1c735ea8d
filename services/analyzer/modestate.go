// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analyzer

import "time"

// TempSample is one water temperature observation retained for trend
// detection.
type TempSample struct {
	Taken time.Time `json:"taken"`
	TempF float64   `json:"temp_f"`
}

// ModeState is the only analyzer state that crosses cycle boundaries. It
// is threaded explicitly through Analyze: the analyzer reads the prior
// state and returns the updated one, which keeps detection deterministic
// and testable.
type ModeState struct {
	// ActiveMode is the mode observed last cycle.
	ActiveMode string `json:"active_mode"`

	// ModeSince is when ActiveMode was first observed.
	ModeSince time.Time `json:"mode_since"`

	// LockSince is when the sequence lock was first observed active;
	// zero when the lock is clear.
	LockSince time.Time `json:"lock_since,omitempty"`

	// ValvePositions holds the last observed valve switch states, used
	// to timestamp valve transitions.
	ValvePositions map[string]bool `json:"valve_positions,omitempty"`

	// LastValveChange is when any valve last changed position.
	LastValveChange time.Time `json:"last_valve_change,omitempty"`

	// TempHistory keeps the most recent water temperature readings
	// (bounded by tempHistoryLen) for rapid-drop and heating-trend
	// checks.
	TempHistory []TempSample `json:"temp_history,omitempty"`
}

// tempHistoryLen bounds TempHistory: six samples at the default 5-minute
// interval cover the half-hour trend window the checks need.
const tempHistoryLen = 6

// LockHeldFor returns how long the sequence lock has been continuously
// active as of now, or zero if it is clear.
func (m ModeState) LockHeldFor(now time.Time) time.Duration {
	if m.LockSince.IsZero() {
		return 0
	}
	return now.Sub(m.LockSince)
}
