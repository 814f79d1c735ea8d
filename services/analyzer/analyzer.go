// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lagunalabs/tidewarden/services/snapshot"
)

// ModeRequestPrefix is the entity prefix of the per-mode request flags
// used for the conflicting-modes check.
const ModeRequestPrefix = "input_boolean.pool_mode_"

// allModes enumerates the programs a request flag can exist for.
var allModes = []string{
	ModeHotTubHeat, ModePoolHeat, ModePoolSkimmer, ModePoolWaterfall, ModePoolVacuum,
}

// Thresholds are the static detection tuning knobs. They are configuration
// inputs; the engine never adapts them online.
type Thresholds struct {
	// MaxStartupDuration bounds how long the valve/pump startup sequence
	// may hold the sequence lock before a STARTUP_TIMEOUT is declared.
	MaxStartupDuration time.Duration

	// PumpSoundMinDB is the minimum sound level expected from a running
	// pump.
	PumpSoundMinDB float64

	// RapidDropF is the half-hour temperature drop that suggests
	// drainage or a leak.
	RapidDropF float64

	// ActiveHourStart/ActiveHourEnd delimit the hours the installation
	// is expected to run (runtime and off-hours checks).
	ActiveHourStart int
	ActiveHourEnd   int

	// PreheatBelowF: an evening hot-tub preheat is suggested below this
	// water temperature.
	PreheatBelowF float64
}

// DefaultThresholds returns the production detection tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxStartupDuration: 10 * time.Minute,
		PumpSoundMinDB:     40,
		RapidDropF:         5,
		ActiveHourStart:    8,
		ActiveHourEnd:      18,
		PreheatBelowF:      95,
	}
}

// Analyzer detects pool-domain anomalies in a snapshot.
//
// Analyze is deterministic: the same snapshot and mode-state always yield
// the same issue set. All time-of-day logic uses the snapshot's own
// timestamp, never the wall clock.
type Analyzer struct {
	expected   *ExpectedTable
	thresholds Thresholds
}

// New creates an Analyzer against an expected-state table. A nil table
// uses the embedded default revision.
func New(expected *ExpectedTable, thresholds Thresholds) *Analyzer {
	if expected == nil {
		expected = DefaultExpectedTable()
	}
	return &Analyzer{expected: expected, thresholds: thresholds}
}

// Expected exposes the live expected-state table (for status reporting).
func (a *Analyzer) Expected() *ExpectedTable { return a.expected }

// Analyze inspects the snapshot, returning detected issues and the
// updated mode-state to thread into the next cycle.
func (a *Analyzer) Analyze(snap *snapshot.Snapshot, prior ModeState) ([]Issue, ModeState) {
	now := snap.Taken()
	state := a.advanceModeState(snap, prior, now)

	var issues []Issue
	add := func(kind Kind, sev Severity, desc string, subjects []string, facts map[string]any) {
		issues = append(issues, Issue{
			Kind:        kind,
			Severity:    sev,
			Subjects:    subjects,
			Description: desc,
			Facts:       facts,
			DetectedAt:  now,
		})
	}

	mode := state.ActiveMode
	lockActive := snap.On(EntitySequenceLock)
	waterTemp, haveTemp := snap.Number(EntityWaterTemp)

	// Sensor health.
	if snap.On(EntitySensorFailure) {
		add(KindSensorFailure, SeverityCritical,
			"temperature sensor failure detected, heating is blocked",
			[]string{EntitySensorFailure}, nil)
	}
	if !haveTemp {
		add(KindSensorUnavailable, SeverityHigh,
			"water temperature sensor unavailable",
			[]string{EntityWaterTemp}, nil)
	}

	// Control network.
	if online, ok := snap.Bool(EntityMeshOnline); ok && !online {
		add(KindMeshUnavailable, SeverityHigh,
			"mesh radio network offline, valve control unavailable",
			[]string{EntityMeshOnline}, nil)
	}

	// Valve positions vs. the expected signature for the active mode.
	// Skipped during transitions (lock held) and when idle.
	if mode != ModeNone && !lockActive {
		if exp, ok := a.expected.ForMode(mode); ok {
			mismatches := valveMismatches(snap, exp)
			if len(mismatches) > 0 {
				add(KindValveMismatch, SeverityHigh,
					fmt.Sprintf("valve positions do not match %s mode", mode),
					mismatches, map[string]any{
						"mode":          mode,
						"table_version": a.expected.Version(),
					})
			}
		}
	}

	// Pump.
	pumpOn := snap.On(EntityPump)
	if mode != ModeNone && !pumpOn && !lockActive {
		add(KindPumpNotRunning, SeverityCritical,
			fmt.Sprintf("mode %s active but pump is off", mode),
			[]string{EntityPump}, map[string]any{"mode": mode})
	}
	if pumpOn {
		if level, ok := snap.Number(EntityPumpSound); ok && level < a.thresholds.PumpSoundMinDB {
			add(KindPumpSoundAnomaly, SeverityMedium,
				"pump on but sound level below normal",
				[]string{EntityPumpSound}, map[string]any{
					"sound_level":  level,
					"expected_min": a.thresholds.PumpSoundMinDB,
				})
		}
	}

	// Heater.
	heaterOn := snap.On(EntityHeater)
	heaterAction, _ := snap.Enum(EntityHeaterAction)
	if IsHeatingMode(mode) {
		if !heaterOn {
			add(KindHeaterNotOn, SeverityHigh,
				fmt.Sprintf("heating mode %s active but heater relay off", mode),
				[]string{EntityHeater}, map[string]any{"mode": mode})
		}
		if target, ok := snap.Number(EntityHeaterTarget); ok && haveTemp {
			if target-waterTemp <= 0 && heaterAction == "heating" {
				add(KindHeaterOvershoot, SeverityMedium,
					"heater still heating despite reaching setpoint",
					[]string{EntityHeater}, map[string]any{
						"water_temp_f": waterTemp,
						"target_f":     target,
					})
			}
		}
	} else if heaterOn {
		add(KindOrphanHeater, SeverityHigh,
			"heater on but no heating mode active",
			[]string{EntityHeater}, map[string]any{"mode": mode})
	}

	// Temperature limits and trends.
	if haveTemp {
		if waterTemp > TempOverheatF {
			add(KindOverheat, SeverityCritical,
				fmt.Sprintf("water temperature dangerously high: %.1f F", waterTemp),
				[]string{EntityWaterTemp}, map[string]any{"temperature_f": waterTemp})
		} else if waterTemp < TempFreezeF {
			add(KindFreezeRisk, SeverityCritical,
				fmt.Sprintf("water temperature dangerously low: %.1f F", waterTemp),
				[]string{EntityWaterTemp}, map[string]any{"temperature_f": waterTemp})
		}

		if len(state.TempHistory) >= 4 {
			first := state.TempHistory[0].TempF
			change := waterTemp - first
			if change < -a.thresholds.RapidDropF {
				add(KindRapidTempDrop, SeverityHigh,
					fmt.Sprintf("water temperature dropped %.1f F over trend window", -change),
					[]string{EntityWaterTemp}, map[string]any{
						"start_f":  first,
						"end_f":    waterTemp,
						"change_f": change,
					})
			}
			if IsHeatingMode(mode) && heaterAction == "heating" && change < 0.5 {
				add(KindHeatingIneffective, SeverityMedium,
					"heater running but temperature not rising",
					[]string{EntityHeater}, map[string]any{"change_f": change})
			}
		}
	}

	// Startup sequence stuck holding the lock.
	if lockActive && state.LockHeldFor(now) > a.thresholds.MaxStartupDuration {
		add(KindStartupTimeout, SeverityHigh,
			fmt.Sprintf("startup sequence lock held for %s, exceeds maximum",
				state.LockHeldFor(now).Round(time.Second)),
			[]string{EntitySequenceLock}, map[string]any{
				"held_for": state.LockHeldFor(now).String(),
				"max":      a.thresholds.MaxStartupDuration.String(),
			})
	}

	// Conflicting mode requests.
	var requested []string
	for _, m := range allModes {
		if snap.On(ModeRequestPrefix + m) {
			requested = append(requested, m)
		}
	}
	if len(requested) > 1 {
		add(KindModeConflict, SeverityHigh,
			"multiple modes requested: "+strings.Join(requested, ", "),
			requested, map[string]any{"modes": requested})
	}

	// Runtime and time-of-day observations.
	hour := now.Hour()
	if hour >= a.thresholds.ActiveHourStart && hour < a.thresholds.ActiveHourEnd {
		if runtime, ok := snap.Number(EntityRuntimeToday); ok {
			expectedMin := float64(hour-a.thresholds.ActiveHourStart) * 60
			if runtime < expectedMin*0.5 {
				add(KindLowRuntime, SeverityMedium,
					fmt.Sprintf("runtime today (%.0f min) is below expected", runtime),
					[]string{EntityRuntimeToday}, map[string]any{
						"actual_min":   runtime,
						"expected_min": expectedMin * 0.5,
					})
			}
		}
	} else if pumpOn && !IsHeatingMode(mode) {
		add(KindOffHoursPump, SeverityLow,
			"pump running during off-hours without a heating mode",
			[]string{EntityPump}, map[string]any{"hour": hour, "mode": mode})
	}

	if hour >= 16 && hour <= 17 && mode != ModeHotTubHeat {
		if haveTemp && waterTemp < a.thresholds.PreheatBelowF {
			add(KindPreheatOpportunity, SeverityLow,
				"evening approaching, hot tub preheat opportunity",
				[]string{EntityWaterTemp}, map[string]any{"current_f": waterTemp})
		}
	}

	return issues, state
}

// advanceModeState folds the current snapshot into the threaded state.
func (a *Analyzer) advanceModeState(snap *snapshot.Snapshot, prior ModeState, now time.Time) ModeState {
	state := prior

	mode, ok := snap.Enum(EntityActiveMode)
	if !ok {
		mode = ModeNone
	}
	if mode != prior.ActiveMode {
		state.ActiveMode = mode
		state.ModeSince = now
	}

	if snap.On(EntitySequenceLock) {
		if state.LockSince.IsZero() {
			state.LockSince = now
		}
	} else {
		state.LockSince = time.Time{}
	}

	// Track valve transitions for the timing checks.
	positions := make(map[string]bool)
	for _, id := range snap.EntityIDs() {
		if !strings.HasPrefix(id, ValveEntityPrefix) {
			continue
		}
		pos, ok := snap.Bool(id)
		if !ok {
			continue
		}
		positions[id] = pos
		if prev, seen := prior.ValvePositions[id]; seen && prev != pos {
			state.LastValveChange = now
		}
	}
	state.ValvePositions = positions

	if temp, ok := snap.Number(EntityWaterTemp); ok {
		history := append(append([]TempSample(nil), prior.TempHistory...),
			TempSample{Taken: now, TempF: temp})
		if len(history) > tempHistoryLen {
			history = history[len(history)-tempHistoryLen:]
		}
		state.TempHistory = history
	}

	return state
}

// valveMismatches compares observed valve switches against the expected
// signature, returning the entity ids that disagree.
func valveMismatches(snap *snapshot.Snapshot, exp ModeExpectation) []string {
	var mismatched []string
	for valve, want := range exp.Valves {
		entity := ValveEntityPrefix + valve
		got, ok := snap.Bool(entity)
		if !ok {
			continue // unobserved valves are not mismatches
		}
		if got != want {
			mismatched = append(mismatched, entity)
		}
	}
	sort.Strings(mismatched)
	return mismatched
}
