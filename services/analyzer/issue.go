// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analyzer detects anomalies in installation snapshots.
//
// The analyzer is a pure function over (snapshot, mode-state): the same
// inputs always yield the same issue set. It performs no network or
// storage access. Declaring an issue never implies escalation; severity
// is advisory input to the decision tiers downstream.
package analyzer

import (
	"time"
)

// Severity classifies how serious an issue is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for threshold comparisons (low=0 .. critical=3).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Kind identifies the anomaly class. The set is closed; the decision
// tiers key their rule tables off these values.
type Kind string

const (
	KindOverheat           Kind = "OVERHEAT"
	KindFreezeRisk         Kind = "FREEZE_RISK"
	KindSensorFailure      Kind = "SENSOR_FAILURE"
	KindSensorUnavailable  Kind = "SENSOR_UNAVAILABLE"
	KindMeshUnavailable    Kind = "MESH_UNAVAILABLE"
	KindValveMismatch      Kind = "VALVE_MISMATCH"
	KindPumpNotRunning     Kind = "PUMP_NOT_RUNNING"
	KindPumpSoundAnomaly   Kind = "PUMP_SOUND_ANOMALY"
	KindHeaterNotOn        Kind = "HEATER_NOT_ON"
	KindHeaterOvershoot    Kind = "HEATER_OVERSHOOT"
	KindOrphanHeater       Kind = "ORPHAN_HEATER"
	KindRapidTempDrop      Kind = "RAPID_TEMP_DROP"
	KindHeatingIneffective Kind = "HEATING_INEFFECTIVE"
	KindModeConflict       Kind = "MODE_CONFLICT"
	KindStartupTimeout     Kind = "STARTUP_TIMEOUT"
	KindLowRuntime         Kind = "LOW_RUNTIME"
	KindOffHoursPump       Kind = "OFF_HOURS_PUMP"
	KindPreheatOpportunity Kind = "PREHEAT_OPPORTUNITY"
)

// Issue is one detected anomaly. Consumed read-only downstream; many may
// coexist per cycle.
type Issue struct {
	Kind        Kind           `json:"kind"`
	Severity    Severity       `json:"severity"`
	Subjects    []string       `json:"subjects,omitempty"`
	Description string         `json:"description"`
	Facts       map[string]any `json:"facts,omitempty"`
	DetectedAt  time.Time      `json:"detected_at"`
}

// CountBySeverity tallies issues at exactly the given severity.
func CountBySeverity(issues []Issue, sev Severity) int {
	n := 0
	for _, is := range issues {
		if is.Severity == sev {
			n++
		}
	}
	return n
}

// DistinctKinds returns the number of distinct issue kinds present.
func DistinctKinds(issues []Issue) int {
	seen := make(map[Kind]struct{}, len(issues))
	for _, is := range issues {
		seen[is.Kind] = struct{}{}
	}
	return len(seen)
}
