// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagunalabs/tidewarden/services/snapshot"
)

// midday lands inside active hours so the runtime/off-hours checks
// behave predictably across tests.
var midday = time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)

// healthyEntities is a baseline installation with pool_heat running
// normally. Tests override individual entities to inject faults.
func healthyEntities() map[string]snapshot.Value {
	return map[string]snapshot.Value{
		EntityWaterTemp:                    snapshot.NumberValue(82),
		EntityPumpSound:                    snapshot.NumberValue(55),
		EntityRuntimeToday:                 snapshot.NumberValue(200),
		EntityHeaterAction:                 snapshot.EnumValue("heating"),
		EntityHeaterTarget:                 snapshot.NumberValue(90),
		EntitySensorFailure:                snapshot.BoolValue(false),
		EntitySequenceLock:                 snapshot.BoolValue(false),
		EntityMeshOnline:                   snapshot.BoolValue(true),
		EntityPump:                         snapshot.BoolValue(true),
		EntityHeater:                       snapshot.BoolValue(true),
		EntityActiveMode:                   snapshot.EnumValue(ModePoolHeat),
		ModeRequestPrefix + ModePoolHeat:   snapshot.BoolValue(true),
		ValveEntityPrefix + "pool_suction": snapshot.BoolValue(true),
		ValveEntityPrefix + "pool_return":  snapshot.BoolValue(true),
		ValveEntityPrefix + "spa_suction":  snapshot.BoolValue(false),
		ValveEntityPrefix + "spa_return":   snapshot.BoolValue(false),
		ValveEntityPrefix + "skimmer":      snapshot.BoolValue(false),
		ValveEntityPrefix + "vacuum":       snapshot.BoolValue(false),
	}
}

func snapAt(t time.Time, overrides map[string]snapshot.Value) *snapshot.Snapshot {
	entities := healthyEntities()
	for id, v := range overrides {
		if v == (snapshot.Value{}) {
			delete(entities, id)
			continue
		}
		entities[id] = v
	}
	return snapshot.New(t, entities)
}

func kinds(issues []Issue) []Kind {
	out := make([]Kind, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Kind)
	}
	return out
}

func TestAnalyzeHealthySnapshot(t *testing.T) {
	a := New(nil, DefaultThresholds())
	issues, _ := a.Analyze(snapAt(midday, nil), ModeState{})
	assert.Empty(t, issues, "healthy snapshot must produce no issues")
}

func TestAnalyzeDetections(t *testing.T) {
	tests := []struct {
		name     string
		override map[string]snapshot.Value
		want     Kind
		severity Severity
	}{
		{
			name:     "sensor failure flag",
			override: map[string]snapshot.Value{EntitySensorFailure: snapshot.BoolValue(true)},
			want:     KindSensorFailure,
			severity: SeverityCritical,
		},
		{
			name:     "water temperature sensor missing",
			override: map[string]snapshot.Value{EntityWaterTemp: {}},
			want:     KindSensorUnavailable,
			severity: SeverityHigh,
		},
		{
			name:     "mesh offline",
			override: map[string]snapshot.Value{EntityMeshOnline: snapshot.BoolValue(false)},
			want:     KindMeshUnavailable,
			severity: SeverityHigh,
		},
		{
			name: "valve mismatch in pool heat",
			override: map[string]snapshot.Value{
				ValveEntityPrefix + "pool_suction": snapshot.BoolValue(false),
			},
			want:     KindValveMismatch,
			severity: SeverityHigh,
		},
		{
			name:     "pump off with active mode",
			override: map[string]snapshot.Value{EntityPump: snapshot.BoolValue(false)},
			want:     KindPumpNotRunning,
			severity: SeverityCritical,
		},
		{
			name:     "pump sound anomaly",
			override: map[string]snapshot.Value{EntityPumpSound: snapshot.NumberValue(25)},
			want:     KindPumpSoundAnomaly,
			severity: SeverityMedium,
		},
		{
			name:     "heater relay off in heating mode",
			override: map[string]snapshot.Value{EntityHeater: snapshot.BoolValue(false)},
			want:     KindHeaterNotOn,
			severity: SeverityHigh,
		},
		{
			name: "heater overshoot past setpoint",
			override: map[string]snapshot.Value{
				EntityWaterTemp:    snapshot.NumberValue(92),
				EntityHeaterTarget: snapshot.NumberValue(90),
			},
			want:     KindHeaterOvershoot,
			severity: SeverityMedium,
		},
		{
			name:     "overheat above limit",
			override: map[string]snapshot.Value{EntityWaterTemp: snapshot.NumberValue(107)},
			want:     KindOverheat,
			severity: SeverityCritical,
		},
		{
			name:     "freeze risk below limit",
			override: map[string]snapshot.Value{EntityWaterTemp: snapshot.NumberValue(38)},
			want:     KindFreezeRisk,
			severity: SeverityCritical,
		},
		{
			name: "conflicting mode requests",
			override: map[string]snapshot.Value{
				ModeRequestPrefix + ModePoolVacuum: snapshot.BoolValue(true),
			},
			want:     KindModeConflict,
			severity: SeverityHigh,
		},
		{
			name:     "low runtime during active hours",
			override: map[string]snapshot.Value{EntityRuntimeToday: snapshot.NumberValue(10)},
			want:     KindLowRuntime,
			severity: SeverityMedium,
		},
	}

	a := New(nil, DefaultThresholds())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues, _ := a.Analyze(snapAt(midday, tt.override), ModeState{})
			require.NotEmpty(t, issues)
			assert.Contains(t, kinds(issues), tt.want)
			for _, is := range issues {
				if is.Kind == tt.want {
					assert.Equal(t, tt.severity, is.Severity)
					assert.Equal(t, midday, is.DetectedAt)
				}
			}
		})
	}
}

func TestAnalyzeOrphanHeater(t *testing.T) {
	a := New(nil, DefaultThresholds())
	issues, _ := a.Analyze(snapAt(midday, map[string]snapshot.Value{
		EntityActiveMode:                 snapshot.EnumValue(ModePoolSkimmer),
		ModeRequestPrefix + ModePoolHeat: snapshot.BoolValue(false),
	}), ModeState{})
	assert.Contains(t, kinds(issues), KindOrphanHeater)
	assert.NotContains(t, kinds(issues), KindHeaterNotOn)
}

func TestAnalyzeSkipsChecksDuringSequenceLock(t *testing.T) {
	a := New(nil, DefaultThresholds())

	// Pump off and valves mid-transition while the lock is held: neither
	// is reported, a startup sequence legitimately passes through this.
	issues, state := a.Analyze(snapAt(midday, map[string]snapshot.Value{
		EntitySequenceLock:                 snapshot.BoolValue(true),
		EntityPump:                         snapshot.BoolValue(false),
		ValveEntityPrefix + "pool_suction": snapshot.BoolValue(false),
	}), ModeState{})

	assert.NotContains(t, kinds(issues), KindPumpNotRunning)
	assert.NotContains(t, kinds(issues), KindValveMismatch)
	assert.Equal(t, midday, state.LockSince, "lock start must be recorded")
}

func TestAnalyzeStartupTimeout(t *testing.T) {
	a := New(nil, DefaultThresholds())
	lockStart := midday.Add(-15 * time.Minute)

	issues, _ := a.Analyze(snapAt(midday, map[string]snapshot.Value{
		EntitySequenceLock: snapshot.BoolValue(true),
	}), ModeState{LockSince: lockStart})

	assert.Contains(t, kinds(issues), KindStartupTimeout)
}

func TestAnalyzeRapidTempDrop(t *testing.T) {
	a := New(nil, DefaultThresholds())

	state := ModeState{}
	temps := []float64{88, 87.5, 87, 86.5, 86}
	for i, f := range temps {
		at := midday.Add(time.Duration(i) * 5 * time.Minute)
		_, state = a.Analyze(snapAt(at, map[string]snapshot.Value{
			EntityWaterTemp: snapshot.NumberValue(f),
		}), state)
	}

	// Final sample is 8 degrees below the start of the trend window.
	issues, state := a.Analyze(snapAt(midday.Add(30*time.Minute), map[string]snapshot.Value{
		EntityWaterTemp: snapshot.NumberValue(80),
	}), state)

	assert.Contains(t, kinds(issues), KindRapidTempDrop)
	assert.LessOrEqual(t, len(state.TempHistory), tempHistoryLen)
}

func TestAnalyzeHeatingIneffective(t *testing.T) {
	a := New(nil, DefaultThresholds())

	state := ModeState{}
	var issues []Issue
	for i := 0; i < 6; i++ {
		at := midday.Add(time.Duration(i) * 5 * time.Minute)
		issues, state = a.Analyze(snapAt(at, map[string]snapshot.Value{
			EntityWaterTemp: snapshot.NumberValue(82), // flat while "heating"
		}), state)
	}

	assert.Contains(t, kinds(issues), KindHeatingIneffective)
}

func TestAnalyzeOffHoursAndPreheat(t *testing.T) {
	a := New(nil, DefaultThresholds())

	nightfall := time.Date(2025, 6, 14, 22, 0, 0, 0, time.UTC)
	issues, _ := a.Analyze(snapAt(nightfall, map[string]snapshot.Value{
		EntityActiveMode:                 snapshot.EnumValue(ModePoolSkimmer),
		EntityHeater:                     snapshot.BoolValue(false),
		ModeRequestPrefix + ModePoolHeat: snapshot.BoolValue(false),
	}), ModeState{})
	assert.Contains(t, kinds(issues), KindOffHoursPump)

	evening := time.Date(2025, 6, 14, 16, 30, 0, 0, time.UTC)
	issues, _ = a.Analyze(snapAt(evening, nil), ModeState{})
	assert.Contains(t, kinds(issues), KindPreheatOpportunity)
}

func TestAnalyzeModeStateTracking(t *testing.T) {
	a := New(nil, DefaultThresholds())

	_, state := a.Analyze(snapAt(midday, nil), ModeState{})
	assert.Equal(t, ModePoolHeat, state.ActiveMode)
	assert.Equal(t, midday, state.ModeSince)
	assert.True(t, state.ValvePositions[ValveEntityPrefix+"pool_suction"])

	later := midday.Add(5 * time.Minute)
	_, state = a.Analyze(snapAt(later, map[string]snapshot.Value{
		ValveEntityPrefix + "pool_suction": snapshot.BoolValue(false),
	}), state)
	assert.Equal(t, later, state.LastValveChange, "valve transition must be timestamped")
	assert.Equal(t, midday, state.ModeSince, "unchanged mode keeps its start time")
}

func TestAnalyzeDeterministic(t *testing.T) {
	a := New(nil, DefaultThresholds())
	snap := snapAt(midday, map[string]snapshot.Value{
		EntityWaterTemp: snapshot.NumberValue(107),
		EntityPump:      snapshot.BoolValue(false),
	})

	first, _ := a.Analyze(snap, ModeState{})
	second, _ := a.Analyze(snap, ModeState{})
	assert.Equal(t, first, second)
}
