// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagunalabs/tidewarden/services/analyzer"
	"github.com/lagunalabs/tidewarden/services/decision"
	"github.com/lagunalabs/tidewarden/services/snapshot"
)

var testNow = time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)

func snapWith(overrides map[string]snapshot.Value) *snapshot.Snapshot {
	entities := map[string]snapshot.Value{
		analyzer.EntitySensorFailure: snapshot.BoolValue(false),
		analyzer.EntitySequenceLock:  snapshot.BoolValue(false),
		analyzer.EntityMeshOnline:    snapshot.BoolValue(true),
		analyzer.EntityPump:          snapshot.BoolValue(true),
	}
	for id, v := range overrides {
		entities[id] = v
	}
	return snapshot.New(testNow, entities)
}

func TestValidatorAllowsOnHealthySnapshot(t *testing.T) {
	v := New(0)
	actions := []decision.Action{
		{Kind: decision.ActionStartHeat},
		{Kind: decision.ActionStopHeat},
		{Kind: decision.ActionForceRestartMode},
		{Kind: decision.ActionEmergencyStop},
		decision.NotifyAction("hello"),
		{Kind: decision.ActionSetSetpoint, Params: map[string]any{"setpoint_f": 98.0}},
	}

	verdicts := v.Validate(snapWith(nil), analyzer.ModeState{}, actions)
	require.Len(t, verdicts, len(actions), "one verdict per action, always")
	for _, vd := range verdicts {
		assert.True(t, vd.Allowed, "%s should be allowed: %s", vd.Action.Kind, vd.Reason)
	}
}

func TestValidatorSensorFailureBlocksHeating(t *testing.T) {
	v := New(0)
	snap := snapWith(map[string]snapshot.Value{
		analyzer.EntitySensorFailure: snapshot.BoolValue(true),
	})

	verdicts := v.Validate(snap, analyzer.ModeState{}, []decision.Action{
		{Kind: decision.ActionStartHeat},
		{Kind: decision.ActionStopHeat},
	})

	assert.False(t, verdicts[0].Allowed)
	assert.NotEmpty(t, verdicts[0].Reason)
	assert.True(t, verdicts[1].Allowed, "turning heat off stays legal with a failed sensor")
}

func TestValidatorSequenceLock(t *testing.T) {
	v := New(10 * time.Minute)
	locked := snapWith(map[string]snapshot.Value{
		analyzer.EntitySequenceLock: snapshot.BoolValue(true),
	})

	t.Run("denies ordinary actions while locked", func(t *testing.T) {
		verdicts := v.Validate(locked, analyzer.ModeState{LockSince: testNow.Add(-2 * time.Minute)},
			[]decision.Action{
				{Kind: decision.ActionStartHeat},
				{Kind: decision.ActionForceRestartMode},
			})
		for _, vd := range verdicts {
			assert.False(t, vd.Allowed)
		}
	})

	t.Run("emergency stop and notify pass through the lock", func(t *testing.T) {
		verdicts := v.Validate(locked, analyzer.ModeState{LockSince: testNow.Add(-2 * time.Minute)},
			[]decision.Action{
				{Kind: decision.ActionEmergencyStop},
				decision.NotifyAction("lock stuck"),
			})
		for _, vd := range verdicts {
			assert.True(t, vd.Allowed, "%s: %s", vd.Action.Kind, vd.Reason)
		}
	})

	t.Run("clear lock denied before the allowance", func(t *testing.T) {
		verdicts := v.Validate(locked, analyzer.ModeState{LockSince: testNow.Add(-3 * time.Minute)},
			[]decision.Action{{Kind: decision.ActionClearLock}})
		assert.False(t, verdicts[0].Allowed)
	})

	t.Run("clear lock allowed after the allowance", func(t *testing.T) {
		verdicts := v.Validate(locked, analyzer.ModeState{LockSince: testNow.Add(-15 * time.Minute)},
			[]decision.Action{{Kind: decision.ActionClearLock}})
		assert.True(t, verdicts[0].Allowed, verdicts[0].Reason)
	})
}

func TestValidatorMeshOffline(t *testing.T) {
	v := New(0)
	snap := snapWith(map[string]snapshot.Value{
		analyzer.EntityMeshOnline: snapshot.BoolValue(false),
	})

	verdicts := v.Validate(snap, analyzer.ModeState{}, []decision.Action{
		{Kind: decision.ActionForceRestartMode},
		{Kind: decision.ActionStartHeat},
		{Kind: decision.ActionStopHeat},
		{Kind: decision.ActionEmergencyStop},
	})

	assert.False(t, verdicts[0].Allowed, "valve movement needs the mesh")
	assert.False(t, verdicts[1].Allowed, "enabling heat positions valves first, so it needs the mesh")
	assert.True(t, verdicts[2].Allowed, "the heater relay itself is not on the mesh")
	assert.True(t, verdicts[3].Allowed)
}

func TestValidatorSetpointRange(t *testing.T) {
	v := New(0)

	tests := []struct {
		name    string
		params  map[string]any
		allowed bool
	}{
		{name: "in range", params: map[string]any{"setpoint_f": 98.0}, allowed: true},
		{name: "lower bound", params: map[string]any{"setpoint_f": 40.0}, allowed: true},
		{name: "upper bound", params: map[string]any{"setpoint_f": 105.0}, allowed: true},
		{name: "too cold", params: map[string]any{"setpoint_f": 35.0}, allowed: false},
		{name: "too hot", params: map[string]any{"setpoint_f": 110.0}, allowed: false},
		{name: "integer param", params: map[string]any{"setpoint_f": 90}, allowed: true},
		{name: "missing param", params: nil, allowed: false},
		{name: "non-numeric param", params: map[string]any{"setpoint_f": "hot"}, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdicts := v.Validate(snapWith(nil), analyzer.ModeState{}, []decision.Action{
				{Kind: decision.ActionSetSetpoint, Params: tt.params},
			})
			assert.Equal(t, tt.allowed, verdicts[0].Allowed, verdicts[0].Reason)
		})
	}
}

func TestValidatorHeaterNeedsPump(t *testing.T) {
	v := New(0)
	snap := snapWith(map[string]snapshot.Value{
		analyzer.EntityPump: snapshot.BoolValue(false),
	})

	verdicts := v.Validate(snap, analyzer.ModeState{}, []decision.Action{
		{Kind: decision.ActionStartHeat},
	})
	assert.False(t, verdicts[0].Allowed)

	// An absent pump entity is the same as no confirmation.
	noPump := snapshot.New(testNow, map[string]snapshot.Value{})
	verdicts = v.Validate(noPump, analyzer.ModeState{}, []decision.Action{
		{Kind: decision.ActionStartHeat},
	})
	assert.False(t, verdicts[0].Allowed)
}

func TestAllowedFilter(t *testing.T) {
	verdicts := []Verdict{
		{Action: decision.Action{Kind: decision.ActionStopHeat}, Allowed: true},
		{Action: decision.Action{Kind: decision.ActionStartHeat}, Allowed: false},
		{Action: decision.Action{Kind: decision.ActionNotify}, Allowed: true},
	}

	actions := Allowed(verdicts)
	require.Len(t, actions, 2)
	assert.Equal(t, decision.ActionStopHeat, actions[0].Kind)
	assert.Equal(t, decision.ActionNotify, actions[1].Kind)
}
