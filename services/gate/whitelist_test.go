// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagunalabs/tidewarden/services/decision"
)

func TestDefaultWhitelist(t *testing.T) {
	wl := DefaultWhitelist()

	assert.Equal(t, 2, wl.Version())
	assert.Len(t, wl.Checksum(), 64, "sha256 hex digest")

	assert.True(t, wl.Contains(decision.ActionStopHeat))
	assert.True(t, wl.Contains(decision.ActionClearLock))
	assert.False(t, wl.Contains(decision.ActionSetSetpoint),
		"setpoint changes always need a human")
	assert.False(t, wl.Contains(decision.ActionEmergencyStop),
		"emergency stop is handled by the critical-safety bypass, not the whitelist")

	assert.Equal(t, 30*time.Minute, wl.Cooldown(decision.ActionForceRestartMode))
	assert.Zero(t, wl.Cooldown(decision.ActionNotify))
}

func TestParseWhitelistRejectsUnknownKind(t *testing.T) {
	_, err := ParseWhitelist([]byte(`
version: 1
auto_execute:
  - kind: LAUNCH_FIREWORKS
    cooldown_seconds: 60
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LAUNCH_FIREWORKS")
}

func TestParseWhitelistRejectsEmptyAndBroken(t *testing.T) {
	_, err := ParseWhitelist([]byte("version: 1\nauto_execute: []"))
	assert.Error(t, err)

	_, err = ParseWhitelist([]byte("not: [yaml"))
	assert.Error(t, err)

	_, err = ParseWhitelist([]byte(`
version: 1
auto_execute:
  - kind: STOP_HEAT
    cooldown_seconds: -5
`))
	assert.Error(t, err)
}

func TestWhitelistChecksumTracksContent(t *testing.T) {
	a, err := ParseWhitelist([]byte("version: 1\nauto_execute:\n  - kind: STOP_HEAT\n"))
	require.NoError(t, err)
	b, err := ParseWhitelist([]byte("version: 2\nauto_execute:\n  - kind: STOP_HEAT\n"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Checksum(), b.Checksum())
}

func TestRateWindow(t *testing.T) {
	t.Run("global bucket", func(t *testing.T) {
		w := NewRateWindow(2, time.Hour, false)
		w.Record(decision.ActionStopHeat, gateNow)
		w.Record(decision.ActionStartHeat, gateNow.Add(time.Minute))

		assert.True(t, w.AtLimit(decision.ActionClearLock, gateNow.Add(2*time.Minute)),
			"global bucket counts every kind together")
		assert.False(t, w.AtLimit(decision.ActionClearLock, gateNow.Add(61*time.Minute)),
			"events fall out of the trailing window")
	})

	t.Run("per-kind buckets", func(t *testing.T) {
		w := NewRateWindow(1, time.Hour, true)
		w.Record(decision.ActionStopHeat, gateNow)

		assert.True(t, w.AtLimit(decision.ActionStopHeat, gateNow.Add(time.Minute)))
		assert.False(t, w.AtLimit(decision.ActionStartHeat, gateNow.Add(time.Minute)))
	})

	t.Run("unlimited when limit is zero", func(t *testing.T) {
		w := NewRateWindow(0, time.Hour, false)
		for i := 0; i < 50; i++ {
			w.Record(decision.ActionNotify, gateNow)
		}
		assert.False(t, w.AtLimit(decision.ActionNotify, gateNow))
	})
}
