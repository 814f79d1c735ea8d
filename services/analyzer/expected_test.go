// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analyzer

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultExpectedTable(t *testing.T) {
	table := DefaultExpectedTable()
	assert.Equal(t, 3, table.Version())
	assert.Len(t, table.Checksum(), 64)

	// Every mode except none must be present with a full valve signature.
	for _, mode := range allModes {
		exp, ok := table.ForMode(mode)
		require.True(t, ok, "mode %s missing from embedded table", mode)
		assert.True(t, exp.Pump, "every active mode runs the pump")
		assert.NotEmpty(t, exp.Valves)
	}

	_, ok := table.ForMode(ModeNone)
	assert.False(t, ok)

	hot, _ := table.ForMode(ModeHotTubHeat)
	assert.True(t, hot.Heater)
	assert.True(t, hot.Valves["spa_suction"])

	skim, _ := table.ForMode(ModePoolSkimmer)
	assert.False(t, skim.Heater)
	assert.True(t, skim.Valves["skimmer"])
}

func TestExpectedTableReload(t *testing.T) {
	table := DefaultExpectedTable()

	err := table.Reload([]byte(`
version: 4
modes:
  pool_heat:
    pump: true
    heater: true
    valves:
      pool_suction: true
`))
	require.NoError(t, err)
	assert.Equal(t, 4, table.Version())

	_, ok := table.ForMode(ModePoolVacuum)
	assert.False(t, ok, "reload replaces the whole table")
}

func TestExpectedTableReloadRejectsBadData(t *testing.T) {
	table := DefaultExpectedTable()

	assert.Error(t, table.Reload([]byte("not: [valid")))
	assert.Error(t, table.Reload([]byte("version: 9\nmodes: {}")))

	// Failed reloads keep the previous revision intact.
	assert.Equal(t, 3, table.Version())
	_, ok := table.ForMode(ModePoolHeat)
	assert.True(t, ok)
}

func TestExpectedTableWatchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expected_states.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 10
modes:
  pool_heat:
    pump: true
    heater: true
    valves:
      pool_suction: true
`), 0o644))

	table := DefaultExpectedTable()
	stop, err := table.WatchFile(path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer stop()

	assert.Equal(t, 10, table.Version())

	require.NoError(t, os.WriteFile(path, []byte(`
version: 11
modes:
  pool_heat:
    pump: true
    heater: true
    valves:
      pool_suction: true
`), 0o644))

	require.Eventually(t, func() bool {
		return table.Version() == 11
	}, 2*time.Second, 20*time.Millisecond, "watcher must pick up the rewrite")

	// A malformed rewrite is rejected and the table keeps serving.
	require.NoError(t, os.WriteFile(path, []byte("broken: ["), 0o644))
	assert.Never(t, func() bool {
		return table.Version() != 11
	}, 300*time.Millisecond, 50*time.Millisecond)
}

func TestWatchFileMissingPath(t *testing.T) {
	table := DefaultExpectedTable()
	_, err := table.WatchFile(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}
