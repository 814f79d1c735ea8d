// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Value
	}{
		{"on flag", "on", BoolValue(true)},
		{"off flag", "off", BoolValue(false)},
		{"true literal", "true", BoolValue(true)},
		{"temperature", "102.5", NumberValue(102.5)},
		{"integer", "42", NumberValue(42)},
		{"mode name", "hot_tub_heat", EnumValue("hot_tub_heat")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseState(tc.raw))
		})
	}
}

func TestSnapshotAccessors(t *testing.T) {
	entities := map[string]Value{
		"sensor.pool_water_temperature": NumberValue(81),
		"switch.pool_pump":              BoolValue(true),
		"select.pool_active_mode":       EnumValue("pool_heat"),
	}
	snap := New(time.Now(), entities)

	// Mutating the source map must not affect the snapshot.
	entities["switch.pool_pump"] = BoolValue(false)

	temp, ok := snap.Number("sensor.pool_water_temperature")
	require.True(t, ok)
	assert.Equal(t, 81.0, temp)

	assert.True(t, snap.On("switch.pool_pump"))
	assert.False(t, snap.On("switch.pool_heater")) // absent

	mode, ok := snap.Enum("select.pool_active_mode")
	require.True(t, ok)
	assert.Equal(t, "pool_heat", mode)

	// Kind mismatches report not-ok rather than zero values.
	_, ok = snap.Number("switch.pool_pump")
	assert.False(t, ok)

	assert.Equal(t, []string{
		"select.pool_active_mode",
		"sensor.pool_water_temperature",
		"switch.pool_pump",
	}, snap.EntityIDs())

	summary := snap.Summary()
	assert.Equal(t, "81", summary["sensor.pool_water_temperature"])
	assert.Equal(t, "on", summary["switch.pool_pump"])
}

func TestRESTSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/states", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"entity_id":"sensor.pool_water_temperature","state":"79.4"},
			{"entity_id":"switch.pool_pump","state":"on"},
			{"entity_id":"sensor.pool_pump_sound_level","state":"unavailable"},
			{"entity_id":"select.pool_active_mode","state":"pool_skimmer"}
		]`))
	}))
	defer srv.Close()

	source, err := NewRESTSource(srv.URL, "secret", 5*time.Second)
	require.NoError(t, err)

	snap, err := source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len(), "unavailable entity must be omitted")

	temp, ok := snap.Number("sensor.pool_water_temperature")
	require.True(t, ok)
	assert.InDelta(t, 79.4, temp, 0.001)
	assert.True(t, snap.On("switch.pool_pump"))
}

func TestRESTSourceUnavailable(t *testing.T) {
	// Server that is already closed: transport error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	source, err := NewRESTSource(srv.URL, "", time.Second)
	require.NoError(t, err)

	_, err = source.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestRESTSourceBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	source, err := NewRESTSource(srv.URL, "", time.Second)
	require.NoError(t, err)

	_, err = source.Fetch(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestNewRESTSourceValidation(t *testing.T) {
	_, err := NewRESTSource("", "", time.Second)
	assert.Error(t, err)
}
