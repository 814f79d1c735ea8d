// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagunalabs/tidewarden/services/analyzer"
)

type serviceCall struct {
	path    string
	payload map[string]any
}

func surfaceServer(t *testing.T, calls *[]serviceCall) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		*calls = append(*calls, serviceCall{path: r.URL.Path, payload: payload})
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRESTSurfaceEmergencyStop(t *testing.T) {
	var calls []serviceCall
	srv := surfaceServer(t, &calls)
	defer srv.Close()

	surface := NewRESTSurface(srv.URL, "test-token", time.Second)
	require.NoError(t, surface.EmergencyStop(context.Background()))

	require.Len(t, calls, 3)
	assert.Equal(t, "/api/services/switch/turn_off", calls[0].path)
	assert.Equal(t, analyzer.EntityPump, calls[0].payload["entity_id"])
	assert.Equal(t, analyzer.EntityHeater, calls[1].payload["entity_id"])
	assert.Equal(t, "/api/services/select/select_option", calls[2].path)
	assert.Equal(t, analyzer.ModeNone, calls[2].payload["option"])
}

func TestRESTSurfaceRestartMode(t *testing.T) {
	var calls []serviceCall
	srv := surfaceServer(t, &calls)
	defer srv.Close()

	surface := NewRESTSurface(srv.URL, "test-token", time.Second)
	require.NoError(t, surface.RestartMode(context.Background(), analyzer.ModePoolHeat))

	require.Len(t, calls, 2)
	assert.Equal(t, analyzer.ModeNone, calls[0].payload["option"], "mode drops to none first")
	assert.Equal(t, analyzer.ModePoolHeat, calls[1].payload["option"])
}

func TestRESTSurfaceSetpointAndHeater(t *testing.T) {
	var calls []serviceCall
	srv := surfaceServer(t, &calls)
	defer srv.Close()

	surface := NewRESTSurface(srv.URL, "test-token", time.Second)
	require.NoError(t, surface.SetSetpoint(context.Background(), 98))
	require.NoError(t, surface.SetHeater(context.Background(), true))

	require.Len(t, calls, 2)
	assert.Equal(t, "/api/services/number/set_value", calls[0].path)
	assert.Equal(t, 98.0, calls[0].payload["value"])
	assert.Equal(t, "/api/services/switch/turn_on", calls[1].path)
}

func TestRESTSurfaceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service not found", http.StatusNotFound)
	}))
	defer srv.Close()

	surface := NewRESTSurface(srv.URL, "test-token", time.Second)
	err := surface.ClearSequenceLock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSplitService(t *testing.T) {
	domain, service, ok := splitService("notify.mobile_app_phone")
	require.True(t, ok)
	assert.Equal(t, "notify", domain)
	assert.Equal(t, "mobile_app_phone", service)

	_, _, ok = splitService("noservicehere")
	assert.False(t, ok)
	_, _, ok = splitService(".leading")
	assert.False(t, ok)
}
