// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("tidewarden.snapshot")

// Source supplies the current entity-id → value map for the installation.
// Read-only to the core: nothing downstream of a Source ever writes device
// state through it.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// stateEntry mirrors one element of the states API response.
type stateEntry struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

// RESTSource pulls the full entity state list from a Home-Assistant-style
// REST API (GET {base}/api/states, bearer token auth).
//
// # Thread Safety
//
// Safe for concurrent use; http.Client is shared and stateless.
type RESTSource struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewRESTSource creates a source for the given base URL and access token.
// The timeout bounds every Fetch; a missed deadline surfaces as
// ErrUnavailable, never as a hang.
func NewRESTSource(baseURL, token string, timeout time.Duration) (*RESTSource, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("snapshot source base URL is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTSource{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
	}, nil
}

// Fetch reads the current state list and converts it into a Snapshot.
//
// Any transport or decode failure is wrapped in ErrUnavailable so the
// engine can recognize it with errors.Is and abort the cycle gracefully.
func (s *RESTSource) Fetch(ctx context.Context) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "RESTSource.Fetch")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/states", nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("snapshot fetch failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("states API returned %d: %s", resp.StatusCode, string(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var entries []stateEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: decode states: %v", ErrUnavailable, err)
	}

	entities := make(map[string]Value, len(entries))
	for _, e := range entries {
		if e.EntityID == "" {
			continue
		}
		// "unavailable"/"unknown" entities are omitted entirely; the
		// analyzer treats absence as "sensor unavailable".
		if e.State == "unavailable" || e.State == "unknown" {
			continue
		}
		entities[e.EntityID] = ParseState(e.State)
	}

	span.SetAttributes(attribute.Int("snapshot.entities", len(entities)))
	return New(time.Now(), entities), nil
}

// StaticSource returns a fixed Snapshot on every Fetch. Used in tests and
// for offline replay of recorded states.
type StaticSource struct {
	Snapshot *Snapshot
	Err      error
}

// Fetch returns the configured snapshot or error.
func (s *StaticSource) Fetch(ctx context.Context) (*Snapshot, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Snapshot, nil
}
