// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lagunalabs/tidewarden/services/analyzer"
)

// ControlSurface is the external collaborator that touches equipment.
// One operation per action kind; every operation must be idempotent
// (stopping a stopped pump is a no-op, not an error).
type ControlSurface interface {
	// EmergencyStop shuts down pump and heater and drops to mode none.
	EmergencyStop(ctx context.Context) error

	// SetHeater turns the heater relay on or off.
	SetHeater(ctx context.Context, on bool) error

	// RestartMode cycles the active mode to rerun its startup sequence.
	RestartMode(ctx context.Context, mode string) error

	// ClearSequenceLock force-clears a stuck startup lock.
	ClearSequenceLock(ctx context.Context) error

	// SetSetpoint changes the heater target temperature.
	SetSetpoint(ctx context.Context, tempF float64) error

	// Notify delivers an operator notification.
	Notify(ctx context.Context, message string) error
}

// RESTSurface drives the installation through the controller's REST
// service API.
type RESTSurface struct {
	baseURL string
	token   string
	client  *http.Client

	// NotifyService is the notification service name, e.g.
	// "notify.mobile_app_phone".
	NotifyService string
}

// NewRESTSurface builds a surface. timeout <= 0 defaults to 10s per call.
func NewRESTSurface(baseURL, token string, timeout time.Duration) *RESTSurface {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTSurface{
		baseURL:       baseURL,
		token:         token,
		client:        &http.Client{Timeout: timeout},
		NotifyService: "notify.notify",
	}
}

func (s *RESTSurface) EmergencyStop(ctx context.Context) error {
	// Three independent idempotent writes; the first failure aborts so
	// the failed step is retried next cycle.
	if err := s.callService(ctx, "switch", "turn_off", map[string]any{
		"entity_id": analyzer.EntityPump,
	}); err != nil {
		return fmt.Errorf("emergency stop pump: %w", err)
	}
	if err := s.callService(ctx, "switch", "turn_off", map[string]any{
		"entity_id": analyzer.EntityHeater,
	}); err != nil {
		return fmt.Errorf("emergency stop heater: %w", err)
	}
	if err := s.callService(ctx, "select", "select_option", map[string]any{
		"entity_id": analyzer.EntityActiveMode,
		"option":    analyzer.ModeNone,
	}); err != nil {
		return fmt.Errorf("emergency stop mode reset: %w", err)
	}
	return nil
}

func (s *RESTSurface) SetHeater(ctx context.Context, on bool) error {
	service := "turn_off"
	if on {
		service = "turn_on"
	}
	return s.callService(ctx, "switch", service, map[string]any{
		"entity_id": analyzer.EntityHeater,
	})
}

func (s *RESTSurface) RestartMode(ctx context.Context, mode string) error {
	if err := s.callService(ctx, "select", "select_option", map[string]any{
		"entity_id": analyzer.EntityActiveMode,
		"option":    analyzer.ModeNone,
	}); err != nil {
		return fmt.Errorf("restart mode off phase: %w", err)
	}
	return s.callService(ctx, "select", "select_option", map[string]any{
		"entity_id": analyzer.EntityActiveMode,
		"option":    mode,
	})
}

func (s *RESTSurface) ClearSequenceLock(ctx context.Context) error {
	return s.callService(ctx, "tidewarden", "clear_sequence_lock", map[string]any{
		"entity_id": analyzer.EntitySequenceLock,
	})
}

func (s *RESTSurface) SetSetpoint(ctx context.Context, tempF float64) error {
	return s.callService(ctx, "number", "set_value", map[string]any{
		"entity_id": analyzer.EntityHeaterTarget,
		"value":     tempF,
	})
}

func (s *RESTSurface) Notify(ctx context.Context, message string) error {
	domain, service, ok := splitService(s.NotifyService)
	if !ok {
		return fmt.Errorf("invalid notify service %q", s.NotifyService)
	}
	return s.callService(ctx, domain, service, map[string]any{
		"message": message,
		"title":   "Tidewarden",
	})
}

func splitService(name string) (domain, service string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i], name[i+1:], i > 0 && i < len(name)-1
		}
	}
	return "", "", false
}

// callService POSTs one service call. Non-2xx responses are errors.
func (s *RESTSurface) callService(ctx context.Context, domain, service string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal service payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/services/%s/%s", s.baseURL, domain, service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build service request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", domain, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s.%s returned %d: %s", domain, service, resp.StatusCode, string(detail))
	}
	return nil
}
