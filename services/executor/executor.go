// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package executor carries out gate-approved actions against the control
// surface and records per-action outcomes. It never executes anything
// the gate did not approve, and it never retries within a cycle: a
// failed fix is retried naturally next cycle because its issue will
// still be present.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lagunalabs/tidewarden/services/analyzer"
	"github.com/lagunalabs/tidewarden/services/decision"
)

var tracer = otel.Tracer("tidewarden.executor")

// ActionResult records one execution attempt.
type ActionResult struct {
	Action     decision.Action `json:"action"`
	Success    bool            `json:"success"`
	Detail     string          `json:"detail,omitempty"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// Executor maps each action kind to its control-surface operation.
type Executor struct {
	surface ControlSurface
	timeout time.Duration
	logger  *slog.Logger
}

// New builds an Executor. timeout <= 0 defaults to 15s per action.
func New(surface ControlSurface, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{surface: surface, timeout: timeout, logger: logger}
}

// Execute runs the approved actions in order, one result each. A failure
// does not stop later actions.
func (e *Executor) Execute(ctx context.Context, actions []decision.Action) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, a := range actions {
		results = append(results, e.executeOne(ctx, a))
	}
	return results
}

func (e *Executor) executeOne(ctx context.Context, a decision.Action) ActionResult {
	ctx, span := tracer.Start(ctx, "executor.execute")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(a.Kind)))

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := e.dispatch(ctx, a)
	result := ActionResult{Action: a, Success: err == nil, ExecutedAt: time.Now().UTC()}
	if err != nil {
		result.Detail = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "action failed")
		e.logger.Error("action execution failed", "kind", a.Kind, "error", err)
	} else {
		e.logger.Info("action executed", "kind", a.Kind, "targets", a.Targets)
	}
	return result
}

func (e *Executor) dispatch(ctx context.Context, a decision.Action) error {
	switch a.Kind {
	case decision.ActionEmergencyStop:
		return e.surface.EmergencyStop(ctx)

	case decision.ActionStartHeat:
		return e.surface.SetHeater(ctx, true)

	case decision.ActionStopHeat:
		return e.surface.SetHeater(ctx, false)

	case decision.ActionForceRestartMode:
		mode := stringParam(a.Params, "mode")
		if mode == "" || mode == analyzer.ModeNone {
			return fmt.Errorf("force restart needs a mode parameter")
		}
		return e.surface.RestartMode(ctx, mode)

	case decision.ActionClearLock:
		return e.surface.ClearSequenceLock(ctx)

	case decision.ActionSetSetpoint:
		setpoint, ok := a.Params["setpoint_f"].(float64)
		if !ok {
			return fmt.Errorf("setpoint action missing setpoint_f parameter")
		}
		return e.surface.SetSetpoint(ctx, setpoint)

	case decision.ActionNotify:
		message := stringParam(a.Params, "message")
		if message == "" {
			message = "tidewarden requires attention"
		}
		return e.surface.Notify(ctx, message)

	default:
		// Unreachable for catalog-validated actions.
		return fmt.Errorf("no operation for action kind %q", a.Kind)
	}
}

func stringParam(params map[string]any, key string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}
