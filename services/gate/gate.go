// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lagunalabs/tidewarden/services/decision"
	"github.com/lagunalabs/tidewarden/services/safety"
)

// Outcome is the gate's classification of one action.
type Outcome string

const (
	AutoExecute          Outcome = "AUTO_EXECUTE"
	QueueForConfirmation Outcome = "QUEUE_FOR_CONFIRMATION"
	Reject               Outcome = "REJECT"
)

// Result pairs the outcome with its reason and, for queued actions, the
// created confirmation record.
type Result struct {
	Action       decision.Action      `json:"action"`
	Outcome      Outcome              `json:"outcome"`
	Reason       string               `json:"reason"`
	Confirmation *PendingConfirmation `json:"confirmation,omitempty"`
}

// Config tunes the gate.
type Config struct {
	// MaxAutoFixesPerHour caps unattended executions in the trailing
	// hour before downgrading to confirmation. <= 0 disables the cap.
	MaxAutoFixesPerHour int

	// RatePerKind buckets the cap by action kind instead of globally.
	RatePerKind bool

	// ConfirmationTTL is how long a queued action waits for a human
	// before expiring. Defaults to one hour.
	ConfirmationTTL time.Duration
}

// Gate mediates between automatic execution, human confirmation, and
// rejection. It owns the rate window and the confirmation queue, the
// only gate state that crosses cycle boundaries.
type Gate struct {
	cfg       Config
	whitelist *Whitelist
	window    *RateWindow
	store     *ConfirmationStore
	logger    *slog.Logger

	mu       sync.Mutex
	lastAuto map[decision.ActionKind]time.Time
}

// New builds a Gate. A nil whitelist uses the embedded revision.
func New(cfg Config, whitelist *Whitelist, logger *slog.Logger) *Gate {
	if whitelist == nil {
		whitelist = DefaultWhitelist()
	}
	if cfg.ConfirmationTTL <= 0 {
		cfg.ConfirmationTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cfg:       cfg,
		whitelist: whitelist,
		window:    NewRateWindow(cfg.MaxAutoFixesPerHour, time.Hour, cfg.RatePerKind),
		store:     NewConfirmationStore(),
		logger:    logger,
		lastAuto:  make(map[decision.ActionKind]time.Time),
	}
}

// Whitelist exposes the active whitelist (for status and audit).
func (g *Gate) Whitelist() *Whitelist { return g.whitelist }

// Confirmations exposes the confirmation queue for the API layer.
func (g *Gate) Confirmations() *ConfirmationStore { return g.store }

// Window exposes the rate limiter (read-only use in status reporting).
func (g *Gate) Window() *RateWindow { return g.window }

// Decide classifies every verdict-carrying action for this cycle, in
// order. Denied actions are rejected unconditionally; nothing the
// whitelist or any tier says can resurrect them.
func (g *Gate) Decide(verdicts []safety.Verdict, now time.Time) []Result {
	results := make([]Result, len(verdicts))
	for i, vd := range verdicts {
		results[i] = g.decideOne(vd, now)
	}
	return results
}

func (g *Gate) decideOne(vd safety.Verdict, now time.Time) Result {
	action := vd.Action

	if !vd.Allowed {
		g.logger.Warn("action rejected by safety validator",
			"kind", action.Kind, "reason", vd.Reason)
		return Result{Action: action, Outcome: Reject, Reason: vd.Reason}
	}

	// Safety actions never wait on a human and never count against the
	// auto-fix budget.
	if decision.CriticalSafety(action.Kind) {
		g.logger.Info("critical safety action auto-approved", "kind", action.Kind)
		return Result{Action: action, Outcome: AutoExecute, Reason: "critical safety action"}
	}

	if !g.whitelist.Contains(action.Kind) {
		return g.queue(action, "action kind not on the auto-fix whitelist", now)
	}

	if wait, inCooldown := g.cooldownRemaining(action.Kind, now); inCooldown {
		g.logger.Info("auto-fix in cooldown, queueing for confirmation",
			"kind", action.Kind, "remaining", wait.Round(time.Second))
		return g.queue(action, "auto-fix cooldown active", now)
	}

	if g.window.AtLimit(action.Kind, now) {
		g.logger.Warn("auto-fix rate limit reached, queueing for confirmation",
			"kind", action.Kind, "max_per_hour", g.cfg.MaxAutoFixesPerHour)
		return g.queue(action, "hourly auto-fix limit reached", now)
	}

	g.window.Record(action.Kind, now)
	g.markAuto(action.Kind, now)
	return Result{Action: action, Outcome: AutoExecute, Reason: "whitelisted auto-fix"}
}

func (g *Gate) queue(action decision.Action, reason string, now time.Time) Result {
	pc := g.store.Add(action, reason, now, now.Add(g.cfg.ConfirmationTTL))
	g.logger.Info("action queued for confirmation",
		"kind", action.Kind, "confirmation_id", pc.ID, "expires_at", pc.ExpiresAt)
	return Result{Action: action, Outcome: QueueForConfirmation, Reason: reason, Confirmation: pc}
}

func (g *Gate) cooldownRemaining(kind decision.ActionKind, now time.Time) (time.Duration, bool) {
	cooldown := g.whitelist.Cooldown(kind)
	if cooldown <= 0 {
		return 0, false
	}
	g.mu.Lock()
	last, ok := g.lastAuto[kind]
	g.mu.Unlock()
	if !ok {
		return 0, false
	}
	elapsed := now.Sub(last)
	if elapsed >= cooldown {
		return 0, false
	}
	return cooldown - elapsed, true
}

func (g *Gate) markAuto(kind decision.ActionKind, now time.Time) {
	g.mu.Lock()
	g.lastAuto[kind] = now
	g.mu.Unlock()
}

// ExpireDue sweeps the confirmation queue, logging each expiry. Expired
// confirmations are never executed.
func (g *Gate) ExpireDue(now time.Time) []PendingConfirmation {
	expired := g.store.ExpireDue(now)
	for _, pc := range expired {
		g.logger.Info("confirmation expired unresolved",
			"confirmation_id", pc.ID, "kind", pc.Action.Kind, "created_at", pc.CreatedAt)
	}
	return expired
}
