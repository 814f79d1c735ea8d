// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/lagunalabs/tidewarden/services/analyzer"
)

// RuleStage is the free deterministic tier. It settles only situations
// with an unambiguous, previously validated fix; anything structurally
// novel or multi-factor escalates.
//
// The table is fixed at compile time. It runs with zero I/O, so it has
// no timeout and its decisions always cost zero.
type RuleStage struct{}

// NewRuleStage returns the deterministic first tier.
func NewRuleStage() *RuleStage { return &RuleStage{} }

func (s *RuleStage) Tier() Tier { return TierRuleBased }

// Attempt evaluates the fixed decision table over the issue set.
func (s *RuleStage) Attempt(_ context.Context, in *Input) (*Decision, error) {
	issues := in.Issues

	if len(issues) == 0 {
		return newDecision(TierRuleBased, 0.95, "no anomalies detected"), nil
	}

	critical := analyzer.CountBySeverity(issues, analyzer.SeverityCritical)
	high := analyzer.CountBySeverity(issues, analyzer.SeverityHigh)
	distinct := analyzer.DistinctKinds(issues)

	// Structural escalation triggers: multi-factor situations are never
	// settled here.
	switch {
	case critical >= 2:
		return nil, fmt.Errorf("%w: %d critical issues", ErrDecline, critical)
	case critical >= 1 && high >= 1:
		return nil, fmt.Errorf("%w: critical plus high severity issues", ErrDecline)
	case distinct >= 3:
		return nil, fmt.Errorf("%w: %d distinct issue kinds", ErrDecline, distinct)
	}

	if len(issues) == 1 {
		if d := s.singleIssueFix(in, issues[0]); d != nil {
			return d, nil
		}
		return nil, fmt.Errorf("%w: no validated fix for single %s issue",
			ErrDecline, issues[0].Kind)
	}

	if d := s.knownCombination(issues); d != nil {
		return d, nil
	}
	return nil, fmt.Errorf("%w: unrecognized combination of %d issues",
		ErrDecline, len(issues))
}

// singleIssueFix maps one issue to its validated one-to-one fix, or nil
// when the situation needs model judgment.
func (s *RuleStage) singleIssueFix(in *Input, is analyzer.Issue) *Decision {
	switch is.Kind {
	case analyzer.KindOverheat:
		return newDecision(TierRuleBased, 1.0,
			"water dangerously hot; immediate shutdown",
			Action{Kind: ActionEmergencyStop, Targets: is.Subjects})

	case analyzer.KindFreezeRisk:
		return newDecision(TierRuleBased, 0.95,
			"freeze risk; enabling heat",
			Action{Kind: ActionStartHeat, Targets: is.Subjects})

	case analyzer.KindPumpNotRunning:
		if is.Severity == analyzer.SeverityCritical {
			return newDecision(TierRuleBased, 0.90,
				"pump off with mode active; restarting mode sequence",
				Action{
					Kind:    ActionForceRestartMode,
					Targets: is.Subjects,
					Params:  map[string]any{"mode": restartMode(in, is)},
				})
		}

	case analyzer.KindOrphanHeater:
		return newDecision(TierRuleBased, 0.95,
			"heater on without a heating mode; turning it off",
			Action{Kind: ActionStopHeat, Targets: is.Subjects})

	case analyzer.KindStartupTimeout:
		return newDecision(TierRuleBased, 0.85,
			"startup sequence lock held past its maximum; clearing",
			Action{Kind: ActionClearLock, Targets: is.Subjects})

	case analyzer.KindSensorFailure:
		return newDecision(TierRuleBased, 0.90,
			"temperature sensor failed; maintenance needed",
			NotifyAction("pool temperature sensor failure, heating is blocked until repaired"))
	}

	if is.Severity == analyzer.SeverityLow {
		return newDecision(TierRuleBased, 0.85,
			fmt.Sprintf("%s is low severity; monitoring", is.Kind))
	}
	if is.Severity == analyzer.SeverityMedium && monitorableKinds[is.Kind] {
		return newDecision(TierRuleBased, 0.80,
			fmt.Sprintf("%s warrants monitoring, not intervention", is.Kind))
	}
	return nil
}

// restartMode resolves which mode a restart action should rerun: the
// mode recorded on the issue, falling back to the snapshot.
func restartMode(in *Input, is analyzer.Issue) string {
	if mode, ok := is.Facts["mode"].(string); ok && mode != "" {
		return mode
	}
	if in.Snapshot != nil {
		if mode, ok := in.Snapshot.Enum(analyzer.EntityActiveMode); ok {
			return mode
		}
	}
	return analyzer.ModeNone
}

// monitorableKinds are medium-severity issues with no automated remedy;
// they are watched across cycles rather than acted on.
var monitorableKinds = map[analyzer.Kind]bool{
	analyzer.KindPumpSoundAnomaly:   true,
	analyzer.KindHeatingIneffective: true,
	analyzer.KindLowRuntime:         true,
}

// knownCombinations are the benign multi-issue sets the table settles as
// monitor-only.
var knownCombinations = []map[analyzer.Kind]bool{
	{analyzer.KindLowRuntime: true, analyzer.KindPreheatOpportunity: true},
	{analyzer.KindOffHoursPump: true, analyzer.KindLowRuntime: true},
}

func (s *RuleStage) knownCombination(issues []analyzer.Issue) *Decision {
	kinds := make(map[analyzer.Kind]bool, len(issues))
	names := make([]string, 0, len(issues))
	for _, is := range issues {
		if !kinds[is.Kind] {
			names = append(names, string(is.Kind))
		}
		kinds[is.Kind] = true
	}

	for _, combo := range knownCombinations {
		if len(kinds) != len(combo) {
			continue
		}
		match := true
		for k := range combo {
			if !kinds[k] {
				match = false
				break
			}
		}
		if match {
			return newDecision(TierRuleBased, 0.80,
				"known benign combination ("+strings.Join(names, ", ")+"); monitoring")
		}
	}
	return nil
}
