// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagunalabs/tidewarden/services/analyzer"
)

func issue(kind analyzer.Kind, sev analyzer.Severity) analyzer.Issue {
	return analyzer.Issue{
		Kind:       kind,
		Severity:   sev,
		DetectedAt: time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestRuleStageNoIssues(t *testing.T) {
	d, err := NewRuleStage().Attempt(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, TierRuleBased, d.Tier)
	assert.Empty(t, d.Actions)
	assert.InDelta(t, 0.95, d.Confidence, 1e-9)
	assert.Zero(t, d.CostUSD)
}

func TestRuleStageEscalationTriggers(t *testing.T) {
	tests := []struct {
		name   string
		issues []analyzer.Issue
	}{
		{
			name: "two critical issues",
			issues: []analyzer.Issue{
				issue(analyzer.KindOverheat, analyzer.SeverityCritical),
				issue(analyzer.KindPumpNotRunning, analyzer.SeverityCritical),
			},
		},
		{
			name: "critical plus high",
			issues: []analyzer.Issue{
				issue(analyzer.KindFreezeRisk, analyzer.SeverityCritical),
				issue(analyzer.KindValveMismatch, analyzer.SeverityHigh),
			},
		},
		{
			name: "three distinct kinds",
			issues: []analyzer.Issue{
				issue(analyzer.KindLowRuntime, analyzer.SeverityMedium),
				issue(analyzer.KindOffHoursPump, analyzer.SeverityLow),
				issue(analyzer.KindPumpSoundAnomaly, analyzer.SeverityMedium),
			},
		},
		{
			name: "unrecognized single high issue",
			issues: []analyzer.Issue{
				issue(analyzer.KindValveMismatch, analyzer.SeverityHigh),
			},
		},
		{
			name: "unknown pair",
			issues: []analyzer.Issue{
				issue(analyzer.KindValveMismatch, analyzer.SeverityHigh),
				issue(analyzer.KindHeaterNotOn, analyzer.SeverityHigh),
			},
		},
	}

	stage := NewRuleStage()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := stage.Attempt(context.Background(), &Input{Issues: tt.issues})
			assert.Nil(t, d)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecline)
		})
	}
}

func TestRuleStageSingleIssueFixes(t *testing.T) {
	tests := []struct {
		name      string
		issue     analyzer.Issue
		wantKind  ActionKind
		wantConf  float64
		noActions bool
	}{
		{
			name:     "overheat triggers emergency stop at full confidence",
			issue:    issue(analyzer.KindOverheat, analyzer.SeverityCritical),
			wantKind: ActionEmergencyStop,
			wantConf: 1.0,
		},
		{
			name:     "freeze risk enables heat",
			issue:    issue(analyzer.KindFreezeRisk, analyzer.SeverityCritical),
			wantKind: ActionStartHeat,
			wantConf: 0.95,
		},
		{
			name:     "critical pump outage restarts the mode",
			issue:    issue(analyzer.KindPumpNotRunning, analyzer.SeverityCritical),
			wantKind: ActionForceRestartMode,
			wantConf: 0.90,
		},
		{
			name:     "orphan heater is shut off",
			issue:    issue(analyzer.KindOrphanHeater, analyzer.SeverityHigh),
			wantKind: ActionStopHeat,
			wantConf: 0.95,
		},
		{
			name:     "stuck startup lock is cleared",
			issue:    issue(analyzer.KindStartupTimeout, analyzer.SeverityHigh),
			wantKind: ActionClearLock,
			wantConf: 0.85,
		},
		{
			name:     "sensor failure notifies maintenance",
			issue:    issue(analyzer.KindSensorFailure, analyzer.SeverityCritical),
			wantKind: ActionNotify,
			wantConf: 0.90,
		},
		{
			name:      "low severity is monitored",
			issue:     issue(analyzer.KindPreheatOpportunity, analyzer.SeverityLow),
			noActions: true,
			wantConf:  0.85,
		},
		{
			name:      "known medium severity is monitored",
			issue:     issue(analyzer.KindHeatingIneffective, analyzer.SeverityMedium),
			noActions: true,
			wantConf:  0.80,
		},
	}

	stage := NewRuleStage()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := stage.Attempt(context.Background(), &Input{Issues: []analyzer.Issue{tt.issue}})
			require.NoError(t, err)
			assert.Equal(t, TierRuleBased, d.Tier)
			assert.InDelta(t, tt.wantConf, d.Confidence, 1e-9)
			assert.Zero(t, d.CostUSD, "rule-based decisions never cost anything")
			if tt.noActions {
				assert.Empty(t, d.Actions)
			} else {
				require.Len(t, d.Actions, 1)
				assert.Equal(t, tt.wantKind, d.Actions[0].Kind)
			}
		})
	}
}

func TestRuleStageKnownCombinations(t *testing.T) {
	stage := NewRuleStage()

	d, err := stage.Attempt(context.Background(), &Input{Issues: []analyzer.Issue{
		issue(analyzer.KindLowRuntime, analyzer.SeverityMedium),
		issue(analyzer.KindPreheatOpportunity, analyzer.SeverityLow),
	}})
	require.NoError(t, err)
	assert.Empty(t, d.Actions)
	assert.InDelta(t, 0.80, d.Confidence, 1e-9)

	d, err = stage.Attempt(context.Background(), &Input{Issues: []analyzer.Issue{
		issue(analyzer.KindOffHoursPump, analyzer.SeverityLow),
		issue(analyzer.KindLowRuntime, analyzer.SeverityMedium),
	}})
	require.NoError(t, err)
	assert.Empty(t, d.Actions)
}

func TestActionCatalog(t *testing.T) {
	assert.True(t, KnownKind(ActionEmergencyStop))
	assert.True(t, KnownKind(ActionNotify))
	assert.False(t, KnownKind(ActionKind("REBOOT_EVERYTHING")))

	assert.True(t, CriticalSafety(ActionEmergencyStop))
	assert.False(t, CriticalSafety(ActionStartHeat))
}
