// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"sort"
	"time"

	"github.com/lagunalabs/tidewarden/services/decision"
	"github.com/lagunalabs/tidewarden/services/gate"
)

// CostReport aggregates the audit trail over a time range: what the
// escalation protocol actually spent and how it behaved.
type CostReport struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	Cycles       int                   `json:"cycles"`
	ByTier       map[decision.Tier]int `json:"by_tier"`
	TotalCostUSD float64               `json:"total_cost_usd"`
	Degraded     int                   `json:"degraded"`

	ActionsExecuted int `json:"actions_executed"`
	ActionsFailed   int `json:"actions_failed"`
	SafetyVetoes    int `json:"safety_vetoes"`
	Confirmations   int `json:"confirmations_queued"`

	Days []DayStats `json:"days,omitempty"`
}

// DayStats is the per-day rollup inside a report.
type DayStats struct {
	Date         string  `json:"date"` // YYYY-MM-DD
	Cycles       int     `json:"cycles"`
	CloudCalls   int     `json:"cloud_calls"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Issues       int     `json:"issues"`
}

// Report scans the range and aggregates.
func (s *Store) Report(ctx context.Context, from, to time.Time) (*CostReport, error) {
	records, err := s.Range(ctx, from, to)
	if err != nil {
		return nil, err
	}

	report := &CostReport{
		From:   from,
		To:     to,
		ByTier: make(map[decision.Tier]int),
	}
	days := make(map[string]*DayStats)

	for i := range records {
		rec := &records[i]

		// Confirmation addenda carry action outcomes but are not cycles.
		if rec.ConfirmationID != "" {
			for _, vd := range rec.Verdicts {
				if !vd.Allowed {
					report.SafetyVetoes++
				}
			}
			for _, ar := range rec.ActionResults {
				if ar.Success {
					report.ActionsExecuted++
				} else {
					report.ActionsFailed++
				}
			}
			continue
		}

		report.Cycles++
		report.ByTier[rec.Decision.Tier]++
		report.TotalCostUSD += rec.Decision.CostUSD
		if rec.Decision.Degraded {
			report.Degraded++
		}
		for _, vd := range rec.Verdicts {
			if !vd.Allowed {
				report.SafetyVetoes++
			}
		}
		for _, gr := range rec.GateResults {
			if gr.Outcome == gate.QueueForConfirmation {
				report.Confirmations++
			}
		}
		for _, ar := range rec.ActionResults {
			if ar.Success {
				report.ActionsExecuted++
			} else {
				report.ActionsFailed++
			}
		}

		date := rec.CycleAt.UTC().Format("2006-01-02")
		day, ok := days[date]
		if !ok {
			day = &DayStats{Date: date}
			days[date] = day
		}
		day.Cycles++
		day.Issues += len(rec.Issues)
		day.TotalCostUSD += rec.Decision.CostUSD
		if rec.Decision.Tier == decision.TierCloud && !rec.Decision.Degraded {
			day.CloudCalls++
		}
	}

	for _, day := range days {
		report.Days = append(report.Days, *day)
	}
	sort.Slice(report.Days, func(i, j int) bool {
		return report.Days[i].Date < report.Days[j].Date
	})
	return report, nil
}
