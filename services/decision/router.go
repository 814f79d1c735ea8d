// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrDecline is returned by a stage that cannot settle the cycle and
// defers to the next tier. Stages wrap it with the decline reason.
var ErrDecline = errors.New("stage declined")

// Stage is one tier of the escalation chain.
//
// Attempt either settles the cycle with a Decision or returns an error.
// An error wrapping ErrDecline is a normal escalation; any other error
// is treated the same way (escalate, log) because no stage failure may
// stall the control loop.
type Stage interface {
	Tier() Tier
	Attempt(ctx context.Context, in *Input) (*Decision, error)
}

// Stats tracks which tier settled each cycle, for the status endpoint
// and the periodic summary line.
type Stats struct {
	mu      sync.Mutex
	byTier  map[Tier]int
	settled int
}

// Record counts one settlement.
func (s *Stats) Record(tier Tier) (total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTier == nil {
		s.byTier = make(map[Tier]int)
	}
	s.byTier[tier]++
	s.settled++
	return s.settled
}

// Snapshot returns settled-cycle counts and per-tier percentages.
func (s *Stats) Snapshot() (total int, counts map[Tier]int, percent map[Tier]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts = make(map[Tier]int, len(s.byTier))
	percent = make(map[Tier]float64, len(s.byTier))
	for tier, n := range s.byTier {
		counts[tier] = n
		if s.settled > 0 {
			percent[tier] = float64(n) / float64(s.settled) * 100
		}
	}
	return s.settled, counts, percent
}

// Router runs the ordered stage chain for each cycle.
//
// Escalation is monotonic and unidirectional: stages run strictly in
// order, never concurrently, never backward. The first stage to settle
// wins. If every stage declines (a misconfiguration, since the cloud
// stage always settles), the router itself settles degraded.
type Router struct {
	stages []Stage
	logger *slog.Logger
	stats  Stats

	// statsEvery controls how often a tier-distribution summary is
	// logged (every N settled cycles).
	statsEvery int
}

// NewRouter builds a Router over the given stages, in escalation order.
func NewRouter(logger *slog.Logger, stages ...Stage) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{stages: stages, logger: logger, statsEvery: 10}
}

// Stats exposes the settlement counters.
func (r *Router) Stats() *Stats { return &r.stats }

// Decide runs the chain and returns the cycle's Decision. Cancellation
// is honored at stage boundaries only; an in-flight stage finishes or
// times out on its own budget.
func (r *Router) Decide(ctx context.Context, in *Input) (*Decision, error) {
	for _, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cycle cancelled before %s stage: %w", stage.Tier(), err)
		}

		d, err := stage.Attempt(ctx, in)
		if err != nil {
			if errors.Is(err, ErrDecline) {
				r.logger.Debug("stage declined, escalating",
					"tier", stage.Tier(), "reason", err.Error())
			} else {
				r.logger.Warn("stage failed, escalating",
					"tier", stage.Tier(), "error", err)
			}
			continue
		}

		r.finish(d)
		return d, nil
	}

	// Unreachable with a properly configured chain. Settle degraded
	// rather than fail the cycle.
	d := newDecision(TierCloud, 0,
		"all decision stages declined; operator attention required",
		NotifyAction("decision chain exhausted without settlement"))
	d.Degraded = true
	r.finish(d)
	return d, nil
}

// finish clamps, stamps, and counts a settled decision.
func (r *Router) finish(d *Decision) {
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}
	if d.CostUSD < 0 {
		d.CostUSD = 0
	}
	if d.ProducedAt.IsZero() {
		d.ProducedAt = time.Now().UTC()
	}

	total := r.stats.Record(d.Tier)
	if r.statsEvery > 0 && total%r.statsEvery == 0 {
		_, counts, percent := r.stats.Snapshot()
		r.logger.Info("tier distribution",
			"settled", total,
			"rule_based", counts[TierRuleBased],
			"local", counts[TierLocal],
			"cloud", counts[TierCloud],
			"rule_based_pct", fmt.Sprintf("%.1f", percent[TierRuleBased]),
			"local_pct", fmt.Sprintf("%.1f", percent[TierLocal]),
			"cloud_pct", fmt.Sprintf("%.1f", percent[TierCloud]),
		)
	}
}
