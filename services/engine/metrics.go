// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	IssuesTotal     *prometheus.CounterVec
	TierSettlements *prometheus.CounterVec
	DecisionCostUSD prometheus.Counter
	GateOutcomes    *prometheus.CounterVec
	SafetyVetoes    prometheus.Counter
	ActionFailures  prometheus.Counter
	PendingConfirms prometheus.Gauge
	DegradedCycles  prometheus.Counter
}

// NewMetrics builds and registers the collectors. A nil registerer uses
// the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewarden",
			Name:      "cycles_total",
			Help:      "Decision cycles by result.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tidewarden",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one full decision cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		IssuesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewarden",
			Name:      "issues_detected_total",
			Help:      "Issues detected by kind.",
		}, []string{"kind"}),
		TierSettlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewarden",
			Name:      "tier_settlements_total",
			Help:      "Cycles settled by each decision tier.",
		}, []string{"tier"}),
		DecisionCostUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidewarden",
			Name:      "decision_cost_usd_total",
			Help:      "Accumulated billed cost of cloud decisions.",
		}),
		GateOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewarden",
			Name:      "gate_outcomes_total",
			Help:      "Action gate classifications.",
		}, []string{"outcome"}),
		SafetyVetoes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidewarden",
			Name:      "safety_vetoes_total",
			Help:      "Actions denied by the safety validator.",
		}),
		ActionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidewarden",
			Name:      "action_failures_total",
			Help:      "Approved actions whose execution failed.",
		}),
		PendingConfirms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tidewarden",
			Name:      "pending_confirmations",
			Help:      "Actions currently awaiting human confirmation.",
		}),
		DegradedCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidewarden",
			Name:      "degraded_cycles_total",
			Help:      "Cycles settled degraded because the cloud tier failed.",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal, m.CycleDuration, m.IssuesTotal, m.TierSettlements,
		m.DecisionCostUSD, m.GateOutcomes, m.SafetyVetoes, m.ActionFailures,
		m.PendingConfirms, m.DegradedCycles,
	)
	return m
}
