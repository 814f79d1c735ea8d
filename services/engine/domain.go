// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine drives the periodic decision cycle: snapshot, detect,
// decide, validate, gate, execute, persist. One engine instance runs one
// domain.
package engine

import (
	"github.com/lagunalabs/tidewarden/services/analyzer"
	"github.com/lagunalabs/tidewarden/services/decision"
	"github.com/lagunalabs/tidewarden/services/snapshot"
)

// Domain is the pluggable anomaly-detection capability. The pipeline
// around it (tiers, safety, gate, executor, store) is domain-agnostic;
// what varies per installation is how issues are detected and which
// catalog version the records carry.
type Domain interface {
	// Name identifies the domain in logs and records.
	Name() string

	// Detect analyzes a snapshot, threading mode-state between cycles.
	Detect(snap *snapshot.Snapshot, prior analyzer.ModeState) ([]analyzer.Issue, analyzer.ModeState)

	// CatalogVersion is the action-catalog revision records carry.
	CatalogVersion() int
}

// PoolDomain wraps the pool analyzer as the engine's Domain.
type PoolDomain struct {
	analyzer *analyzer.Analyzer
}

// NewPoolDomain builds the pool/spa domain. A nil analyzer gets the
// default expected-state table and thresholds.
func NewPoolDomain(a *analyzer.Analyzer) *PoolDomain {
	if a == nil {
		a = analyzer.New(nil, analyzer.DefaultThresholds())
	}
	return &PoolDomain{analyzer: a}
}

func (d *PoolDomain) Name() string { return "pool" }

func (d *PoolDomain) Detect(snap *snapshot.Snapshot, prior analyzer.ModeState) ([]analyzer.Issue, analyzer.ModeState) {
	return d.analyzer.Analyze(snap, prior)
}

func (d *PoolDomain) CatalogVersion() int { return decision.CatalogVersion }

// Analyzer exposes the underlying analyzer (status reporting).
func (d *PoolDomain) Analyzer() *analyzer.Analyzer { return d.analyzer }
