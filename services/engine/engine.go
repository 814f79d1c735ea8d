// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lagunalabs/tidewarden/services/analyzer"
	"github.com/lagunalabs/tidewarden/services/decision"
	"github.com/lagunalabs/tidewarden/services/executor"
	"github.com/lagunalabs/tidewarden/services/gate"
	"github.com/lagunalabs/tidewarden/services/safety"
	"github.com/lagunalabs/tidewarden/services/snapshot"
	"github.com/lagunalabs/tidewarden/services/store"
)

var tracer = otel.Tracer("tidewarden.engine")

// consecutiveErrorAlert is how many back-to-back failed cycles trigger
// an operator notification.
const consecutiveErrorAlert = 3

// CycleOutcome summarizes one completed cycle for the status endpoint.
type CycleOutcome struct {
	At         time.Time     `json:"at"`
	Duration   time.Duration `json:"duration"`
	Issues     int           `json:"issues"`
	Tier       decision.Tier `json:"tier,omitempty"`
	Degraded   bool          `json:"degraded,omitempty"`
	CostUSD    float64       `json:"cost_usd"`
	Executed   int           `json:"executed"`
	Queued     int           `json:"queued"`
	Rejected   int           `json:"rejected"`
	Err        string        `json:"error,omitempty"`
	NoSnapshot bool          `json:"no_snapshot,omitempty"`
}

// Engine wires the pipeline and owns all state that crosses cycle
// boundaries: the analyzer's mode-state, the gate's rate window and
// confirmation queue, and the consecutive-error counter.
type Engine struct {
	source    snapshot.Source
	domain    Domain
	router    *decision.Router
	validator *safety.Validator
	gate      *gate.Gate
	executor  *executor.Executor
	store     *store.Store
	logger    *slog.Logger
	metrics   *Metrics
	history   *History
	interval  time.Duration

	mu        sync.Mutex
	running   bool
	modeState analyzer.ModeState
	errStreak int
	lastSnap  *snapshot.Snapshot
}

// Options collects the engine's collaborators.
type Options struct {
	Source    snapshot.Source
	Domain    Domain
	Router    *decision.Router
	Validator *safety.Validator
	Gate      *gate.Gate
	Executor  *executor.Executor
	Store     *store.Store
	Logger    *slog.Logger
	Metrics   *Metrics
	Interval  time.Duration

	// HistorySize bounds the in-memory recent-cycle buffer.
	HistorySize int
}

// New assembles an Engine. All collaborators except Logger and Metrics
// are required.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("engine needs a snapshot source")
	case opts.Domain == nil:
		return nil, errors.New("engine needs a domain")
	case opts.Router == nil:
		return nil, errors.New("engine needs a router")
	case opts.Validator == nil:
		return nil, errors.New("engine needs a safety validator")
	case opts.Gate == nil:
		return nil, errors.New("engine needs a gate")
	case opts.Executor == nil:
		return nil, errors.New("engine needs an executor")
	case opts.Store == nil:
		return nil, errors.New("engine needs a decision store")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 48
	}
	return &Engine{
		source:    opts.Source,
		domain:    opts.Domain,
		router:    opts.Router,
		validator: opts.Validator,
		gate:      opts.Gate,
		executor:  opts.Executor,
		store:     opts.Store,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		history:   NewHistory(opts.HistorySize),
		interval:  opts.Interval,
	}, nil
}

// Gate exposes the gate for the API layer.
func (e *Engine) Gate() *gate.Gate { return e.gate }

// Store exposes the audit trail for the API layer.
func (e *Engine) Store() *store.Store { return e.store }

// Router exposes the router (tier stats for status).
func (e *Engine) Router() *decision.Router { return e.router }

// History exposes recent cycle outcomes.
func (e *Engine) History() *History { return e.history }

// Domain exposes the active domain.
func (e *Engine) Domain() Domain { return e.domain }

// Run drives cycles at the configured interval until ctx is cancelled.
// Cycles never overlap: the ticker fires into a sequential loop, and a
// tick that arrives mid-cycle is simply the next iteration's trigger.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		"domain", e.domain.Name(), "interval", e.interval)
	e.notify(ctx, fmt.Sprintf("tidewarden online, watching %s every %s",
		e.domain.Name(), e.interval))

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	// First cycle immediately; waiting a full interval after startup
	// helps nobody.
	e.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full cycle. Exported for the API's manual
// trigger; the overlap guard makes concurrent calls a no-op.
func (e *Engine) RunCycle(ctx context.Context) CycleOutcome {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Warn("cycle still in flight, skipping trigger")
		return CycleOutcome{Err: "cycle already running"}
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	started := time.Now()
	outcome := e.cycle(ctx)
	outcome.Duration = time.Since(started)
	if outcome.At.IsZero() {
		outcome.At = started.UTC()
	}

	e.observe(outcome)
	e.history.Add(outcome)
	e.trackErrors(ctx, outcome)
	return outcome
}

func (e *Engine) cycle(ctx context.Context) CycleOutcome {
	ctx, span := tracer.Start(ctx, "engine.cycle")
	defer span.End()

	// Expire stale confirmations first so an approval racing this
	// cycle cannot resurrect a dead action.
	e.gate.ExpireDue(time.Now())

	snap, err := e.source.Fetch(ctx)
	if err != nil {
		// No snapshot means no issues detectable: end early, logged,
		// without escalation.
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot unavailable")
		e.logger.Warn("snapshot unavailable, cycle ends early", "error", err)
		return CycleOutcome{NoSnapshot: true, Err: err.Error()}
	}
	outcome := CycleOutcome{At: snap.Taken()}

	e.mu.Lock()
	prior := e.modeState
	e.mu.Unlock()

	issues, nextState := e.domain.Detect(snap, prior)
	outcome.Issues = len(issues)
	span.SetAttributes(attribute.Int("issues", len(issues)))
	if e.metrics != nil {
		for _, is := range issues {
			e.metrics.IssuesTotal.WithLabelValues(string(is.Kind)).Inc()
		}
	}

	e.mu.Lock()
	e.modeState = nextState
	e.lastSnap = snap
	e.mu.Unlock()

	d, err := e.router.Decide(ctx, &decision.Input{Snapshot: snap, Issues: issues})
	if err != nil {
		// Only cancellation reaches here; the router settles everything
		// else.
		span.RecordError(err)
		outcome.Err = err.Error()
		return outcome
	}
	outcome.Tier = d.Tier
	outcome.Degraded = d.Degraded
	outcome.CostUSD = d.CostUSD

	verdicts := e.validator.Validate(snap, nextState, d.Actions)
	results := e.gate.Decide(verdicts, time.Now())

	var approved []decision.Action
	for _, r := range results {
		switch r.Outcome {
		case gate.AutoExecute:
			approved = append(approved, r.Action)
		case gate.QueueForConfirmation:
			outcome.Queued++
		case gate.Reject:
			outcome.Rejected++
		}
	}

	actionResults := e.executor.Execute(ctx, approved)
	for _, ar := range actionResults {
		if ar.Success {
			outcome.Executed++
		} else if e.metrics != nil {
			e.metrics.ActionFailures.Inc()
		}
	}

	rec := &store.DecisionRecord{
		CycleAt:          snap.Taken(),
		SnapshotSummary:  snap.Summary(),
		Issues:           issues,
		Decision:         *d,
		Verdicts:         verdicts,
		GateResults:      results,
		ActionResults:    actionResults,
		CatalogVersion:   e.domain.CatalogVersion(),
		WhitelistVersion: e.gate.Whitelist().Version(),
	}
	if err := e.store.Append(ctx, rec); err != nil {
		span.RecordError(err)
		e.logger.Error("failed to persist decision record", "error", err)
		outcome.Err = err.Error()
	}

	e.logger.Info("cycle complete",
		"issues", outcome.Issues,
		"tier", d.Tier,
		"confidence", d.Confidence,
		"cost_usd", d.CostUSD,
		"executed", outcome.Executed,
		"queued", outcome.Queued,
		"rejected", outcome.Rejected,
	)
	return outcome
}

// observe updates metrics for one outcome.
func (e *Engine) observe(o CycleOutcome) {
	if e.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case o.NoSnapshot:
		result = "no_snapshot"
	case o.Err != "":
		result = "error"
	}
	e.metrics.CyclesTotal.WithLabelValues(result).Inc()
	e.metrics.CycleDuration.Observe(o.Duration.Seconds())
	if o.Tier != "" {
		e.metrics.TierSettlements.WithLabelValues(string(o.Tier)).Inc()
	}
	if o.Degraded {
		e.metrics.DegradedCycles.Inc()
	}
	e.metrics.DecisionCostUSD.Add(o.CostUSD)
	e.metrics.GateOutcomes.WithLabelValues(string(gate.AutoExecute)).Add(float64(o.Executed))
	e.metrics.GateOutcomes.WithLabelValues(string(gate.QueueForConfirmation)).Add(float64(o.Queued))
	e.metrics.GateOutcomes.WithLabelValues(string(gate.Reject)).Add(float64(o.Rejected))
	e.metrics.SafetyVetoes.Add(float64(o.Rejected))

	pending := 0
	for _, pc := range e.gate.Confirmations().List() {
		if pc.Status == gate.StatusPending {
			pending++
		}
	}
	e.metrics.PendingConfirms.Set(float64(pending))
}

// trackErrors alerts the operator after repeated failed cycles, once per
// streak.
func (e *Engine) trackErrors(ctx context.Context, o CycleOutcome) {
	e.mu.Lock()
	if o.Err == "" {
		e.errStreak = 0
		e.mu.Unlock()
		return
	}
	e.errStreak++
	streak := e.errStreak
	e.mu.Unlock()

	if streak == consecutiveErrorAlert {
		e.logger.Error("repeated cycle failures", "streak", streak, "last_error", o.Err)
		e.notify(ctx, fmt.Sprintf("tidewarden: %d consecutive cycle failures, last: %s",
			streak, o.Err))
	}
}

// notify sends a best-effort operator notification through the executor.
func (e *Engine) notify(ctx context.Context, message string) {
	results := e.executor.Execute(ctx, []decision.Action{decision.NotifyAction(message)})
	if len(results) == 1 && !results[0].Success {
		e.logger.Warn("operator notification failed", "detail", results[0].Detail)
	}
}

// ResolveConfirmation applies an external approve/reject signal and, on
// approval, re-validates and executes the action immediately. The
// fresh safety check uses the latest snapshot: conditions may have
// changed since the action was queued, and a stale approval must not
// bypass the validator.
func (e *Engine) ResolveConfirmation(ctx context.Context, id string, approve bool) (gate.PendingConfirmation, *executor.ActionResult, error) {
	pc, err := e.gate.Confirmations().Resolve(id, approve, time.Now())
	if err != nil {
		return pc, nil, err
	}
	if !approve {
		e.logger.Info("confirmation rejected by operator", "confirmation_id", id)
		return pc, nil, nil
	}

	e.mu.Lock()
	snap := e.lastSnap
	state := e.modeState
	e.mu.Unlock()
	if snap == nil {
		return pc, nil, fmt.Errorf("no snapshot observed yet; cannot validate approved action")
	}

	verdicts := e.validator.Validate(snap, state, []decision.Action{pc.Action})
	if !verdicts[0].Allowed {
		e.logger.Warn("approved action vetoed on re-validation",
			"confirmation_id", id, "reason", verdicts[0].Reason)
		e.appendResolution(ctx, id, verdicts, nil)
		return pc, nil, fmt.Errorf("safety veto: %s", verdicts[0].Reason)
	}

	results := e.executor.Execute(ctx, []decision.Action{pc.Action})
	result := results[0]
	e.logger.Info("confirmed action executed",
		"confirmation_id", id, "kind", pc.Action.Kind, "success", result.Success)
	if e.metrics != nil && !result.Success {
		e.metrics.ActionFailures.Inc()
	}
	e.appendResolution(ctx, id, verdicts, results)
	return pc, &result, nil
}

// appendResolution records the outcome of an approved confirmation in
// the audit trail. Confirmed executions happen outside any cycle, so
// they get their own record keyed by resolution time.
func (e *Engine) appendResolution(ctx context.Context, id string, verdicts []safety.Verdict, results []executor.ActionResult) {
	rec := &store.DecisionRecord{
		CycleAt:          time.Now().UTC(),
		Verdicts:         verdicts,
		ActionResults:    results,
		CatalogVersion:   e.domain.CatalogVersion(),
		WhitelistVersion: e.gate.Whitelist().Version(),
		ConfirmationID:   id,
	}
	if err := e.store.Append(ctx, rec); err != nil {
		e.logger.Error("failed to persist confirmation resolution",
			"confirmation_id", id, "error", err)
	}
}
