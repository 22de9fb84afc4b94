// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/graphops/services/mutation/audit"
	"github.com/AleutianAI/graphops/services/mutation/authz"
	"github.com/AleutianAI/graphops/services/mutation/store"
	"github.com/AleutianAI/graphops/services/mutation/telemetry"
)

var engineTracer = otel.Tracer("mutation.engine")

// Config configures an Engine. Graph and Auditor are required; everything
// else has production defaults.
type Config struct {
	// Graph is the property-graph store collaborator. Required.
	Graph store.Graph

	// Auditor receives one record per invocation. Required.
	Auditor *audit.Logger

	// Logger for engine operations. Default: slog.Default().
	Logger *slog.Logger

	// Metrics is optional; nil disables metric recording.
	Metrics *telemetry.Metrics

	// BatchSize overrides the chunk size. Default: DefaultBatchSize.
	// Production deployments should not change this; it exists for tests.
	BatchSize int

	// Deadline overrides the chunked-execution deadline.
	// Default: DefaultDeadline.
	Deadline time.Duration
}

// Validate checks required collaborators.
func (c *Config) Validate() error {
	if c.Graph == nil {
		return errors.New("graph store is required")
	}
	if c.Auditor == nil {
		return errors.New("audit logger is required")
	}
	if c.BatchSize < 0 {
		return errors.New("batch size must be non-negative")
	}
	if c.Deadline < 0 {
		return errors.New("deadline must be non-negative")
	}
	return nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Deadline == 0 {
		c.Deadline = DefaultDeadline
	}
}

// Engine runs the full mutation pipeline: authorization gate, read-only
// planning, and confirmed chunked execution under a deadline, with one audit
// record per invocation on every path.
//
// Thread Safety: safe for concurrent use. Concurrent invocations are
// serialized only by the store's own transaction isolation.
type Engine struct {
	gate     *authz.Gate
	planner  *Planner
	executor *Executor
	auditor  *audit.Logger
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// New creates an engine from the config.
func New(cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	executor := NewExecutor(cfg.Graph, cfg.Logger, cfg.Metrics)
	executor.batchSize = cfg.BatchSize
	executor.deadline = cfg.Deadline

	if cfg.Metrics != nil {
		cfg.Auditor.OnFallback(func() {
			cfg.Metrics.RecordAuditFallback(context.Background())
		})
	}

	return &Engine{
		gate:     authz.NewGate(cfg.Auditor, cfg.Logger),
		planner:  NewPlanner(cfg.Graph, cfg.Logger),
		executor: executor,
		auditor:  cfg.Auditor,
		logger:   cfg.Logger.With(slog.String("component", "mutation_engine")),
		metrics:  cfg.Metrics,
	}, nil
}

// Run executes one invocation end to end.
//
// The returned Result is non-nil whenever planning succeeded, including for
// failed and timed-out executions, so callers can always tell how much of a
// destructive operation took effect. Timeout is reported in the result, not
// as an error. A chunk failure returns both the partial result and the
// error.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	start := time.Now()

	ctx, span := engineTracer.Start(ctx, "Engine.Run",
		trace.WithAttributes(
			attribute.String("kind", req.Kind.String()),
			attribute.Bool("dry_run", req.DryRun),
			attribute.Bool("confirm", req.Confirm),
		),
	)
	defer span.End()

	if !req.Kind.Valid() {
		err := fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
		e.auditOutcome(ctx, req, start, audit.OutcomeFailed, 0, err)
		span.SetStatus(codes.Error, "unknown kind")
		return nil, err
	}

	// Authorization runs before any other work. The gate writes the DENIED
	// record itself, so no second audit here.
	if err := e.gate.Authorize(ctx, req.RequestedBy, req.Kind.String(), req.Kind.RequiredPermission()); err != nil {
		e.observe(ctx, req, audit.OutcomeDenied, start)
		span.SetStatus(codes.Error, "denied")
		return nil, err
	}

	// The preview-before-commit contract is validated before any store
	// access: execution without confirmation affects nothing.
	if !req.DryRun && !req.Confirm {
		e.auditOutcome(ctx, req, start, audit.OutcomeFailed, 0, ErrConfirmationRequired)
		span.SetStatus(codes.Error, "confirmation missing")
		return nil, ErrConfirmationRequired
	}

	plan, err := e.planner.Plan(ctx, req)
	if err != nil {
		e.auditOutcome(ctx, req, start, audit.OutcomeFailed, 0, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "planning failed")
		return nil, err
	}

	if req.DryRun {
		e.auditPreview(ctx, req, start, plan)
		span.SetAttributes(attribute.Int64("planned_count", plan.TargetCount))
		span.SetStatus(codes.Ok, "previewed")
		return &Result{
			Kind:     req.Kind,
			DryRun:   true,
			Plan:     plan,
			Duration: time.Since(start),
		}, nil
	}

	exec := e.executor.Execute(ctx, req, plan)

	outcome := executionOutcome(exec)
	e.auditOutcome(ctx, req, start, outcome, exec.EntitiesAffected, exec.Err)

	result := &Result{
		Kind:      req.Kind,
		DryRun:    false,
		Plan:      plan,
		Execution: exec,
		Duration:  time.Since(start),
	}

	span.SetAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.Int64("entities_affected", exec.EntitiesAffected),
	)

	if exec.Status == StatusFailed {
		span.SetStatus(codes.Error, "execution failed")
		return result, exec.Err
	}
	span.SetStatus(codes.Ok, string(outcome))
	return result, nil
}

// executionOutcome maps an execution result onto the audit taxonomy. A
// failure with zero durable work is ROLLED_BACK ("nothing happened"); with
// prior committed chunks it is FAILED ("partial and durable").
func executionOutcome(exec *ExecutionResult) audit.Outcome {
	switch exec.Status {
	case StatusCompleted:
		return audit.OutcomeCommitted
	case StatusPartialTimeout:
		return audit.OutcomeTimedOut
	default:
		if exec.BatchesCompleted == 0 {
			return audit.OutcomeRolledBack
		}
		return audit.OutcomeFailed
	}
}

// auditPreview writes the PREVIEWED record, carrying the planned scope in
// the parameters so dry runs are reconstructible from the audit trail.
func (e *Engine) auditPreview(ctx context.Context, req Request, start time.Time, plan *Plan) {
	rec := e.newRecord(req, start, audit.OutcomePreviewed, 0, nil)
	rec.Parameters["planned_affected_count"] = plan.AffectedCount
	rec.Parameters["planned_target_count"] = plan.TargetCount
	rec.Parameters["already_satisfied"] = plan.AlreadySatisfied
	e.auditor.Record(ctx, rec)
	e.observe(ctx, req, audit.OutcomePreviewed, start)
}

// auditOutcome writes a terminal record for executed or refused invocations.
func (e *Engine) auditOutcome(ctx context.Context, req Request, start time.Time, outcome audit.Outcome, affected int64, cause error) {
	e.auditor.Record(ctx, e.newRecord(req, start, outcome, affected, cause))
	e.observe(ctx, req, outcome, start)
}

// newRecord builds the per-invocation audit record.
func (e *Engine) newRecord(req Request, start time.Time, outcome audit.Outcome, affected int64, cause error) audit.Record {
	rec := audit.NewRecord(req.Kind.String(), outcome)
	rec.RequestedBy = req.RequestedBy.UserID
	rec.Role = string(req.RequestedBy.Role)
	rec.Parameters = req.auditParameters()
	rec.DryRun = req.DryRun
	rec.AffectedCount = affected
	rec.DurationMs = time.Since(start).Milliseconds()
	if cause != nil {
		rec.ErrorDetail = cause.Error()
	}
	return rec
}

// observe records invocation metrics.
func (e *Engine) observe(ctx context.Context, req Request, outcome audit.Outcome, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordInvocation(ctx, req.Kind.String(), string(outcome), time.Since(start))
}
